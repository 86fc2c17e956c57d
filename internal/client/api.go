package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/VinMeld/go-dm/internal/messaging"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/transport"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// API talks to a dm-server on behalf of one user.
type API struct {
	BaseURL           string
	Token             string
	RegistrationToken string
	HTTP              *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any, internal bool) error {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if internal {
		if a.RegistrationToken != "" {
			req.Header.Set(transport.RegistrationTokenHeader, a.RegistrationToken)
		}
	} else if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw, err = io.ReadAll(resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out any, internal bool) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return a.do(ctx, method, path, body, contentType, out, internal)
}

func (a *API) Ping(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/ping", nil, "", nil, false)
}

func (a *API) Send(ctx context.Context, to, content string) (models.SendAck, error) {
	var ack models.SendAck
	err := a.doJSON(ctx, http.MethodPost, transport.APIPrefix+"/messages",
		models.SendRequest{ReceiverRef: to, Content: content}, &ack, false)
	return ack, err
}

// Upload stores the file at path and returns its metadata.
func (a *API) Upload(ctx context.Context, path string) (models.FileMetadata, error) {
	var meta models.FileMetadata
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return meta, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return meta, err
	}
	if err := w.Close(); err != nil {
		return meta, err
	}
	err = a.do(ctx, http.MethodPost, transport.APIPrefix+"/files", &buf, w.FormDataContentType(), &meta, false)
	return meta, err
}

func (a *API) SendFile(ctx context.Context, to string, meta models.FileMetadata) (models.SendAck, error) {
	var ack models.SendAck
	err := a.doJSON(ctx, http.MethodPost, transport.APIPrefix+"/messages/file",
		models.SendFileRequest{ReceiverRef: to, File: meta}, &ack, false)
	return ack, err
}

func (a *API) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var list []models.ConversationSummary
	err := a.doJSON(ctx, http.MethodGet, transport.APIPrefix+"/conversations", nil, &list, false)
	return list, err
}

// Messages fetches a window of the conversation with counterpart. Zero
// limit and before use the server defaults.
func (a *API) Messages(ctx context.Context, counterpart string, limit int, before time.Time) ([]models.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := transport.APIPrefix + "/conversations/" + url.PathEscape(counterpart)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var msgs []models.Message
	err := a.doJSON(ctx, http.MethodGet, path, nil, &msgs, false)
	return msgs, err
}

func (a *API) Message(ctx context.Context, id string) (models.Message, error) {
	var m models.Message
	err := a.doJSON(ctx, http.MethodGet, transport.APIPrefix+"/messages/"+url.PathEscape(id), nil, &m, false)
	return m, err
}

func (a *API) MarkSeen(ctx context.Context, id string) (models.Message, error) {
	var m models.Message
	err := a.doJSON(ctx, http.MethodPost, transport.APIPrefix+"/messages/"+url.PathEscape(id)+"/seen", nil, &m, false)
	return m, err
}

func (a *API) SetSaved(ctx context.Context, id string, saved bool) (models.SaveState, error) {
	var state models.SaveState
	err := a.doJSON(ctx, http.MethodPatch, transport.APIPrefix+"/messages/"+url.PathEscape(id)+"/save",
		models.SaveRequest{Saved: &saved}, &state, false)
	return state, err
}

func (a *API) DeleteMessage(ctx context.Context, id string) error {
	return a.doJSON(ctx, http.MethodDelete, transport.APIPrefix+"/messages/"+url.PathEscape(id), nil, nil, false)
}

func (a *API) ReadStatus(ctx context.Context) (map[string]models.ReadCursor, error) {
	cursors := make(map[string]models.ReadCursor)
	err := a.doJSON(ctx, http.MethodGet, transport.APIPrefix+"/read-status", nil, &cursors, false)
	return cursors, err
}

func (a *API) SetReadStatus(ctx context.Context, u models.ReadStatusUpdate) (models.ReadStatus, error) {
	var rs models.ReadStatus
	err := a.doJSON(ctx, http.MethodPut, transport.APIPrefix+"/read-status", u, &rs, false)
	return rs, err
}

func (a *API) BatchReadStatus(ctx context.Context, updates []models.ReadStatusUpdate) (models.ReadStatusBatchResult, error) {
	var result models.ReadStatusBatchResult
	err := a.doJSON(ctx, http.MethodPut, transport.APIPrefix+"/read-status/batch",
		models.ReadStatusBatchRequest{Updates: updates}, &result, false)
	return result, err
}

func (a *API) DeleteReadStatus(ctx context.Context, counterpart string) error {
	return a.doJSON(ctx, http.MethodDelete, transport.APIPrefix+"/read-status/"+url.PathEscape(counterpart), nil, nil, false)
}

func (a *API) RegisterUser(ctx context.Context, id, username string) (models.User, error) {
	var u models.User
	err := a.doJSON(ctx, http.MethodPost, transport.InternalPrefix+"/users",
		models.RegisterUserRequest{ID: id, Username: username}, &u, true)
	return u, err
}

func (a *API) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := a.doJSON(ctx, http.MethodGet, transport.InternalPrefix+"/users", nil, &users, true)
	return users, err
}

func (a *API) DeleteUser(ctx context.Context, id string) (messaging.CascadeReport, error) {
	var report messaging.CascadeReport
	err := a.doJSON(ctx, http.MethodDelete, transport.InternalPrefix+"/users/"+url.PathEscape(id), nil, &report, true)
	return report, err
}

// Download fetches a stored object by its storage key.
func (a *API) Download(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := a.do(ctx, http.MethodGet, "/files/"+url.PathEscape(key), nil, "", &content, false)
	return content, err
}
