package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/auth"
	"github.com/VinMeld/go-dm/internal/conversation"
	"github.com/VinMeld/go-dm/internal/fanout"
	"github.com/VinMeld/go-dm/internal/messaging"
	"github.com/VinMeld/go-dm/internal/models"
	"github.com/VinMeld/go-dm/internal/readstatus"
	"github.com/VinMeld/go-dm/internal/store"
	"github.com/VinMeld/go-dm/internal/transport"
)

// MaxUploadSize caps a single file upload.
const MaxUploadSize = 25 << 20

var errMalformedBody = apperrors.Validation("malformed request body")

type HandlerConfig struct {
	Service    *messaging.Service
	Aggregator *conversation.Aggregator
	Tracker    *readstatus.Tracker
	Publisher  fanout.Publisher
	Hub        *fanout.Hub
	Blobs      BlobStore
	Tokens     *auth.Tokens
	Logger     *slog.Logger

	Debug             bool
	RegistrationToken string
	PublicURL         string
}

type Handler struct {
	svc       *messaging.Service
	agg       *conversation.Aggregator
	tracker   *readstatus.Tracker
	publisher fanout.Publisher
	hub       *fanout.Hub
	blobs     BlobStore
	tokens    *auth.Tokens
	logger    *slog.Logger

	debug             bool
	registrationToken string
	publicURL         string
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		svc:               cfg.Service,
		agg:               cfg.Aggregator,
		tracker:           cfg.Tracker,
		publisher:         cfg.Publisher,
		hub:               cfg.Hub,
		blobs:             cfg.Blobs,
		tokens:            cfg.Tokens,
		logger:            cfg.Logger,
		debug:             cfg.Debug,
		registrationToken: cfg.RegistrationToken,
		publicURL:         strings.TrimRight(cfg.PublicURL, "/"),
	}
	if h.publisher == nil {
		h.publisher = fanout.Discard
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/ping", h.Ping)
	r.GET("/files/:key", h.DownloadFile)
	r.GET("/ws", h.RequireUser(true), h.ServeWS)

	internal := r.Group(transport.InternalPrefix, h.RequireRegistrationToken())
	internal.POST("/users", h.RegisterUser)
	internal.GET("/users", h.GetUsers)
	internal.DELETE("/users/:id", h.DeleteUser)

	api := r.Group(transport.APIPrefix, h.RequireUser(false))
	api.POST("/messages", h.Send)
	api.POST("/messages/file", h.SendFile)
	api.GET("/messages/:id", h.GetMessage)
	api.POST("/messages/:id/seen", h.MarkSeen)
	api.PATCH("/messages/:id/save", h.SetSaved)
	api.DELETE("/messages/:id", h.DeleteMessage)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:counterpart", h.FetchConversation)
	api.GET("/read-status", h.GetReadStatus)
	api.PUT("/read-status", h.PutReadStatus)
	api.PUT("/read-status/batch", h.PutReadStatusBatch)
	api.DELETE("/read-status/:counterpart", h.DeleteReadStatus)
	api.POST("/files", h.UploadFile)
}

// publish hands events to the fanout. Delivery is best effort and never
// fails the request that caused it.
func (h *Handler) publish(c *gin.Context, events []fanout.Event) {
	if len(events) == 0 {
		return
	}
	if err := h.publisher.Publish(c.Request.Context(), events...); err != nil {
		h.logger.Warn("event delivery failed", "count", len(events), "type", events[0].Type, "error", err)
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req models.RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	user, err := h.svc.RegisterUser(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// GetUsers resolves ?ref= (id or username) or lists the directory.
func (h *Handler) GetUsers(c *gin.Context) {
	if ref := c.Query("ref"); ref != "" {
		user, err := h.svc.ResolveUser(c.Request.Context(), ref)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
		return
	}
	users, err := h.svc.ListUsers(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) Send(c *gin.Context) {
	var req models.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	ack, events, err := h.svc.Send(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c, events)
	c.JSON(http.StatusCreated, ack)
}

func (h *Handler) SendFile(c *gin.Context) {
	var req models.SendFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	ack, events, err := h.svc.SendFile(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c, events)
	c.JSON(http.StatusCreated, ack)
}

func parseWindow(c *gin.Context) (store.Window, error) {
	var w store.Window
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return w, apperrors.ErrInvalidWindow
		}
		w.Limit = n
	}
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return w, apperrors.ErrInvalidWindow
		}
		w.Before = t
	}
	return w, nil
}

func (h *Handler) FetchConversation(c *gin.Context) {
	w, err := parseWindow(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	msgs, err := h.svc.FetchConversation(c.Request.Context(), currentUser(c), c.Param("counterpart"), w)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) ListConversations(c *gin.Context) {
	list, err := h.agg.ListConversations(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetMessage(c *gin.Context) {
	m, err := h.svc.GetMessage(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) MarkSeen(c *gin.Context) {
	m, events, err := h.svc.MarkSeen(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c, events)
	c.JSON(http.StatusOK, gin.H{
		"id":        m.ID,
		"isSeen":    m.IsSeen,
		"seenAt":    m.SeenAt,
		"expiresAt": m.ExpiresAt,
	})
}

func (h *Handler) SetSaved(c *gin.Context) {
	var req models.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	if req.Saved == nil {
		h.fail(c, apperrors.ErrMissingSaved)
		return
	}
	state, events, err := h.svc.SetSaved(c.Request.Context(), currentUser(c), c.Param("id"), *req.Saved)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c, events)
	c.JSON(http.StatusOK, state)
}

func (h *Handler) GetReadStatus(c *gin.Context) {
	cursors, err := h.tracker.Query(c.Request.Context(), currentUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cursors)
}

func (h *Handler) PutReadStatus(c *gin.Context) {
	var req models.ReadStatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	rs, err := h.tracker.Update(c.Request.Context(), currentUser(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

func (h *Handler) PutReadStatusBatch(c *gin.Context) {
	var req models.ReadStatusBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errMalformedBody)
		return
	}
	result, err := h.tracker.BatchUpdate(c.Request.Context(), currentUser(c), req.Updates)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) DeleteReadStatus(c *gin.Context) {
	if err := h.tracker.Delete(c.Request.Context(), currentUser(c), c.Param("counterpart")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadFile stores the multipart "file" field and returns the metadata
// to send with POST /api/messages/file.
func (h *Handler) UploadFile(c *gin.Context) {
	if h.blobs == nil {
		h.fail(c, apperrors.ErrBlobStoreUnavailable(errors.New("no blob store configured")))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		h.fail(c, apperrors.Validation("file is required"))
		return
	}
	if header.Size > MaxUploadSize {
		h.fail(c, apperrors.Validation("file exceeds the maximum upload size"))
		return
	}
	f, err := header.Open()
	if err != nil {
		h.fail(c, apperrors.Validation("file is unreadable"))
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, apperrors.Validation("file is unreadable"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(content)
	}
	key := uuid.NewString()
	if err := h.blobs.Save(c.Request.Context(), key, content, mimeType); err != nil {
		h.fail(c, apperrors.ErrBlobStoreUnavailable(err))
		return
	}
	h.logger.Info("file uploaded", "key", key, "user", currentUser(c), "size", len(content))

	c.JSON(http.StatusCreated, models.FileMetadata{
		FileName:    header.Filename,
		FileSize:    int64(len(content)),
		MimeType:    mimeType,
		FileURL:     h.publicURL + "/files/" + key,
		StoragePath: key,
	})
}

// DownloadFile serves a stored object by key while a visible file message
// references it. Keys are random and only handed to the two participants.
func (h *Handler) DownloadFile(c *gin.Context) {
	if h.blobs == nil {
		h.fail(c, apperrors.NotFound("file not found"))
		return
	}
	key := c.Param("key")
	ok, err := h.svc.FileAvailable(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		h.fail(c, apperrors.NotFound("file not found"))
		return
	}
	content, err := h.blobs.Get(c.Request.Context(), key)
	if errors.Is(err, ErrBlobNotFound) {
		h.fail(c, apperrors.NotFound("file not found"))
		return
	}
	if err != nil {
		h.fail(c, apperrors.ErrBlobStoreUnavailable(err))
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(content), content)
}

func (h *Handler) ServeWS(c *gin.Context) {
	if err := h.hub.ServeWS(c.Writer, c.Request, currentUser(c)); err != nil {
		h.logger.Warn("websocket upgrade failed", "user", currentUser(c), "error", err)
	}
}
