package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/VinMeld/go-dm/internal/models"
)

// KeySize is the length of the process-wide content key.
const KeySize = chacha20poly1305.KeySize

var (
	// ErrMissingKey is returned when no content key is configured.
	ErrMissingKey = errors.New("crypto: message key is not configured")
	// ErrIntegrity is returned when an envelope fails authentication.
	ErrIntegrity = errors.New("crypto: envelope failed integrity check")
)

// Gateway seals text content into envelopes and opens them again. It
// holds one symmetric key for the whole process and is safe for
// concurrent use.
type Gateway struct {
	aead cipher.AEAD
}

// NewGateway builds a Gateway from a 32-byte key.
func NewGateway(key []byte) (*Gateway, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: message key must be %d bytes, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Gateway{aead: aead}, nil
}

// ParseKey decodes a key given as base64 (standard or URL alphabet) or hex.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrMissingKey
	}
	if len(encoded) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, fmt.Errorf("crypto: message key must be %d bytes, got %d", KeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, errors.New("crypto: message key is neither base64 nor hex")
}

// GenerateKey generates a random content key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext under a fresh random IV.
func (g *Gateway) Seal(plaintext []byte) (models.Envelope, error) {
	iv := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return models.Envelope{}, fmt.Errorf("crypto: generating iv: %w", err)
	}

	sealed := g.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - g.aead.Overhead()
	return models.Envelope{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Open reverses Seal. Any tampering or a wrong key yields ErrIntegrity.
func (g *Gateway) Open(env models.Envelope) ([]byte, error) {
	if len(env.IV) != g.aead.NonceSize() || len(env.AuthTag) != g.aead.Overhead() {
		return nil, ErrIntegrity
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := g.aead.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// RevealMessage fills m.Content from its envelope. File messages carry no
// envelope and only get their display fallback.
func (g *Gateway) RevealMessage(m *models.Message) error {
	if m.Kind == models.KindFile {
		if m.Content == "" && m.File != nil {
			m.Content = FileLabel(m.File)
		}
		return nil
	}
	plaintext, err := g.Open(m.Envelope)
	if err != nil {
		return err
	}
	m.Content = string(plaintext)
	return nil
}

// FileLabel is the unencrypted content shown for a file message,
// "<fileType>: <fileName>".
func FileLabel(file *models.FileMetadata) string {
	return fileType(file.MimeType) + ": " + file.FileName
}

func fileType(mimeType string) string {
	major, _, _ := strings.Cut(strings.ToLower(mimeType), "/")
	switch major {
	case "image":
		return "Image"
	case "video":
		return "Video"
	case "audio":
		return "Audio"
	default:
		return "File"
	}
}
