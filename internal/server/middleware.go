package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/VinMeld/go-dm/internal/apperrors"
	"github.com/VinMeld/go-dm/internal/transport"
)

const userContextKey = "dm.user"

// RequireUser authenticates the bearer token and stores the user id on
// the context. With allowQuery the token may also come from the "token"
// query parameter, which browsers need for websocket upgrades.
func (h *Handler) RequireUser(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			h.fail(c, apperrors.ErrUnauthenticated)
			return
		}
		userID, err := h.tokens.Verify(token)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// RequireRegistrationToken guards the account-service endpoints. An empty
// configured token disables the check.
func (h *Handler) RequireRegistrationToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.registrationToken == "" {
			c.Next()
			return
		}
		got := c.GetHeader(transport.RegistrationTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.registrationToken)) != 1 {
			h.logger.Warn("invalid registration token", "path", c.FullPath())
			h.fail(c, apperrors.ErrInvalidRegistrant)
			return
		}
		c.Next()
	}
}
