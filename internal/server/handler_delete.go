package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DeleteMessage removes a file message and its object if the user is the
// sender or recipient.
func (h *Handler) DeleteMessage(c *gin.Context) {
	user := currentUser(c)
	events, err := h.svc.DeleteMessage(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.publish(c, events)
	c.Status(http.StatusNoContent)
}

// DeleteUser runs the account cascade. Counterparts are notified even
// when a step failed.
func (h *Handler) DeleteUser(c *gin.Context) {
	id := c.Param("id")
	report, events, err := h.svc.DeleteAccount(c.Request.Context(), id)
	h.publish(c, events)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("user deleted", "id", id, "messages", report.Messages)
	c.JSON(http.StatusOK, report)
}
