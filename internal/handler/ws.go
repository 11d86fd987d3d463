package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attendance/internal/auth"
)

// WebSocket upgrades to the live event stream. Browsers cannot set headers on the upgrade,
// so the access token may come as ?token=. Students only ever subscribe to themselves;
// staff may watch one student or, with no student_id, everyone.
func (h *Handler) WebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	p, err := auth.Authenticate(token, h.auth.SigningKey, h.auth.Issuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	studentID := c.Query("student_id")
	own := p.Role() == auth.RoleStudent
	if own {
		studentID = p.Subject()
	}
	// Only the student's own device holds the session's socket; a staff watcher closing its
	// tab must not pause the student.
	h.hub.ServeWS(c.Writer, c.Request, studentID, own)
}
