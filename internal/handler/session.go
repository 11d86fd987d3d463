package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance/internal/auth"
	"attendance/internal/session"
)

type studentRequest struct {
	StudentID string `json:"student_id"`
	BSSID     string `json:"bssid"`
}

// StartDay opens or resumes the caller's session. Student callers get their id and class from the token.
func (h *Handler) StartDay(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if p, ok := auth.PrincipalFrom(c); ok {
		if st, ok := p.(auth.Student); ok {
			if req.StudentID == "" {
				req.StudentID = st.ID
			}
			if req.Class.Branch == "" {
				req.Class = st.Class
			}
			if req.StudentName == "" {
				req.StudentName = st.Name
			}
		}
	}
	if !allowed(c, req.StudentID) {
		return
	}
	res, err := h.sessions.StartDay(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// Heartbeat credits presence. No running lecture is answered with 200 and no_active_period set.
func (h *Handler) Heartbeat(c *gin.Context) {
	var req session.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.StudentID = studentOr(c, req.StudentID)
	if !allowed(c, req.StudentID) {
		return
	}
	res, err := h.sessions.Heartbeat(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) EndDay(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.StudentID = studentOr(c, req.StudentID)
	if !allowed(c, req.StudentID) {
		return
	}
	s, err := h.sessions.EndDay(c.Request.Context(), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "today": s.Today()})
}

func (h *Handler) Disconnect(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.StudentID = studentOr(c, req.StudentID)
	if !allowed(c, req.StudentID) {
		return
	}
	s, err := h.sessions.Disconnect(c.Request.Context(), req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

func (h *Handler) Reconnect(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.StudentID = studentOr(c, req.StudentID)
	if !allowed(c, req.StudentID) {
		return
	}
	s, connected, err := h.sessions.Reconnect(c.Request.Context(), req.StudentID, req.BSSID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "connected": connected})
}

func (h *Handler) Status(c *gin.Context) {
	id := c.Param("studentId")
	if !allowed(c, id) {
		return
	}
	view, err := h.sessions.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Timer(c *gin.Context) {
	id := c.Param("studentId")
	if !allowed(c, id) {
		return
	}
	t, err := h.sessions.GetTimer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ListActive lists today's active sessions, optionally filtered by branch and semester.
func (h *Handler) ListActive(c *gin.Context) {
	list, err := h.sessions.ListActive(c.Request.Context(), c.Query("branch"), c.Query("semester"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}
