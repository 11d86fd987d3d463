package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attendance/internal/apperr"
)

const maxHistoryLimit = 500

func (h *Handler) History(c *gin.Context) {
	id := c.Param("studentId")
	if !allowed(c, id) {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.fail(c, apperr.Malformed("limit must be a non-negative integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	days, err := h.sessions.GetHistory(c.Request.Context(), id, c.Query("from"), c.Query("to"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": id, "days": days})
}

func (h *Handler) Calendar(c *gin.Context) {
	id := c.Param("studentId")
	if !allowed(c, id) {
		return
	}
	year, yerr := strconv.Atoi(c.Param("year"))
	month, merr := strconv.Atoi(c.Param("month"))
	if yerr != nil || merr != nil {
		h.fail(c, apperr.Malformed("year and month must be integers"))
		return
	}
	days, err := h.sessions.GetCalendarMonth(c.Request.Context(), id, year, month)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": id, "year": year, "month": month, "days": days})
}

// Performance returns the stored summary. A student without records has none.
func (h *Handler) Performance(c *gin.Context) {
	id := c.Param("studentId")
	if !allowed(c, id) {
		return
	}
	sum, err := h.performance.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if sum == nil {
		h.fail(c, apperr.NotFound("no attendance history for %s", id))
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum, "at_risk": sum.IsAtRisk()})
}
