package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance/internal/apperr"
	"attendance/internal/timetable"
)

func classParam(c *gin.Context) timetable.ClassKey {
	return timetable.ClassKey{Branch: c.Param("branch"), Semester: c.Param("semester"), Section: c.Param("section")}.Normalize()
}

// ReplaceTimetable swaps a class timetable wholesale.
func (h *Handler) ReplaceTimetable(c *gin.Context) {
	var t timetable.Timetable
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.timetables.Replace(c.Request.Context(), t); err != nil {
		h.fail(c, err)
		return
	}
	stored, err := h.timetables.Timetable(c.Request.Context(), t.Class)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *Handler) GetTimetable(c *gin.Context) {
	class := classParam(c)
	t, err := h.timetables.Timetable(c.Request.Context(), class)
	if err != nil {
		h.fail(c, err)
		return
	}
	if t == nil {
		h.fail(c, apperr.NotFound("no timetable for %s", class))
		return
	}
	c.JSON(http.StatusOK, t)
}

// CurrentPeriod reports the running period. No period is a normal answer, not an error.
func (h *Handler) CurrentPeriod(c *gin.Context) {
	p, ok, err := h.timetables.CurrentPeriod(c.Request.Context(), classParam(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false, "kind": apperr.KindNoActivePeriod})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "period": p})
}

func (h *Handler) NextPeriod(c *gin.Context) {
	p, ok, err := h.timetables.NextPeriod(c.Request.Context(), classParam(c), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"found": true, "period": p})
}
