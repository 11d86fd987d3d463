package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/auth"
	"attendance/internal/session"
	"attendance/internal/timetable"
)

// Override applies a teacher's manual mark. Teachers always act under their own id.
func (h *Handler) Override(c *gin.Context) {
	var req session.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if p, ok := auth.PrincipalFrom(c); ok && p.Role() == auth.RoleTeacher {
		req.TeacherID = p.Subject()
	}
	rec, err := h.sessions.TeacherOverride(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) CurrentLecture(c *gin.Context) {
	teacherID := c.Param("teacherId")
	if p, _ := auth.PrincipalFrom(c); p != nil && p.Role() == auth.RoleTeacher && p.Subject() != teacherID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	lec, err := h.sessions.CurrentLecture(c.Request.Context(), teacherID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lec)
}

// PeriodReport lists one period's records for a class. The date defaults to today.
func (h *Handler) PeriodReport(c *gin.Context) {
	class := timetable.ClassKey{Branch: c.Query("branch"), Semester: c.Query("semester"), Section: c.Query("section")}.Normalize()
	if class.Branch == "" || class.Semester == "" {
		h.fail(c, apperr.Malformed("branch and semester are required"))
		return
	}
	period, err := strconv.Atoi(c.Query("period"))
	if err != nil || period < 1 {
		h.fail(c, apperr.Malformed("period must be a positive integer"))
		return
	}
	date := c.Query("date")
	if date == "" {
		date = h.now().In(h.timetables.Location()).Format(attendance.DateLayout)
	}
	report, err := h.recorder.PeriodReport(c.Request.Context(), class, date, period)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
