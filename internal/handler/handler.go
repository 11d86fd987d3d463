package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/auth"
	"attendance/internal/broadcast"
	"attendance/internal/performance"
	"attendance/internal/session"
	"attendance/internal/timetable"
)

// AuthConfig carries token signing settings.
type AuthConfig struct {
	Issuer     string
	SigningKey string
	AdminKey   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps are the engine components the HTTP surface adapts.
type Deps struct {
	Sessions    *session.Manager
	Timetables  *timetable.Resolver
	Recorder    *attendance.Recorder
	Performance *performance.Aggregator
	Hub         *broadcast.Hub
	Auth        AuthConfig
	// Checks are reported by /healthz; any false check makes it 503.
	Checks map[string]func(context.Context) bool
	Clock  func() time.Time
	Log    *zap.Logger
}

// Handler serves the attendance API over gin.
type Handler struct {
	sessions    *session.Manager
	timetables  *timetable.Resolver
	recorder    *attendance.Recorder
	performance *performance.Aggregator
	hub         *broadcast.Hub
	auth        AuthConfig
	checks      map[string]func(context.Context) bool
	now         func() time.Time
	log         *zap.Logger
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handler{
		sessions:    d.Sessions,
		timetables:  d.Timetables,
		recorder:    d.Recorder,
		performance: d.Performance,
		hub:         d.Hub,
		auth:        d.Auth,
		checks:      d.Checks,
		now:         d.Clock,
		log:         d.Log,
	}
}

// Register mounts every route. mw runs on authenticated routes after the bearer check.
func (h *Handler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.POST("/auth/token", auth.AdminKey(h.auth.AdminKey), h.IssueToken)
	v1.POST("/auth/refresh", h.RefreshToken)
	v1.GET("/ws", h.WebSocket)

	authed := v1.Group("", append([]gin.HandlerFunc{auth.Bearer(h.auth.SigningKey, h.auth.Issuer)}, mw...)...)
	staff := auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin)

	authed.PUT("/timetables", auth.RequireRole(auth.RoleAdmin), h.ReplaceTimetable)
	authed.GET("/timetables/:branch/:semester/:section", h.GetTimetable)
	authed.GET("/timetables/:branch/:semester/:section/current", h.CurrentPeriod)
	authed.GET("/timetables/:branch/:semester/:section/next", h.NextPeriod)

	authed.POST("/sessions/start", h.StartDay)
	authed.POST("/sessions/heartbeat", h.Heartbeat)
	authed.POST("/sessions/end", h.EndDay)
	authed.POST("/sessions/disconnect", h.Disconnect)
	authed.POST("/sessions/reconnect", h.Reconnect)
	authed.GET("/sessions/active", staff, h.ListActive)
	authed.GET("/sessions/:studentId/status", h.Status)
	authed.GET("/sessions/:studentId/timer", h.Timer)

	authed.GET("/students/:studentId/history", h.History)
	authed.GET("/students/:studentId/calendar/:year/:month", h.Calendar)
	authed.GET("/students/:studentId/performance", h.Performance)

	authed.POST("/teacher/override", staff, h.Override)
	authed.GET("/teacher/:teacherId/current-lecture", staff, h.CurrentLecture)
	authed.GET("/reports/period", staff, h.PeriodReport)
}

// Healthz reports dependency health.
func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// statusOf maps engine error kinds to HTTP status codes.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNoActivePeriod:
		return http.StatusOK
	case apperr.KindDeviceConflict:
		return http.StatusConflict
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable
	case apperr.KindMalformedInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && kind == apperr.KindPersistence {
		// Storage causes stay in the log.
		msg = ae.Message
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindMalformedInput})
}

// allowed aborts with 403 unless the caller may act for the student.
func allowed(c *gin.Context, studentID string) bool {
	p, ok := auth.PrincipalFrom(c)
	if ok && auth.CanActFor(p, studentID) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	return false
}

// studentOr fills an empty student id from a student caller.
func studentOr(c *gin.Context, id string) string {
	if id != "" {
		return id
	}
	if p, ok := auth.PrincipalFrom(c); ok && p.Role() == auth.RoleStudent {
		return p.Subject()
	}
	return ""
}
