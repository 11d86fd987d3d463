package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/broadcast"
	"attendance/internal/metrics"
	"attendance/internal/timetable"
)

// Timetables is the read side of the timetable resolver the engine needs.
type Timetables interface {
	Location() *time.Location
	Timetable(ctx context.Context, class timetable.ClassKey) (*timetable.Timetable, error)
	CurrentPeriod(ctx context.Context, class timetable.ClassKey, at time.Time) (timetable.ScheduledPeriod, bool, error)
	PeriodsForDay(ctx context.Context, class timetable.ClassKey, day timetable.Day) ([]timetable.ScheduledPeriod, error)
	TeacherPeriod(ctx context.Context, teacherID string, at time.Time) (timetable.ScheduledPeriod, timetable.ClassKey, bool, error)
}

// Recorder persists per-period attendance.
type Recorder interface {
	MarkPeriodAttendance(ctx context.Context, m attendance.Mark) (attendance.Record, error)
	Find(ctx context.Context, key attendance.Key) (*attendance.Record, error)
	Records(ctx context.Context, studentID string, q attendance.Query) ([]attendance.Record, error)
	PeriodReport(ctx context.Context, class timetable.ClassKey, date string, periodNumber int) (attendance.Report, error)
}

// Config tunes the engine.
type Config struct {
	// PresenceThreshold is the attendance percent at or above which a finished lecture is present.
	PresenceThreshold int
	// DefaultTimerSeconds arms the countdown when a day starts outside any period.
	DefaultTimerSeconds int
	// AuthorizedBSSIDs lists accepted access points. Empty means the BSSID seen at start-day.
	AuthorizedBSSIDs []string
	// StaleAfter is how long an active session may go without a heartbeat before Sweep pauses it.
	StaleAfter time.Duration
	// TimerTick is the countdown goroutine period. Zero disables the goroutines; callers drive Tick.
	TimerTick time.Duration
}

// Deps are the engine's collaborators. Clock, Log, Metrics and Broadcaster may be nil.
type Deps struct {
	Store       Store
	Timetables  Timetables
	Recorder    Recorder
	Broadcaster broadcast.Broadcaster
	Clock       Clock
	Log         *zap.Logger
	Metrics     *metrics.Engine
	// Locker serializes a student across processes sharing Store. Nil keeps locking in-process,
	// which is only correct while a single process writes the store.
	Locker Locker
}

// Manager owns the one-session-per-student invariant and drives every presence transition.
// Mutations for one student are serialized; different students proceed in parallel.
type Manager struct {
	store       Store
	timetables  Timetables
	recorder    Recorder
	broadcaster broadcast.Broadcaster
	clock       Clock
	log         *zap.Logger
	metrics     *metrics.Engine
	cfg         Config
	validate    *validator.Validate
	locks       *keyedMutex
	locker      Locker

	timersMu  sync.Mutex
	timers    map[string]timerHandle
	timerSeq  uint64
	timersCtx context.Context
	stopAll   context.CancelFunc
}

// NewManager wires the engine.
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if cfg.PresenceThreshold <= 0 || cfg.PresenceThreshold > 100 {
		cfg.PresenceThreshold = 83
	}
	if cfg.DefaultTimerSeconds <= 0 {
		cfg.DefaultTimerSeconds = 600
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       deps.Store,
		timetables:  deps.Timetables,
		recorder:    deps.Recorder,
		broadcaster: deps.Broadcaster,
		clock:       deps.Clock,
		log:         deps.Log,
		metrics:     deps.Metrics,
		cfg:         cfg,
		validate:    validator.New(),
		locks:       newKeyedMutex(),
		locker:      deps.Locker,
		timers:      make(map[string]timerHandle),
		timersCtx:   ctx,
		stopAll:     cancel,
	}
}

// Close stops every countdown goroutine.
func (m *Manager) Close() { m.stopAll() }

// StartRequest is the first presence signal of a student's day.
type StartRequest struct {
	StudentID   string             `json:"student_id" validate:"required"`
	StudentName string             `json:"student_name"`
	Class       timetable.ClassKey `json:"class"`
	DeviceID    string             `json:"device_id" validate:"required"`
	BSSID       string             `json:"bssid"`
}

// StartResult describes what StartDay did.
type StartResult struct {
	Session           Session                    `json:"session"`
	Created           bool                       `json:"created"`
	DeviceTransferred bool                       `json:"device_transferred"`
	CurrentPeriod     *timetable.ScheduledPeriod `json:"current_period,omitempty"`
}

// StartDay creates today's session, resumes an existing one, or transfers it to a new device.
// A session left over from an earlier date is finalized and replaced, never merged.
func (m *Manager) StartDay(ctx context.Context, req StartRequest) (StartResult, error) {
	req.Class = req.Class.Normalize()
	if err := m.validate.Struct(req); err != nil {
		return StartResult{}, apperr.Malformed("invalid start-day request: %v", err)
	}
	unlock, err := m.lock(ctx, req.StudentID)
	if err != nil {
		return StartResult{}, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.store.Get(ctx, req.StudentID)
	if err != nil {
		m.metrics.Failure("session_get")
		return StartResult{}, apperr.Persistence("load session", err)
	}
	if cur != nil && cur.Date != m.dateOf(now) {
		if _, err := m.retire(ctx, cur, now); err != nil {
			return StartResult{}, err
		}
		m.log.Info("stale session discarded", zap.String("student_id", cur.StudentID), zap.String("date", cur.Date))
		cur = nil
	}

	period, inPeriod, err := m.timetables.CurrentPeriod(ctx, req.Class, now)
	if err != nil {
		return StartResult{}, err
	}
	res := StartResult{}
	if inPeriod {
		p := period
		res.CurrentPeriod = &p
	}

	if cur == nil {
		next, err := m.newSession(ctx, req, now, period, inPeriod)
		if err != nil {
			return StartResult{}, err
		}
		if _, err := m.finalize(ctx, &next, m.due(&next, now), now); err != nil {
			return StartResult{}, err
		}
		next.rollup()
		if err := m.save(ctx, next); err != nil {
			return StartResult{}, err
		}
		m.metrics.Event("start-day")
		m.log.Info("session started",
			zap.String("student_id", next.StudentID), zap.String("class", next.Class.String()),
			zap.Int("lectures", len(next.Lectures)))
		m.publish(ctx, broadcast.NewEvent(broadcast.SessionStarted, next.StudentID, next))
		m.syncTimer(&next)
		res.Session, res.Created = next, true
		return res, nil
	}

	next := cur.Clone()
	oldSocket := cur.SocketID
	transferred := cur.DeviceID != "" && cur.DeviceID != req.DeviceID
	if transferred {
		next.DeviceID = req.DeviceID
		next.SocketID = ""
	}
	if req.StudentName != "" {
		next.StudentName = req.StudentName
	}
	if next.BSSID == "" {
		next.BSSID = req.BSSID
	}
	next.Timer.advance(now)
	switch {
	case !next.IsActive:
		next.IsActive = true
		next.EndedAt = nil
		m.resume(&next, now, period, inPeriod)
	case next.Paused() && req.BSSID != "" && m.authorized(&next, req.BSSID):
		m.resume(&next, now, period, inPeriod)
	}
	next.LastActivity = now
	m.refresh(&next, now, now)
	if _, err := m.finalize(ctx, &next, m.due(&next, now), now); err != nil {
		return StartResult{}, err
	}
	next.rollup()

	if err := m.save(ctx, next); err != nil {
		return StartResult{}, err
	}
	// The old device is only told to leave once the session names the new one.
	if transferred {
		m.stopTimer(req.StudentID)
		if oldSocket != "" {
			logout := broadcast.NewEvent(broadcast.ForceLogout, req.StudentID, map[string]string{"reason": "device transfer"})
			logout.Target = oldSocket
			m.publish(ctx, logout)
			m.metrics.ForceLogouts.Inc()
		}
		m.log.Info("device transfer",
			zap.String("student_id", req.StudentID), zap.String("from", cur.DeviceID), zap.String("to", req.DeviceID))
	}
	m.metrics.Event("start-day")
	m.syncTimer(&next)
	res.Session, res.DeviceTransferred = next, transferred
	return res, nil
}

func (m *Manager) newSession(ctx context.Context, req StartRequest, now time.Time, period timetable.ScheduledPeriod, inPeriod bool) (Session, error) {
	local := now.In(m.loc())
	day := timetable.DayOf(local)
	periods, err := m.timetables.PeriodsForDay(ctx, req.Class, day)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		StudentID:    req.StudentID,
		StudentName:  req.StudentName,
		Class:        req.Class,
		Date:         m.dateOf(now),
		DayOfWeek:    day,
		Lectures:     make([]LecturePresence, 0, len(periods)),
		IsActive:     true,
		DeviceID:     req.DeviceID,
		BSSID:        req.BSSID,
		StartedAt:    now,
		LastActivity: now,
	}
	for _, p := range periods {
		s.Lectures = append(s.Lectures, LecturePresence{
			PeriodNumber: p.PeriodNumber,
			Subject:      p.Subject,
			TeacherID:    p.TeacherID,
			Room:         p.Room,
			StartTime:    p.StartTime,
			EndTime:      p.EndTime,
			Status:       LecturePending,
		})
	}
	s.Timer = m.arm(now, period, inPeriod)
	m.refresh(&s, now, now)
	return s, nil
}

// EndDay checks the student out: the ongoing lecture is decided on the time attended so far
// and the countdown stops. Later lectures stay pending until a sweep finalizes them.
func (m *Manager) EndDay(ctx context.Context, studentID string) (Session, error) {
	if studentID == "" {
		return Session{}, apperr.Malformed("student id required")
	}
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return Session{}, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.loadToday(ctx, studentID, now)
	if err != nil {
		return Session{}, err
	}
	if !cur.IsActive {
		return *cur, nil
	}
	next := cur.Clone()
	next.Timer.advance(now)
	next.Timer.IsRunning = false
	next.pause(now)
	m.refresh(&next, now, now)
	finalized, err := m.finalize(ctx, &next, m.started(&next, now), now)
	if err != nil {
		return Session{}, err
	}
	next.IsActive = false
	next.EndedAt = &now
	next.LastActivity = now
	next.rollup()
	if err := m.save(ctx, next); err != nil {
		return Session{}, err
	}
	m.stopTimer(studentID)
	m.metrics.Event("end-day")
	m.log.Info("session ended", zap.String("student_id", studentID), zap.Int("present", next.TotalPresent))
	m.publishUpdate(ctx, &next, finalized)
	return next, nil
}

// retire finalizes every undecided lecture of a session from an earlier date, crediting presence
// only up to the last sign of life.
// The returned copy is closed: inactive, paused at the horizon and with its counters rolled up.
func (m *Manager) retire(ctx context.Context, s *Session, now time.Time) (Session, error) {
	m.stopTimer(s.StudentID)
	next := s.Clone()
	horizon := next.LastActivity
	if next.EndedAt != nil && next.EndedAt.Before(horizon) {
		horizon = *next.EndedAt
	}
	m.refresh(&next, now, horizon)
	if _, err := m.finalize(ctx, &next, m.due(&next, now), now); err != nil {
		return Session{}, err
	}
	next.Timer.IsRunning = false
	next.IsActive = false
	next.pause(horizon)
	next.rollup()
	return next, nil
}

func (m *Manager) now() time.Time { return m.clock.Now().In(m.loc()) }

func (m *Manager) loc() *time.Location { return m.timetables.Location() }

func (m *Manager) dateOf(t time.Time) string { return t.In(m.loc()).Format(attendance.DateLayout) }

// loadToday returns today's session or NotFound.
func (m *Manager) loadToday(ctx context.Context, studentID string, now time.Time) (*Session, error) {
	s, err := m.store.Get(ctx, studentID)
	if err != nil {
		m.metrics.Failure("session_get")
		return nil, apperr.Persistence("load session", err)
	}
	if s == nil || s.Date != m.dateOf(now) {
		return nil, apperr.NotFound("no session today for student %s", studentID)
	}
	return s, nil
}

func (m *Manager) save(ctx context.Context, s Session) error {
	if err := m.store.Save(ctx, s); err != nil {
		m.metrics.Failure("session_save")
		m.log.Error("session save failed", zap.String("student_id", s.StudentID), zap.Error(err))
		return apperr.Persistence("save session", err)
	}
	return nil
}

// authorized reports whether bssid is an accepted access point for the session.
func (m *Manager) authorized(s *Session, bssid string) bool {
	if len(m.cfg.AuthorizedBSSIDs) > 0 {
		for _, b := range m.cfg.AuthorizedBSSIDs {
			if strings.EqualFold(b, bssid) {
				return true
			}
		}
		return false
	}
	return s.BSSID == "" || strings.EqualFold(s.BSSID, bssid)
}

func (m *Manager) publish(ctx context.Context, evt broadcast.Event) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.Publish(ctx, evt); err != nil {
		m.log.Warn("broadcast publish failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

type attendanceUpdate struct {
	StudentID string            `json:"student_id"`
	Today     TodaySummary      `json:"today"`
	Lectures  []LecturePresence `json:"lectures"`
}

func (m *Manager) publishUpdate(ctx context.Context, s *Session, finalized []LecturePresence) {
	m.publish(ctx, broadcast.NewEvent(broadcast.StudentAttendanceUpdate, s.StudentID, attendanceUpdate{
		StudentID: s.StudentID,
		Today:     s.Today(),
		Lectures:  finalized,
	}))
}
