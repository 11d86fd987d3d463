package session

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/attendance"
	"attendance/internal/broadcast"
	"attendance/internal/timetable"
)

// HeartbeatRequest is a periodic presence ping.
type HeartbeatRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	BSSID     string `json:"bssid"`
	// PeriodNumber selects the lecture the client believes is running; zero asks the timetable.
	PeriodNumber int    `json:"period_number" validate:"min=0"`
	DeviceID     string `json:"device_id"`
}

// HeartbeatResult is the session after the ping. NoActivePeriod means no lecture was running;
// the ping was still accepted.
type HeartbeatResult struct {
	Session        Session           `json:"session"`
	Lecture        *LecturePresence  `json:"lecture,omitempty"`
	Connected      bool              `json:"connected"`
	NoActivePeriod bool              `json:"no_active_period"`
	Finalized      []LecturePresence `json:"finalized,omitempty"`
}

// Heartbeat credits presence up to now, handles BSSID loss or recovery, and finalizes every
// lecture that has ended. Records are written before the session is saved; a failed write
// leaves the stored session untouched.
func (m *Manager) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResult, error) {
	if err := m.validate.Struct(req); err != nil {
		return HeartbeatResult{}, apperr.Malformed("invalid heartbeat: %v", err)
	}
	unlock, err := m.lock(ctx, req.StudentID)
	if err != nil {
		return HeartbeatResult{}, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.loadToday(ctx, req.StudentID, now)
	if err != nil {
		return HeartbeatResult{}, err
	}
	if !cur.IsActive {
		return HeartbeatResult{}, apperr.NotFound("session for student %s has ended", req.StudentID)
	}
	if req.DeviceID != "" && req.DeviceID != cur.DeviceID {
		return HeartbeatResult{}, apperr.DeviceConflict("device %s no longer owns this session", req.DeviceID)
	}

	next := cur.Clone()
	next.Timer.advance(now)

	period, inPeriod, err := m.lecturePeriod(ctx, &next, req.PeriodNumber, now)
	if err != nil {
		return HeartbeatResult{}, err
	}

	event := "heartbeat"
	if req.BSSID != "" {
		switch ok := m.authorized(&next, req.BSSID); {
		case !ok && !next.Paused():
			m.disconnect(&next, now)
			event = "disconnect"
		case ok && next.Paused():
			m.resume(&next, now, period, inPeriod)
			event = "reconnect"
		}
	}
	if !next.Paused() && !next.Timer.IsRunning && inPeriod && next.Timer.PeriodNumber != period.PeriodNumber {
		if l, ok := next.Lecture(period.PeriodNumber); ok && !l.Status.Final() && !l.Overridden {
			next.Timer = m.arm(now, period, true)
		}
	}

	m.refresh(&next, now, now)
	finalized, err := m.finalize(ctx, &next, m.due(&next, now), now)
	if err != nil {
		return HeartbeatResult{}, err
	}
	next.LastActivity = now
	next.rollup()
	if err := m.save(ctx, next); err != nil {
		return HeartbeatResult{}, err
	}
	m.metrics.Event(event)
	m.syncTimer(&next)

	res := HeartbeatResult{Session: next, Connected: !next.Paused(), Finalized: finalized, NoActivePeriod: !inPeriod}
	if inPeriod {
		if l, ok := next.Lecture(period.PeriodNumber); ok {
			lc := *l
			res.Lecture = &lc
			m.publish(ctx, broadcast.NewEvent(broadcast.LectureUpdated, next.StudentID, lc))
		}
	}
	if len(finalized) > 0 {
		m.publishUpdate(ctx, &next, finalized)
	}
	return res, nil
}

// Disconnect pauses presence: the countdown stops and minutes already credited are kept.
func (m *Manager) Disconnect(ctx context.Context, studentID string) (Session, error) {
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
	if !cur.IsActive || cur.Paused() {
		return *cur, nil
	}
	return m.pauseSession(ctx, cur.Clone(), now)
}

// pauseSession applies a presence loss to a session copy and persists it. Callers hold the student lock.
func (m *Manager) pauseSession(ctx context.Context, next Session, now time.Time) (Session, error) {
	m.disconnect(&next, now)
	m.refresh(&next, now, now)
	finalized, err := m.finalize(ctx, &next, m.due(&next, now), now)
	if err != nil {
		return Session{}, err
	}
	next.LastActivity = now
	next.rollup()
	if err := m.save(ctx, next); err != nil {
		return Session{}, err
	}
	m.stopTimer(next.StudentID)
	m.metrics.Event("disconnect")
	m.log.Info("presence lost", zap.String("student_id", next.StudentID))
	m.publish(ctx, broadcast.NewEvent(broadcast.LectureUpdated, next.StudentID, next))
	if len(finalized) > 0 {
		m.publishUpdate(ctx, &next, finalized)
	}
	return next, nil
}

// Reconnect resumes presence when bssid is authorized. The paused span is never credited.
// It reports whether the student is connected afterwards.
func (m *Manager) Reconnect(ctx context.Context, studentID, bssid string) (Session, bool, error) {
	if studentID == "" {
		return Session{}, false, apperr.Malformed("student id required")
	}
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return Session{}, false, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.loadToday(ctx, studentID, now)
	if err != nil {
		return Session{}, false, err
	}
	if !cur.IsActive {
		return Session{}, false, apperr.NotFound("session for student %s has ended", studentID)
	}
	if !cur.Paused() {
		return *cur, true, nil
	}
	if bssid != "" && !m.authorized(cur, bssid) {
		return *cur, false, nil
	}
	period, inPeriod, err := m.timetables.CurrentPeriod(ctx, cur.Class, now)
	if err != nil {
		return Session{}, false, err
	}
	next := cur.Clone()
	m.resume(&next, now, period, inPeriod)
	m.refresh(&next, now, now)
	finalized, err := m.finalize(ctx, &next, m.due(&next, now), now)
	if err != nil {
		return Session{}, false, err
	}
	next.LastActivity = now
	next.rollup()
	if err := m.save(ctx, next); err != nil {
		return Session{}, false, err
	}
	m.metrics.Event("reconnect")
	m.syncTimer(&next)
	m.publish(ctx, broadcast.NewEvent(broadcast.LectureUpdated, studentID, next))
	if len(finalized) > 0 {
		m.publishUpdate(ctx, &next, finalized)
	}
	return next, true, nil
}

// lecturePeriod resolves the lecture a heartbeat is about. A client-named period only counts
// while it is running; outside its window the ping is treated as between periods.
func (m *Manager) lecturePeriod(ctx context.Context, s *Session, number int, now time.Time) (timetable.ScheduledPeriod, bool, error) {
	if number > 0 {
		l, ok := s.Lecture(number)
		if !ok {
			return timetable.ScheduledPeriod{}, false, apperr.NotFound("period %d is not scheduled today", number)
		}
		if start, end := m.window(s, l); now.Before(start) || !now.Before(end) {
			return timetable.ScheduledPeriod{}, false, nil
		}
		return l.Period(s.DayOfWeek), true, nil
	}
	return m.timetables.CurrentPeriod(ctx, s.Class, now)
}

func (m *Manager) disconnect(s *Session, now time.Time) {
	s.Timer.advance(now)
	s.Timer.IsRunning = false
	s.pause(now)
}

// resume closes the open pause and restarts the countdown, re-arming it for the running
// lecture when the previous countdown already reached zero.
func (m *Manager) resume(s *Session, now time.Time, period timetable.ScheduledPeriod, inPeriod bool) {
	s.resume(now)
	s.Timer.LastUpdated = now
	if s.Timer.SecondsRemaining > 0 {
		s.Timer.IsRunning = true
		return
	}
	if inPeriod && s.Timer.PeriodNumber != period.PeriodNumber {
		s.Timer = m.arm(now, period, true)
	}
}

// arm starts a countdown to the end of the running period, or the default length outside one.
func (m *Manager) arm(now time.Time, period timetable.ScheduledPeriod, inPeriod bool) TimerState {
	t := TimerState{IsRunning: true, SecondsRemaining: m.cfg.DefaultTimerSeconds, LastUpdated: now}
	if inPeriod {
		_, end := period.Window(now.In(m.loc()))
		t.SecondsRemaining = int(end.Sub(now) / time.Second)
		t.PeriodNumber = period.PeriodNumber
	}
	if t.SecondsRemaining <= 0 {
		t.SecondsRemaining, t.IsRunning = 0, false
	}
	return t
}

// window returns the lecture bounds on the session's date.
func (m *Manager) window(s *Session, l *LecturePresence) (time.Time, time.Time) {
	day, err := time.ParseInLocation(attendance.DateLayout, s.Date, m.loc())
	if err != nil {
		day = s.StartedAt.In(m.loc())
	}
	return l.Period(s.DayOfWeek).Window(day)
}

// refresh recomputes minutes and percent for every undecided lecture as of at.
// Presence after horizon is not credited.
func (m *Manager) refresh(s *Session, at, horizon time.Time) {
	connected := s.IsActive && !s.Paused()
	for i := range s.Lectures {
		l := &s.Lectures[i]
		if l.Status.Final() || l.Overridden {
			continue
		}
		start, end := m.window(s, l)
		if at.Before(start) {
			l.Status = LecturePending
			continue
		}
		upto := end
		if at.Before(upto) {
			upto = at
		}
		if horizon.Before(upto) {
			upto = horizon
		}
		attended := s.presentBetween(start, upto)
		l.MinutesAttended = int(attended / time.Minute)
		l.AttendancePercent = percentOf(l.MinutesAttended, int(end.Sub(start)/time.Minute))
		if l.JoinedAt == nil && attended > 0 {
			joined := start
			if s.StartedAt.After(joined) {
				joined = s.StartedAt
			}
			l.JoinedAt = &joined
		}
		if at.Before(end) && connected {
			l.Status = LectureAttending
		} else {
			l.Status = LecturePending
		}
	}
}

// due returns the undecided lectures that have ended by at.
func (m *Manager) due(s *Session, at time.Time) []int {
	var idx []int
	for i := range s.Lectures {
		l := &s.Lectures[i]
		if l.Status.Final() || l.Overridden {
			continue
		}
		if _, end := m.window(s, l); !at.Before(end) {
			idx = append(idx, i)
		}
	}
	return idx
}

// started returns the undecided lectures that have begun by at.
func (m *Manager) started(s *Session, at time.Time) []int {
	var idx []int
	for i := range s.Lectures {
		l := &s.Lectures[i]
		if l.Status.Final() || l.Overridden {
			continue
		}
		if start, _ := m.window(s, l); !at.Before(start) {
			idx = append(idx, i)
		}
	}
	return idx
}

// finalize decides each indexed lecture against the presence threshold and writes its record.
// The first failed write aborts; the caller must not save the session.
func (m *Manager) finalize(ctx context.Context, s *Session, idx []int, at time.Time) ([]LecturePresence, error) {
	var done []LecturePresence
	for _, i := range idx {
		l := &s.Lectures[i]
		start, end := m.window(s, l)
		status := attendance.StatusAbsent
		if l.AttendancePercent >= m.cfg.PresenceThreshold {
			status = attendance.StatusPresent
		}
		checkOut := end
		if at.Before(end) {
			checkOut = at
		}
		rec, err := m.recorder.MarkPeriodAttendance(ctx, attendance.Mark{
			StudentID: s.StudentID,
			Date:      start,
			Class:     s.Class,
			Period:    l.Period(s.DayOfWeek),
			Status:    status,
			MarkedBy:  attendance.BySystem,
			At:        at,
			CheckIn:   l.JoinedAt,
			CheckOut:  &checkOut,
			Minutes:   l.MinutesAttended,
		})
		if err != nil {
			m.metrics.Failure("record_mark")
			return nil, err
		}
		if rec.MarkedBy == attendance.ByTeacher {
			l.Overridden = true
			l.Status = lectureStatusOf(rec.Status)
		} else {
			l.Status = lectureStatusOf(status)
		}
		m.log.Info("lecture finalized",
			zap.String("student_id", s.StudentID), zap.Int("period", l.PeriodNumber),
			zap.Int("percent", l.AttendancePercent), zap.String("status", string(l.Status)))
		done = append(done, *l)
	}
	return done, nil
}

func lectureStatusOf(st attendance.Status) LectureStatus {
	if st == attendance.StatusPresent || st == attendance.StatusLate {
		return LecturePresent
	}
	return LectureAbsent
}

func percentOf(minutes, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(minutes) / float64(total) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
