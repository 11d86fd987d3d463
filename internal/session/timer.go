package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attendance/internal/apperr"
	"attendance/internal/broadcast"
)

type timerHandle struct {
	seq    uint64
	cancel context.CancelFunc
}

// Tick applies the whole seconds elapsed since the timer was last updated. Reaching zero stops
// the countdown and completes the lecture it was armed for, if that lecture has ended.
func (m *Manager) Tick(ctx context.Context, studentID string) (TimerState, error) {
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return TimerState{}, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.loadToday(ctx, studentID, now)
	if err != nil {
		return TimerState{}, err
	}
	if !cur.IsActive || !cur.Timer.IsRunning {
		return cur.Timer, nil
	}
	next := cur.Clone()
	before := next.Timer.LastUpdated
	hitZero := next.Timer.advance(now)
	if next.Timer.LastUpdated.Equal(before) {
		return cur.Timer, nil
	}

	var finalized []LecturePresence
	if hitZero {
		m.refresh(&next, now, now)
		var idx []int
		for _, i := range m.due(&next, now) {
			if next.Lectures[i].PeriodNumber == next.Timer.PeriodNumber {
				idx = append(idx, i)
			}
		}
		if finalized, err = m.finalize(ctx, &next, idx, now); err != nil {
			return TimerState{}, err
		}
		next.rollup()
	}
	if err := m.save(ctx, next); err != nil {
		return TimerState{}, err
	}
	if hitZero {
		m.metrics.Event("timer-complete")
		m.publish(ctx, broadcast.NewEvent(broadcast.LectureUpdated, studentID, next.Timer))
		if len(finalized) > 0 {
			m.publishUpdate(ctx, &next, finalized)
		}
	}
	return next.Timer, nil
}

// GetTimer returns the countdown as of now without persisting it.
func (m *Manager) GetTimer(ctx context.Context, studentID string) (TimerState, error) {
	if studentID == "" {
		return TimerState{}, apperr.Malformed("student id required")
	}
	s, err := m.loadToday(ctx, studentID, m.now())
	if err != nil {
		return TimerState{}, err
	}
	t := s.Timer
	t.advance(m.now())
	return t, nil
}

// syncTimer runs a countdown goroutine exactly when the session is active with a running timer.
func (m *Manager) syncTimer(s *Session) {
	if s.IsActive && s.Timer.IsRunning {
		m.startTimer(s.StudentID)
		return
	}
	m.stopTimer(s.StudentID)
}

func (m *Manager) startTimer(studentID string) {
	if m.cfg.TimerTick <= 0 {
		return
	}
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if _, ok := m.timers[studentID]; ok {
		return
	}
	m.timerSeq++
	ctx, cancel := context.WithCancel(m.timersCtx)
	h := timerHandle{seq: m.timerSeq, cancel: cancel}
	m.timers[studentID] = h
	m.metrics.ActiveTimers.Inc()
	go m.runTimer(ctx, studentID, h.seq)
}

func (m *Manager) stopTimer(studentID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if h, ok := m.timers[studentID]; ok {
		h.cancel()
		delete(m.timers, studentID)
		m.metrics.ActiveTimers.Dec()
	}
}

// timerRunning reports whether a countdown goroutine is registered for the student.
func (m *Manager) timerRunning(studentID string) bool {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	_, ok := m.timers[studentID]
	return ok
}

func (m *Manager) runTimer(ctx context.Context, studentID string, seq uint64) {
	ticker := time.NewTicker(m.cfg.TimerTick)
	defer ticker.Stop()
	defer m.timerExited(studentID, seq)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := m.Tick(ctx, studentID)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					return
				}
				if ctx.Err() == nil {
					m.log.Warn("timer tick failed", zap.String("student_id", studentID), zap.Error(err))
				}
				continue
			}
			if !st.IsRunning {
				return
			}
		}
	}
}

// timerExited unregisters a goroutine that stopped on its own. A newer goroutine for the
// same student keeps its registration.
func (m *Manager) timerExited(studentID string, seq uint64) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if h, ok := m.timers[studentID]; ok && h.seq == seq {
		h.cancel()
		delete(m.timers, studentID)
		m.metrics.ActiveTimers.Dec()
	}
}
