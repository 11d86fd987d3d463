package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"attendance/internal/apperr"
)

// Sweep finalizes what heartbeats did not: sessions from earlier dates are closed out, and
// today's sessions silent for longer than StaleAfter are paused at their last heartbeat.
// It returns how many sessions changed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		m.metrics.Failure("session_list")
		return 0, apperr.Persistence("list sessions", err)
	}
	changed := 0
	var firstErr error
	for _, s := range all {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		ok, err := m.sweepOne(ctx, s.StudentID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sweep %s: %w", s.StudentID, err)
			}
			continue
		}
		if ok {
			changed++
		}
	}
	if changed > 0 {
		m.log.Info("sweep finished", zap.Int("sessions", len(all)), zap.Int("changed", changed))
	}
	return changed, firstErr
}

func (m *Manager) sweepOne(ctx context.Context, studentID string) (bool, error) {
	unlock, err := m.lock(ctx, studentID)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := m.now()
	cur, err := m.store.Get(ctx, studentID)
	if err != nil {
		return false, apperr.Persistence("load session", err)
	}
	if cur == nil {
		return false, nil
	}
	next := cur.Clone()
	idle := false
	if cur.Date != m.dateOf(now) {
		if !cur.IsActive && len(m.due(&next, now)) == 0 {
			return false, nil
		}
		if next, err = m.retire(ctx, cur, now); err != nil {
			return false, err
		}
	} else {
		connected := cur.IsActive && !cur.Paused()
		idle = connected && now.Sub(cur.LastActivity) > m.cfg.StaleAfter
		if connected && !idle {
			return false, nil
		}
		if idle {
			m.disconnect(&next, cur.LastActivity)
		}
		due := m.due(&next, now)
		if !idle && len(due) == 0 {
			return false, nil
		}
		m.refresh(&next, now, now)
		if _, err := m.finalize(ctx, &next, due, now); err != nil {
			return false, err
		}
	}
	next.rollup()
	if err := m.save(ctx, next); err != nil {
		return false, err
	}
	if idle {
		m.stopTimer(studentID)
		m.log.Info("idle session paused", zap.String("student_id", studentID), zap.Time("last_activity", cur.LastActivity))
	}
	m.metrics.Event("sweep")
	return true, nil
}
