package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingTracker struct {
	mu       sync.Mutex
	attached map[string]string
	detached []string
}

func (r *recordingTracker) AttachConnection(_ context.Context, studentID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[studentID] = connID
	return nil
}

func (r *recordingTracker) DetachConnection(_ context.Context, studentID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, studentID)
	return nil
}

func dial(t *testing.T, srv *httptest.Server, studentID string) (*websocket.Conn, string) {
	t.Helper()
	return dialQuery(t, srv, "student_id="+studentID)
}

func dialQuery(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hello Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn, hello.Target
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRoutesEvents(t *testing.T) {
	tracker := &recordingTracker{attached: map[string]string{}}
	hub := NewHub(tracker, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		hub.ServeWS(w, r, q.Get("student_id"), q.Get("watch") == "")
	}))
	defer srv.Close()

	dashboard, _ := dial(t, srv, "")
	defer dashboard.Close()
	student, connID := dial(t, srv, "S1")
	defer student.Close()
	other, _ := dial(t, srv, "S2")
	defer other.Close()
	waitFor(t, func() bool { return hub.Count() == 3 })

	tracker.mu.Lock()
	if tracker.attached["S1"] != connID {
		t.Fatalf("attached = %v, want S1 -> %s", tracker.attached, connID)
	}
	tracker.mu.Unlock()

	hub.Dispatch(NewEvent(LectureUpdated, "S1", nil))
	for _, c := range []*websocket.Conn{dashboard, student} {
		var evt Event
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := c.ReadJSON(&evt); err != nil || evt.Type != LectureUpdated {
			t.Fatalf("evt=%+v err=%v", evt, err)
		}
	}

	logout := NewEvent(ForceLogout, "S1", nil)
	logout.Target = connID
	hub.Dispatch(logout)

	var evt Event
	_ = student.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := student.ReadJSON(&evt); err != nil || evt.Type != ForceLogout {
		t.Fatalf("force-logout evt=%+v err=%v", evt, err)
	}
	if _, _, err := student.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to be closed after force-logout")
	}
	waitFor(t, func() bool { return hub.Count() == 2 })

	// S2 saw neither event.
	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := other.ReadJSON(&evt); err == nil {
		t.Fatalf("S2 received %+v", evt)
	}
}

func TestWatcherIsNotTracked(t *testing.T) {
	tracker := &recordingTracker{attached: map[string]string{}}
	hub := NewHub(tracker, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		hub.ServeWS(w, r, q.Get("student_id"), q.Get("watch") == "")
	}))
	defer srv.Close()

	watcher, _ := dialQuery(t, srv, "student_id=S1&watch=1")
	waitFor(t, func() bool { return hub.Count() == 1 })

	hub.Dispatch(NewEvent(LectureUpdated, "S1", nil))
	var evt Event
	_ = watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := watcher.ReadJSON(&evt); err != nil || evt.Type != LectureUpdated {
		t.Fatalf("watcher evt=%+v err=%v", evt, err)
	}

	_ = watcher.Close()
	waitFor(t, func() bool { return hub.Count() == 0 })

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.attached) != 0 || len(tracker.detached) != 0 {
		t.Fatalf("watcher reached the tracker: attached=%v detached=%v", tracker.attached, tracker.detached)
	}
}
