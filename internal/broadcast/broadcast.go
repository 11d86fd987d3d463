package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Type names a presence event.
type Type string

const (
	SessionStarted          Type = "session-started"
	LectureUpdated          Type = "lecture-updated"
	StudentAttendanceUpdate Type = "student-attendance-update"
	ForceLogout             Type = "force-logout"
)

// Event is one outbound notification. Target is set only for events aimed at a single connection.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	StudentID string    `json:"student_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent stamps an event with an id and time.
func NewEvent(typ Type, studentID string, payload any) Event {
	return Event{ID: uuid.NewString(), Type: typ, StudentID: studentID, Payload: payload, At: time.Now().UTC()}
}

// Broadcaster is the abstraction over fan-out backends. Delivery is at most once.
type Broadcaster interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// InMemory fans events out to in-process subscribers; for dev/testing and single-node deployments.
// Slow subscribers miss events rather than block publishers.
type InMemory struct {
	size int
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewInMemory creates a broadcaster whose subscribers buffer size events.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{size: size, subs: make(map[chan Event]struct{})}
}

// Publish delivers evt to every current subscriber.
func (b *InMemory) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx ends.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Redis implements Broadcaster over Redis pub/sub so every API node sees every event.
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis builds a broadcaster using PUBLISH/SUBSCRIBE on channel.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = "attendance:presence"
	}
	return &Redis{client: client, channel: channel}
}

// Publish sends the JSON-encoded event.
func (b *Redis) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe streams decoded events until ctx ends. Undecodable messages are skipped.
func (b *Redis) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
