package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.Healthy(context.Background()) {
		t.Fatalf("expected healthy redis")
	}
	mr.SetError("LOADING")
	if r.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy while redis reports errors")
	}
	mr.SetError("")

	var missing *Redis
	if missing.Healthy(context.Background()) {
		t.Fatalf("nil redis must not be healthy")
	}
}

func TestRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis("redis://" + mr.Addr() + "/2")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx := context.Background()
	if err := r.Client.Set(ctx, "k", "v", 0).Err(); err != nil {
		t.Fatal(err)
	}
	mr.Select(2)
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("key not written to db 2, got %q", got)
	}

	if _, err := NewRedis("redis://:bad port"); err == nil {
		t.Fatalf("expected parse error")
	}
}
