package auth

import (
	"testing"
	"time"
)

func TestNewSHA512Provider(t *testing.T) {
	provider := NewSHA512Provider("admin", time.Minute)
	now := time.Unix(1700000000, 0)

	req := provider("ws://broker:9090", "alice", "s3cret", now)

	if req.Client != "alice" {
		t.Errorf("Client = %q, want alice", req.Client)
	}
	if req.Dest != "ws://broker:9090" {
		t.Errorf("Dest = %q, want endpoint", req.Dest)
	}
	if req.Level != "admin" {
		t.Errorf("Level = %q, want admin", req.Level)
	}
	if !req.Time.Equal(now) {
		t.Errorf("Time = %v, want %v", req.Time, now)
	}
	if !req.End.Equal(now.Add(time.Minute)) {
		t.Errorf("End = %v, want now+1m", req.End)
	}
	if len(req.Rand) != 32 {
		t.Errorf("Rand length = %d, want 32 hex chars", len(req.Rand))
	}
	if req.Mac != Sign("s3cret", req) {
		t.Error("Mac does not verify against the request fields")
	}
	if req.Mac == Sign("wrong", req) {
		t.Error("Mac verifies under the wrong secret")
	}
}

func TestProviderMintsFreshChallenges(t *testing.T) {
	provider := NewSHA512Provider("user", time.Minute)
	now := time.Now()

	a := provider("ws://b:9090", "u", "s", now)
	b := provider("ws://b:9090", "u", "s", now)

	if a.Rand == b.Rand {
		t.Error("consecutive requests reused the same challenge")
	}
	if a.Mac == b.Mac {
		t.Error("consecutive requests produced identical credentials")
	}
}
