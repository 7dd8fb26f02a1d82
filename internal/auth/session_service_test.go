package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func testUser() *repository.User {
	return &repository.User{ID: "u1", Email: "a@x.com", Role: repository.RoleOwner}
}

func newTestSessions(clock *fakeClock) *SessionService {
	s := NewSessionService(memory.New().Store().Sessions, 0, nil)
	s.SetClock(clock.Now)
	return s
}

// Property: a session verifies until its expiry and never after
func TestProperty_SessionExpiry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		sessions := newTestSessions(clock)
		ctx := context.Background()

		token, session, err := sessions.Create(ctx, testUser())
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !session.ExpiresAt.Equal(clock.t.Add(24 * time.Hour)) {
			t.Fatalf("expires_at = %v", session.ExpiresAt)
		}

		elapsed := time.Duration(rapid.Int64Range(0, int64(48*time.Hour)).Draw(t, "elapsed"))
		clock.Advance(elapsed)

		_, err = sessions.Verify(ctx, token)
		if elapsed < 24*time.Hour && err != nil {
			t.Errorf("session rejected after %v: %v", elapsed, err)
		}
		if elapsed >= 24*time.Hour && !errors.Is(err, ErrInvalidSession) {
			t.Errorf("session accepted after %v", elapsed)
		}
	})
}

func TestSessionVerify_ImmediatelyValid(t *testing.T) {
	sessions := newTestSessions(newFakeClock())
	ctx := context.Background()

	token, _, err := sessions.Create(ctx, testUser())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err := sessions.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.UserID != "u1" || got.Role != repository.RoleOwner {
		t.Errorf("session = %+v", got)
	}
}

func TestSessionVerify_UnknownAndEmpty(t *testing.T) {
	sessions := newTestSessions(newFakeClock())
	for _, token := range []string{"", "nope"} {
		if _, err := sessions.Verify(context.Background(), token); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidSession", token, err)
		}
	}
}

func TestSessionCreate_TokenShape(t *testing.T) {
	sessions := newTestSessions(newFakeClock())
	ctx := context.Background()

	a, stored, _ := sessions.Create(ctx, testUser())
	b, _, _ := sessions.Create(ctx, testUser())
	if a == b {
		t.Error("tokens collide")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil || len(raw) != tokenBytes {
		t.Errorf("token is not %d url-safe bytes: %v", tokenBytes, err)
	}
	if stored.TokenHash == a || stored.TokenHash != HashToken(a) {
		t.Error("plaintext token stored")
	}
}

func TestSessionPruneExpired(t *testing.T) {
	clock := newFakeClock()
	sessions := newTestSessions(clock)
	ctx := context.Background()

	_, _, _ = sessions.Create(ctx, testUser())
	clock.Advance(25 * time.Hour)
	_, _, _ = sessions.Create(ctx, testUser())

	n, err := sessions.PruneExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("PruneExpired() = %d, %v; want 1", n, err)
	}
}
