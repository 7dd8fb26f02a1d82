package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/memory"
	"github.com/welldanyogia/steel-scrap-yard/internal/storage"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(memory.New().Store(), time.Hour, &out, nil)
	a.passwords = auth.NewPasswordValidatorWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16})
	return a, &out
}

func TestSeedAdmin(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	if err := a.run(ctx, "seed-admin", []string{"-email", " Admin@Yard.com ", "-password", "s3cret"}); err != nil {
		t.Fatalf("seed-admin error = %v", err)
	}
	admin, err := a.store.Users.GetByEmail(ctx, "admin@yard.com")
	if err != nil {
		t.Fatalf("admin not stored: %v", err)
	}
	if admin.Role != repository.RoleAdmin || !admin.IsActive || admin.Name != "Administrator" {
		t.Errorf("admin = %+v", admin)
	}
	if !a.passwords.VerifyPassword("s3cret", admin.PasswordHash) {
		t.Error("stored hash does not verify")
	}

	out.Reset()
	if err := a.run(ctx, "seed-admin", []string{"-email", "other@yard.com", "-password", "x"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "already exists") {
		t.Errorf("second seed output = %q", out.String())
	}
	if n, _ := a.store.Users.Count(ctx, repository.UserFilter{Role: repository.RoleAdmin}); n != 1 {
		t.Errorf("admins = %d, want 1", n)
	}
}

func TestSeedAdmin_RejectsBadInput(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if err := a.run(ctx, "seed-admin", []string{"-password", "x"}); !errors.Is(err, errUsage) {
		t.Errorf("missing email error = %v", err)
	}
	if err := a.run(ctx, "seed-admin", []string{"-email", "a@b.com"}); err == nil {
		t.Error("empty password should be rejected")
	}
	if err := a.run(ctx, "seed-admin", []string{"-bogus"}); err == nil {
		t.Error("unknown flag should be rejected")
	}
}

func TestResetAndInspect(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	_ = a.store.Factories.Create(ctx, &repository.Factory{Name: "Yard", OwnerID: "o", IsActive: true})

	if err := a.run(ctx, "inspect", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "factories") || !strings.Contains(out.String(), "1") {
		t.Errorf("inspect output = %q", out.String())
	}

	if err := a.run(ctx, "reset", nil); err == nil {
		t.Error("reset without -yes should fail")
	}
	if n, _ := a.store.Factories.Count(ctx); n != 1 {
		t.Error("unconfirmed reset deleted data")
	}
	if err := a.run(ctx, "reset", []string{"-yes"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := a.store.Factories.Count(ctx); n != 0 {
		t.Errorf("factories after reset = %d", n)
	}
}

func TestPruneSessions(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	now := time.Now()

	for i, expires := range []time.Time{now.Add(-time.Hour), now.Add(-time.Minute), now.Add(time.Hour)} {
		err := a.store.Sessions.Create(ctx, &repository.Session{
			TokenHash: string(rune('a' + i)), UserID: "u", Role: repository.RoleOwner,
			CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: expires,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := a.run(ctx, "prune-sessions", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Deleted 2 expired sessions") {
		t.Errorf("output = %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.run(context.Background(), "explode", nil); !errors.Is(err, errUsage) {
		t.Errorf("error = %v, want errUsage", err)
	}
}

func TestPruneImages(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a.blobs = blobs
	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, key := range []string{"truck.jpg", "plate.jpg", "stale.jpg"} {
		if err := blobs.Put(ctx, key, []byte("img"), "image/jpeg"); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(filepath.Join(blobs.Dir(), key), old, old); err != nil {
			t.Fatal(err)
		}
	}
	err = a.store.History.Create(ctx, &repository.AnalysisRecord{
		Timestamp: time.Now(), TruckNumber: "MH12AB1234", TruckID: "t1",
		ScrapImage: "truck.jpg", PlateImage: "plate.jpg", AnalysisID: "an-1", FactoryID: "f1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.run(ctx, "prune-images", []string{"-dry-run"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Would delete 1 orphans") {
		t.Errorf("dry run output = %q", out.String())
	}
	if _, err := blobs.Get(ctx, "stale.jpg"); err != nil {
		t.Error("dry run deleted an image")
	}

	out.Reset()
	if err := a.run(ctx, "prune-images", []string{"-older-than", "24h"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Deleted 1 orphans") {
		t.Errorf("output = %q", out.String())
	}
	if _, err := blobs.Get(ctx, "stale.jpg"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("stale image still present: %v", err)
	}
	for _, key := range []string{"truck.jpg", "plate.jpg"} {
		if _, err := blobs.Get(ctx, key); err != nil {
			t.Errorf("referenced image %s removed: %v", key, err)
		}
	}
}

func TestPruneImages_NoStore(t *testing.T) {
	a, _ := newTestApp(t)
	if err := a.run(context.Background(), "prune-images", nil); err == nil {
		t.Error("prune-images without an image store should fail")
	}
}
