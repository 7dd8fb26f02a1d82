package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func quietOptions(dir string) *options {
	return &options{path: dir, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "000004_old.up.sql"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if err := createMigration(quietOptions(dir), "add_plate_index", now); err != nil {
		t.Fatalf("createMigration() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	want := []string{"000004_old.up.sql", "000005_add_plate_index.down.sql", "000005_add_plate_index.up.sql"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("files = %v, want %v", names, want)
	}

	body, _ := os.ReadFile(filepath.Join(dir, "000005_add_plate_index.up.sql"))
	if !strings.Contains(string(body), "2024-06-15T12:00:00Z") {
		t.Errorf("header = %q", body)
	}
}

func TestCreateMigration_DryRunAndNoPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	opts := quietOptions(dir)
	opts.dryRun = true
	if err := createMigration(opts, "x", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("dry run should not touch the filesystem")
	}

	if err := createMigration(quietOptions(""), "x", time.Now()); err == nil {
		t.Error("create without -path should fail")
	}
}

func TestOptionalInt(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"3"}, 3, false},
		{[]string{"-1"}, 0, true},
		{[]string{"many"}, 0, true},
	}
	for _, tt := range tests {
		got, err := optionalInt(tt.args)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("optionalInt(%v) = %d, %v", tt.args, got, err)
		}
	}
}

func TestDropRequiresConfirmation(t *testing.T) {
	if err := run(quietOptions(""), "drop", nil); err == nil || !strings.Contains(err.Error(), "-yes") {
		t.Errorf("drop without -yes = %v", err)
	}
	if err := run(quietOptions(""), "sideways", nil); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestEmbeddedSource(t *testing.T) {
	name, src, err := sourceDriver("")
	if err != nil {
		t.Fatalf("sourceDriver() error = %v", err)
	}
	defer src.Close()

	if name != "iofs" {
		t.Errorf("name = %q", name)
	}
	first, err := src.First()
	if err != nil || first != 1 {
		t.Errorf("First() = %d, %v", first, err)
	}
}
