package diaglog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T, retention int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", FileName), retention)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []struct {
		level  slog.Level
		msg    string
		source string
	}{
		{slog.LevelWarn, "[config] value clamped", "config"},
		{slog.LevelError, "[input] hook failed", ""},
		{slog.LevelWarn, "[render] unknown font", "render"},
	}
	for i, r := range records {
		if err := s.Record(ctx, base.Add(time.Duration(i)*time.Second), r.level, r.msg, r.source); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].Message != "[render] unknown font" || got[1].Message != "[input] hook failed" {
		t.Fatalf("Recent order = %q, %q", got[0].Message, got[1].Message)
	}
	if got[0].Level != "WARN" || got[1].Level != "ERROR" {
		t.Fatalf("levels = %q, %q", got[0].Level, got[1].Level)
	}
	if !got[0].Time.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("time = %v", got[0].Time)
	}
	if got[0].Source != "render" {
		t.Fatalf("source = %q", got[0].Source)
	}

	if n, err := s.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
}

func TestRecentNonPositiveLimit(t *testing.T) {
	s := openTestStore(t, 0)
	got, err := s.Recent(context.Background(), 0)
	if err != nil || len(got) != 0 || got == nil {
		t.Fatalf("Recent(0) = %v, %v", got, err)
	}
}

func TestRecentCapsHugeLimit(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	for i := range 3 {
		if err := s.Record(ctx, time.Now(), slog.LevelWarn, fmt.Sprintf("warning %d", i), ""); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(ctx, 2_000_000_000)
	if err != nil {
		t.Fatalf("Recent(huge) error = %v", err)
	}
	if len(got) != 3 || cap(got) > 5 {
		t.Fatalf("Recent(huge) len = %d cap = %d, want 3 entries within retention", len(got), cap(got))
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	s := openTestStore(t, 10)
	ctx := context.Background()
	now := time.Now()
	for i := range 25 {
		if err := s.Record(ctx, now, slog.LevelWarn, fmt.Sprintf("warning %d", i), ""); err != nil {
			t.Fatalf("Record(%d) error = %v", i, err)
		}
	}
	// Pruning runs every retention/10 inserts, so after the last insert the
	// table holds exactly the retention limit.
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("Count() = %d, want 10", n)
	}
	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Message != "warning 24" {
		t.Fatalf("newest = %q", got[0].Message)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), time.Now(), slog.LevelError, "boom", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "boom" {
		t.Fatalf("entries after reopen = %+v", got)
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	_ = s.Record(ctx, time.Now(), slog.LevelWarn, "a", "")
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Fatalf("Count() after Clear = %d", n)
	}
}

func TestClosedStore(t *testing.T) {
	s := openTestStore(t, 0)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	ctx := context.Background()
	if err := s.Record(ctx, time.Now(), slog.LevelWarn, "x", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record() after Close error = %v", err)
	}
	if _, err := s.Recent(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Recent() after Close error = %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", 0); err == nil {
		t.Fatal("Open(blank) succeeded")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"ascii cut", "abcdef", 4, "abcd"},
		// "↑" is three bytes; cutting inside it drops the whole rune.
		{"rune boundary", "a↑b", 2, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Fatalf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
	long := strings.Repeat("x", maxMessageBytes+10)
	if got := truncate(long, maxMessageBytes); len(got) != maxMessageBytes {
		t.Fatalf("len = %d", len(got))
	}
}
