//go:build windows

package singleinstance

import (
	"errors"
	"strings"
	"testing"
)

func TestTryLockWindows(t *testing.T) {
	name := `Local\KeyBubbles-test-` + strings.ReplaceAll(t.Name(), "/", "_")
	first, err := TryLock(name)
	if err != nil {
		t.Fatalf("first TryLock() error = %v", err)
	}
	if _, err := TryLock(name); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second TryLock() error = %v, want ErrAlreadyRunning", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	again, err := TryLock(name)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	_ = again.Release()
}

func TestDefaultMutexName(t *testing.T) {
	t.Setenv("USERNAME", `CORP\kim`)
	if got := DefaultMutexName(); got != `Local\KeyBubbles-CORP_kim` {
		t.Fatalf("DefaultMutexName() = %q", got)
	}
}

func TestTryLockRejectsEmptyName(t *testing.T) {
	if _, err := TryLock(""); err == nil {
		t.Fatal("TryLock(\"\") succeeded")
	}
}
