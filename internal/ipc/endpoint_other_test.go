//go:build !windows

package ipc

import (
	"os"
	"path/filepath"
	"testing"
)

// testEndpoint returns a short socket path; sun_path is limited to ~104 bytes.
func testEndpoint(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "kb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

func TestListenReplacesStaleSocket(t *testing.T) {
	endpoint := testEndpoint(t)
	first, err := listen(endpoint)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a crash: the socket file stays behind.
	if ul, ok := first.(interface{ SetUnlinkOnClose(bool) }); ok {
		ul.SetUnlinkOnClose(false)
	}
	_ = first.Close()

	second, err := listen(endpoint)
	if err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	_ = second.Close()
}

func TestListenRefusesRegularFile(t *testing.T) {
	endpoint := testEndpoint(t)
	if err := os.WriteFile(endpoint, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := listen(endpoint); err == nil {
		t.Fatal("listen() over a regular file succeeded")
	}
}

func TestDefaultEndpointOverride(t *testing.T) {
	t.Setenv("KEYBUBBLES_PIPE", "/tmp/custom.sock")
	if got := DefaultEndpoint(); got != "/tmp/custom.sock" {
		t.Fatalf("DefaultEndpoint() = %q", got)
	}
	t.Setenv("KEYBUBBLES_PIPE", "relative.sock")
	t.Setenv("USERNAME", "kim")
	if got := DefaultEndpoint(); filepath.Base(got) != "keybubbles-kim.sock" {
		t.Fatalf("DefaultEndpoint() = %q, want per-user default", got)
	}
}
