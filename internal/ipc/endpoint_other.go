//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keybubbles/internal/userutil"
)

// DefaultEndpoint returns the per-user socket path. KEYBUBBLES_PIPE
// overrides it with an absolute path.
func DefaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("KEYBUBBLES_PIPE")); filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(os.TempDir(), "keybubbles-"+userutil.CurrentUsername()+".sock")
}

// listen binds the unix socket, replacing a stale socket file left by a
// crashed instance. The single-instance lock guarantees no live owner.
func listen(endpoint string) (net.Listener, error) {
	if info, err := os.Lstat(endpoint); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", endpoint)
		}
		if err := os.Remove(endpoint); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(endpoint, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}
	return ln, nil
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func isPipeNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
