//go:build windows

package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"regexp"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"

	"keybubbles/internal/userutil"
)

const defaultPipePrefix = `\\.\pipe\KeyBubbles-`

var pipeNamePattern = regexp.MustCompile(`(?i)^\\\\\.\\pipe\\KeyBubbles-[a-z0-9._-]{1,128}$`)

// DefaultEndpoint returns the per-user pipe name. KEYBUBBLES_PIPE overrides
// it when it matches the expected pattern.
func DefaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("KEYBUBBLES_PIPE")); v != "" {
		if pipeNamePattern.MatchString(v) {
			return v
		}
		slog.Warn("[ipc] KEYBUBBLES_PIPE rejected: value does not match allowed pattern", "value", v)
	}
	return defaultPipePrefix + userutil.CurrentUsername()
}

// listen creates the pipe with a DACL that admits only SYSTEM and the
// current user.
func listen(endpoint string) (net.Listener, error) {
	sd, err := pipeSecurityDescriptor()
	if err != nil {
		return nil, err
	}
	return winio.ListenPipe(endpoint, &winio.PipeConfig{
		SecurityDescriptor: sd,
		InputBufferSize:    int32(maxRequestBytes),
		OutputBufferSize:   int32(maxResponseBytes),
	})
}

func dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(endpoint, &timeout)
}

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

func pipeSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %q", sid)
	}
	// D:P protected DACL; GA full access for SYSTEM and the user SID.
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}

func isPipeNotFound(err error) bool {
	return errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND)
}
