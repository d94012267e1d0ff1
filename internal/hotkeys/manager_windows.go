//go:build windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"keybubbles/internal/keys"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
	procPeekMessageW       = user32.NewProc("PeekMessageW")
)

const (
	wmHotkey   = 0x0312
	wmQuit     = 0x0012
	pmNoRemove = 0x0000

	modAlt      = 0x0001
	modControl  = 0x0002
	modShift    = 0x0004
	modWin      = 0x0008
	modNoRepeat = 0x4000

	// maxHotkeyID is the upper bound for application-defined hotkey IDs.
	maxHotkeyID int32 = 0xBFFF

	stopTimeout = 2 * time.Second
)

var nextHotkeyID int32 = 0x4000

type activeHotkey struct {
	hotkeyID int32
	threadID uint32
	doneCh   chan struct{}
	binding  string
}

type point struct {
	x int32
	y int32
}

// winMsg mirrors the Win32 MSG struct. The layout must match on both 32-bit
// and 64-bit Windows.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

type loopReady struct {
	threadID uint32
	err      error
}

// Manager owns at most one global hotkey registration.
type Manager struct {
	mu     sync.Mutex
	active *activeHotkey
}

// NewManager creates an idle manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start registers spec and calls onTrigger on its own goroutine every time
// the combination is pressed. A previous registration is replaced.
func (m *Manager) Start(spec string, onTrigger func()) error {
	if onTrigger == nil {
		return errors.New("onTrigger callback is required")
	}
	if err := user32.Load(); err != nil {
		return fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	binding, err := ParseBinding(spec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.stopLocked(); err != nil {
		return err
	}

	hotkeyID := atomic.AddInt32(&nextHotkeyID, 1)
	if hotkeyID < 0 || hotkeyID > maxHotkeyID {
		return fmt.Errorf("hotkey ID range exhausted (ID=%d)", hotkeyID)
	}

	readyCh := make(chan loopReady, 1)
	doneCh := make(chan struct{})
	go runHotkeyLoop(hotkeyID, binding, onTrigger, readyCh, doneCh)

	ready := <-readyCh
	if ready.err != nil {
		return fmt.Errorf("register hotkey %q failed: %w", binding.String(), ready.err)
	}

	m.active = &activeHotkey{
		hotkeyID: hotkeyID,
		threadID: ready.threadID,
		doneCh:   doneCh,
		binding:  binding.String(),
	}
	return nil
}

// Stop unregisters the active hotkey.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// ActiveBinding returns the canonical form of the registered hotkey, or ""
// when none is registered.
func (m *Manager) ActiveBinding() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.binding
}

func (m *Manager) stopLocked() error {
	if m.active == nil {
		return nil
	}
	ah := m.active
	m.active = nil

	// The hotkey is owned by the loop thread; WM_QUIT makes the loop
	// unregister it on its way out.
	stopErr := postQuit(ah.threadID)

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-ah.doneCh:
	case <-timer.C:
		slog.Warn("[hotkey] message loop stop timed out, thread may leak", "hotkeyID", ah.hotkeyID)
		stopErr = errors.Join(stopErr, fmt.Errorf("hotkey message loop stop timed out (hotkeyID=%d)", ah.hotkeyID))
	}
	return stopErr
}

func win32Modifiers(mods keys.ModSet) uintptr {
	out := uintptr(modNoRepeat)
	if mods.Has(keys.ModCtrl) {
		out |= modControl
	}
	if mods.Has(keys.ModAlt) {
		out |= modAlt
	}
	if mods.Has(keys.ModShift) {
		out |= modShift
	}
	if mods.Has(keys.ModWin) {
		out |= modWin
	}
	return out
}

func runHotkeyLoop(hotkeyID int32, binding Binding, onTrigger func(), readyCh chan<- loopReady, doneCh chan struct{}) {
	// RegisterHotKey with a nil window posts to the calling thread's queue.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(doneCh)

	threadID := windows.GetCurrentThreadId()

	// PeekMessageW creates the thread message queue so PostThreadMessageW in
	// Stop can deliver WM_QUIT.
	var qmsg winMsg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)

	res, _, err := procRegisterHotKey.Call(0, uintptr(hotkeyID), win32Modifiers(binding.Modifiers()), uintptr(binding.VirtualKey()))
	if res == 0 {
		readyCh <- loopReady{err: callError("RegisterHotKey", err)}
		return
	}
	defer func() {
		if res, _, err := procUnregisterHotKey.Call(0, uintptr(hotkeyID)); res == 0 {
			slog.Warn("[hotkey] UnregisterHotKey on loop exit failed", "error", callError("UnregisterHotKey", err), "hotkeyID", hotkeyID)
		}
	}()

	readyCh <- loopReady{threadID: threadID}

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[hotkey] GetMessageW failed, exiting loop", "error", lastErr, "hotkeyID", hotkeyID)
			return
		case 0:
			return
		}
		if msg.message == wmHotkey && int32(msg.wParam) == hotkeyID {
			go onTrigger()
		}
	}
}

func postQuit(threadID uint32) error {
	if threadID == 0 {
		return errors.New("cannot post WM_QUIT: threadID is 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), wmQuit, 0, 0)
	if res != 0 {
		return nil
	}
	return callError("PostThreadMessageW", err)
}

// callError normalizes the error returned by LazyProc.Call on failure.
func callError(name string, err error) error {
	if errno, ok := err.(windows.Errno); ok && errno != 0 {
		return fmt.Errorf("%s: %w", name, errno)
	}
	return fmt.Errorf("%s failed", name)
}
