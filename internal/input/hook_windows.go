//go:build windows

package input

import (
	"context"
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
	user32DLL = windows.NewLazySystemDLL("user32.dll")

	procSetWindowsHookExW   = user32DLL.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32DLL.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32DLL.NewProc("CallNextHookEx")
	procGetMessageW         = user32DLL.NewProc("GetMessageW")
	procPeekMessageW        = user32DLL.NewProc("PeekMessageW")
	procPostThreadMessageW  = user32DLL.NewProc("PostThreadMessageW")
)

const (
	whKeyboardLL = 13
	whMouseLL    = 14

	wmQuit       = 0x0012
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105

	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	wmRButtonDown = 0x0204
	wmRButtonUp   = 0x0205
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208

	// wmSetMouse asks the hook thread to install (wParam=1) or remove
	// (wParam=0) the mouse hook. Hooks must be changed on their own thread.
	wmSetMouse = 0x8000 + 1 // WM_APP + 1

	pmNoRemove = 0x0000
	hcAction   = 0

	hookStopTimeout = 2 * time.Second
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type point struct {
	x int32
	y int32
}

// winMsg mirrors the Win32 MSG struct. Layout must not change.
type winMsg struct {
	hWnd     uintptr
	message  uint32
	wParam   uintptr
	lParam   uintptr
	time     uint32
	pt       point
	lPrivate uint32
}

var mouseButtons = map[uintptr]struct {
	key    keys.Key
	action keys.Action
}{
	wmLButtonDown: {keys.MouseLeft, keys.Press},
	wmLButtonUp:   {keys.MouseLeft, keys.Release},
	wmRButtonDown: {keys.MouseRight, keys.Press},
	wmRButtonUp:   {keys.MouseRight, keys.Release},
	wmMButtonDown: {keys.MouseMiddle, keys.Press},
	wmMButtonUp:   {keys.MouseMiddle, keys.Release},
}

// activeHook is the HookSource the OS callbacks deliver to. Low-level hook
// procedures carry no user data, so only one HookSource may run at a time.
var activeHook atomic.Pointer[HookSource]

var (
	callbackOnce     sync.Once
	keyboardCallback uintptr
	mouseCallback    uintptr
)

// nowFn is a test seam.
var nowFn = time.Now

// HookSource captures global input with WH_KEYBOARD_LL and WH_MOUSE_LL hooks
// on a dedicated OS thread that pumps Win32 messages.
type HookSource struct {
	mouse atomic.Bool
	emit  func(keys.Event)

	mu       sync.Mutex
	threadID uint32
	doneCh   chan struct{}
}

// NewHookSource creates a hook source. mouse selects whether the mouse
// hook is installed at start.
func NewHookSource(mouse bool) *HookSource {
	h := &HookSource{}
	h.mouse.Store(mouse)
	return h
}

// Name implements Source.
func (h *HookSource) Name() string { return "win32-ll-hook" }

type loopReady struct {
	threadID uint32
	err      error
}

// Start implements Source.
func (h *HookSource) Start(ctx context.Context, emit func(keys.Event)) error {
	if err := user32DLL.Load(); err != nil {
		return fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doneCh != nil {
		return ErrAlreadyStarted
	}
	h.emit = emit
	if !activeHook.CompareAndSwap(nil, h) {
		return errors.New("another input hook is already active")
	}

	callbackOnce.Do(func() {
		keyboardCallback = windows.NewCallback(keyboardProc)
		mouseCallback = windows.NewCallback(mouseProc)
	})

	readyCh := make(chan loopReady, 1)
	doneCh := make(chan struct{})
	go h.runLoop(readyCh, doneCh)

	ready := <-readyCh
	if ready.err != nil {
		activeHook.CompareAndSwap(h, nil)
		return ready.err
	}
	h.threadID = ready.threadID
	h.doneCh = doneCh

	// A cancelled context stops the hook as well as an explicit Stop.
	go func() {
		select {
		case <-ctx.Done():
			if err := h.Stop(); err != nil {
				slog.Warn("[input] hook stop on context cancel failed", "error", err)
			}
		case <-doneCh:
		}
	}()
	return nil
}

// SetMouseEnabled implements MouseToggler.
func (h *HookSource) SetMouseEnabled(enabled bool) {
	h.mouse.Store(enabled)
	h.mu.Lock()
	threadID := h.threadID
	h.mu.Unlock()
	if threadID == 0 {
		return
	}
	var flag uintptr
	if enabled {
		flag = 1
	}
	if err := postThreadMessage(threadID, wmSetMouse, flag); err != nil {
		slog.Warn("[input] failed to toggle mouse hook", "enabled", enabled, "error", err)
	}
}

// Stop implements Source. It waits for the hook thread to unhook and exit.
func (h *HookSource) Stop() error {
	h.mu.Lock()
	threadID, doneCh := h.threadID, h.doneCh
	h.threadID, h.doneCh = 0, nil
	h.mu.Unlock()
	if doneCh == nil {
		return nil
	}

	stopErr := postThreadMessage(threadID, wmQuit, 0)

	timer := time.NewTimer(hookStopTimeout)
	defer timer.Stop()
	select {
	case <-doneCh:
	case <-timer.C:
		slog.Warn("[input] hook thread stop timed out, thread may leak", "threadID", threadID)
		stopErr = errors.Join(stopErr, errors.New("input hook stop timed out"))
	}
	activeHook.CompareAndSwap(h, nil)
	return stopErr
}

func (h *HookSource) runLoop(readyCh chan<- loopReady, doneCh chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(doneCh)

	threadID := windows.GetCurrentThreadId()

	// Forces creation of the thread message queue so PostThreadMessageW works.
	var qmsg winMsg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&qmsg)), 0, 0, 0, pmNoRemove)

	kbHook, err := setHook(whKeyboardLL, keyboardCallback)
	if err != nil {
		readyCh <- loopReady{err: fmt.Errorf("install keyboard hook: %w", err)}
		return
	}
	defer unhook(kbHook, "keyboard")

	var mouseHook uintptr
	setMouse := func(enabled bool) {
		switch {
		case enabled && mouseHook == 0:
			hk, err := setHook(whMouseLL, mouseCallback)
			if err != nil {
				slog.Warn("[input] install mouse hook failed", "error", err)
				return
			}
			mouseHook = hk
		case !enabled && mouseHook != 0:
			unhook(mouseHook, "mouse")
			mouseHook = 0
		}
	}
	setMouse(h.mouse.Load())
	defer func() { setMouse(false) }()

	readyCh <- loopReady{threadID: threadID}
	slog.Debug("[input] hook thread running", "threadID", threadID)

	for {
		var msg winMsg
		ret, _, lastErr := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		switch int32(ret) {
		case -1:
			slog.Warn("[input] GetMessageW failed, stopping hook thread", "error", lastErr)
			return
		case 0:
			return
		}
		if msg.message == wmSetMouse {
			setMouse(msg.wParam != 0)
		}
	}
}

func setHook(kind int, callback uintptr) (uintptr, error) {
	hk, _, err := procSetWindowsHookExW.Call(uintptr(kind), callback, 0, 0)
	if hk == 0 {
		if errors.Is(err, windows.ERROR_SUCCESS) {
			return 0, errors.New("SetWindowsHookExW failed")
		}
		return 0, err
	}
	return hk, nil
}

func unhook(hk uintptr, label string) {
	if ret, _, err := procUnhookWindowsHookEx.Call(hk); ret == 0 {
		slog.Warn("[input] UnhookWindowsHookEx failed", "hook", label, "error", err)
	}
}

func postThreadMessage(threadID uint32, msg uint32, wParam uintptr) error {
	if threadID == 0 {
		return errors.New("cannot post to thread 0")
	}
	res, _, err := procPostThreadMessageW.Call(uintptr(threadID), uintptr(msg), wParam, 0)
	if res != 0 {
		return nil
	}
	if errors.Is(err, windows.ERROR_SUCCESS) {
		return errors.New("PostThreadMessageW failed")
	}
	return err
}

func callNext(nCode, wParam, lParam uintptr) uintptr {
	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

// keyboardProc never consumes input: every path ends in CallNextHookEx.
func keyboardProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) == hcAction {
		if h := activeHook.Load(); h != nil && h.emit != nil {
			info := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			if key, ok := keys.FromVirtualKey(info.vkCode); ok {
				action := keys.Press
				switch wParam {
				case wmKeyDown, wmSysKeyDown:
				case wmKeyUp, wmSysKeyUp:
					action = keys.Release
				default:
					return callNext(nCode, wParam, lParam)
				}
				h.emit(keys.Event{Key: key, Code: info.vkCode, Time: nowFn(), Action: action, Origin: keys.Keyboard})
			}
		}
	}
	return callNext(nCode, wParam, lParam)
}

func mouseProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) == hcAction {
		if btn, ok := mouseButtons[wParam]; ok {
			if h := activeHook.Load(); h != nil && h.emit != nil && h.mouse.Load() {
				h.emit(keys.Event{Key: btn.key, Time: nowFn(), Action: btn.action, Origin: keys.Mouse})
			}
		}
	}
	return callNext(nCode, wParam, lParam)
}
