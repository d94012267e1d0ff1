//go:build windows

package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/windows"

	"keybubbles/internal/render"
)

var (
	user32DLL = windows.NewLazySystemDLL("user32.dll")

	procFindWindowW       = user32DLL.NewProc("FindWindowW")
	procGetWindowLongPtrW = user32DLL.NewProc("GetWindowLongPtrW")
	procSetWindowLongPtrW = user32DLL.NewProc("SetWindowLongPtrW")
	procSetWindowPos      = user32DLL.NewProc("SetWindowPos")
	procGetSystemMetrics  = user32DLL.NewProc("GetSystemMetrics")
)

const (
	gwlExStyle = ^uintptr(19) // GWL_EXSTYLE (-20)

	wsExTopmost     = 0x00000008
	wsExTransparent = 0x00000020
	wsExToolWindow  = 0x00000080
	wsExAppWindow   = 0x00040000
	wsExLayered     = 0x00080000
	wsExNoActivate  = 0x08000000

	hwndTopmost = ^uintptr(0) // HWND_TOPMOST (-1)

	swpNoSize       = 0x0001
	swpNoMove       = 0x0002
	swpNoActivate   = 0x0010
	swpFrameChanged = 0x0020
	swpShowWindow   = 0x0040

	smCXScreen = 0
	smCYScreen = 1
)

// PrimaryScreen returns the primary monitor size in pixels.
func PrimaryScreen() render.Rect {
	if err := user32DLL.Load(); err != nil {
		return fallbackScreen
	}
	w, _, _ := procGetSystemMetrics.Call(smCXScreen)
	h, _, _ := procGetSystemMetrics.Call(smCYScreen)
	if int32(w) <= 0 || int32(h) <= 0 {
		slog.Warn("[overlay] GetSystemMetrics returned no screen size, using fallback")
		return fallbackScreen
	}
	return render.Rect{W: int(int32(w)), H: int(int32(h))}
}

// MakeClickThrough finds the overlay window by title and makes it layered,
// transparent to the mouse, hidden from the taskbar, never focused, and
// topmost.
func MakeClickThrough(title string) error {
	if err := user32DLL.Load(); err != nil {
		return fmt.Errorf("user32.dll is unavailable: %w", err)
	}
	titlePtr, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return fmt.Errorf("encode window title: %w", err)
	}
	hwnd, _, _ := procFindWindowW.Call(0, uintptr(unsafe.Pointer(titlePtr)))
	if hwnd == 0 {
		return fmt.Errorf("%w: %q", ErrWindowNotFound, title)
	}

	style, _, _ := procGetWindowLongPtrW.Call(hwnd, gwlExStyle)
	next := (style &^ wsExAppWindow) | wsExLayered | wsExTransparent | wsExToolWindow | wsExNoActivate | wsExTopmost
	if next != style {
		if ret, _, callErr := procSetWindowLongPtrW.Call(hwnd, gwlExStyle, next); ret == 0 && !errors.Is(callErr, windows.ERROR_SUCCESS) {
			return fmt.Errorf("SetWindowLongPtrW: %w", callErr)
		}
	}
	ret, _, callErr := procSetWindowPos.Call(hwnd, hwndTopmost, 0, 0, 0, 0,
		swpNoMove|swpNoSize|swpNoActivate|swpFrameChanged|swpShowWindow)
	if ret == 0 {
		return fmt.Errorf("SetWindowPos: %w", callErr)
	}
	slog.Debug("[overlay] window made click-through", "hwnd", hwnd, "exStyle", fmt.Sprintf("%#x", next))
	return nil
}

// ShowError shows a blocking native error dialog.
func ShowError(title, message string) {
	t, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return
	}
	m, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return
	}
	if _, err := windows.MessageBox(0, m, t, windows.MB_OK|windows.MB_ICONERROR|windows.MB_SETFOREGROUND); err != nil {
		slog.Warn("[overlay] MessageBox failed", "error", err)
	}
}
