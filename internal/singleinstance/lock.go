// Package singleinstance keeps one KeyBubbles process per user. A second
// launch gets ErrAlreadyRunning and hands off to the running instance over
// the control pipe.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")
