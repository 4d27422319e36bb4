package locks

import (
	"os"
	"time"
)

// Backoff constants for the waiting loops. Polls start short so quick
// releases are noticed promptly, then stretch toward the cap to keep a
// long wait from hammering a shared filesystem.
const (
	LockWaitStart = 500 * time.Millisecond
	LockWaitStep  = 2500 * time.Millisecond
	WaitCap       = 60 * time.Second
)

// Waiter polls for a file condition with bounded-linear backoff.
//
// OnFirstWait fires once, before the first sleep, so the caller can flip
// its status flag and log what it is waiting on. OnProgress fires on each
// subsequent poll (the dot-progress output). OnDone fires after the
// condition clears, only if a wait actually happened.
type Waiter struct {
	Start time.Duration
	Step  time.Duration
	Cap   time.Duration

	OnFirstWait func(path string)
	OnProgress  func()
	OnDone      func(path string)
}

// NewWaiter returns a Waiter with the lock-wait backoff constants.
func NewWaiter() *Waiter {
	return &Waiter{Start: LockWaitStart, Step: LockWaitStep, Cap: WaitCap}
}

// WaitForAbsence sleeps until no file exists at path.
func (w *Waiter) WaitForAbsence(path string) {
	w.wait(path, func() bool {
		return !Exists(path)
	})
}

// WaitForPresence sleeps until a file exists at path.
func (w *Waiter) WaitForPresence(path string) {
	w.wait(path, func() bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func (w *Waiter) wait(path string, done func() bool) {
	sleeptime := w.Start
	waited := false

	for !done() {
		if !waited {
			waited = true
			if w.OnFirstWait != nil {
				w.OnFirstWait(path)
			}
		} else if w.OnProgress != nil {
			w.OnProgress()
		}

		time.Sleep(sleeptime)
		sleeptime += w.Step
		if sleeptime > w.Cap {
			sleeptime = w.Cap
		}
	}

	if waited && w.OnDone != nil {
		w.OnDone(path)
	}
}
