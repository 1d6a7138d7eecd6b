/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package daemon holds the small pieces of daemon lifecycle shared by
// the ingest and post daemons: a single-instance lock file and the
// idle-recycling timer. A recycling-enabled daemon whose spool stays
// quiet for ExitTime exits cleanly; a supervisor restarts it on
// demand.
package daemon

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ExitTime is the idle duration after which a recycling-enabled
// daemon exits cleanly.
const ExitTime = 2 * time.Hour

// Lock is an exclusive, non-blocking file lock preventing two copies
// of the same daemon from racing the same spool directory or socket.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock tries to take an exclusive lock on path, creating it if
// necessary. It returns an error immediately if another process
// already holds the lock, rather than blocking.
func AcquireLock(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("another instance already holds the lock at %s", path)
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks the file. Safe to call once.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// IdleRecycler tracks the last time the daemon observed activity (a
// connection accepted, a staged file processed) and reports whether
// it has now been idle long enough to exit, per the recycling policy.
type IdleRecycler struct {
	enabled  bool
	lastSeen time.Time
	now      func() time.Time
}

// NewIdleRecycler builds a recycler. If enabled is false, ShouldExit
// always reports false.
func NewIdleRecycler(enabled bool) *IdleRecycler {
	return &IdleRecycler{enabled: enabled, lastSeen: time.Now(), now: time.Now}
}

// Touch records activity, resetting the idle clock.
func (r *IdleRecycler) Touch() {
	r.lastSeen = r.now()
}

// ShouldExit reports whether the daemon has been idle at least
// ExitTime since the last Touch.
func (r *IdleRecycler) ShouldExit() bool {
	if !r.enabled {
		return false
	}
	return r.now().Sub(r.lastSeen) >= ExitTime
}
