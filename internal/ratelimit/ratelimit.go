/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ratelimit implements the sliding 60-slot rate window: one
// slot per minute of the hour, kept as two independent arrays (record
// count and byte count) used by the ingest daemon's pre-send checks
// and the post daemon's pre-delivery checks.
package ratelimit

const slots = 60

// Window is one 60-slot sliding-window counter, e.g. the record-count
// axis or the byte-count axis.
type Window struct {
	buckets [slots]uint64
}

// Check reports whether adding incr to the window beginning
// windowLength minutes before currentMinute (inclusive) and ending at
// currentMinute would stay within limit, without overflowing any
// individual slot. It does not mutate state; call Update separately
// once the caller has committed to sending.
func (w *Window) Check(currentMinute, windowLength int, limit uint64, incr uint64) bool {
	cur := ((currentMinute % slots) + slots) % slots
	if w.buckets[cur]+incr < w.buckets[cur] { // the slot Update will bump would overflow
		return false
	}
	start := ((currentMinute-windowLength+1)%slots + slots) % slots
	var sum uint64
	for i := 0; i < windowLength; i++ {
		slot := (start + i) % slots
		v := w.buckets[slot]
		if sum+v < sum { // overflow summing the window itself
			return false
		}
		sum += v
	}
	if sum+incr < sum {
		return false
	}
	return sum+incr <= limit
}

// Update adds incr to the current minute's slot, then zeros every
// slot strictly after it up through the start of the *next* pass
// through the hour (60-windowLength slots), so stale counts from the
// previous lap are already clear by the time the window reaches them
// again.
func (w *Window) Update(currentMinute, windowLength int, incr uint64) {
	cur := ((currentMinute % slots) + slots) % slots
	w.buckets[cur] += incr
	clear := slots - windowLength
	for i := 1; i <= clear; i++ {
		w.buckets[(cur+i)%slots] = 0
	}
}

// Reset zeros every slot.
func (w *Window) Reset() {
	for i := range w.buckets {
		w.buckets[i] = 0
	}
}

// AllZero reports whether every slot is currently zero.
func (w *Window) AllZero() bool {
	for _, v := range w.buckets {
		if v != 0 {
			return false
		}
	}
	return true
}

// Limiter owns the record-count and byte-count axes together. A
// negative limit disables an axis; if both are disabled the limiter is
// inert for the lifetime of the daemon instance.
type Limiter struct {
	records Window
	bytes   Window

	recordWindowLen int
	byteWindowLen   int
	recordLimit     int
	byteLimit       int

	recordsEnabled bool
	bytesEnabled   bool
}

// New builds a Limiter. A limit < 0 disables that axis.
func New(recordWindowLen, byteWindowLen, recordLimit, byteLimit int) *Limiter {
	return &Limiter{
		recordWindowLen: recordWindowLen,
		byteWindowLen:   byteWindowLen,
		recordLimit:     recordLimit,
		byteLimit:       byteLimit,
		recordsEnabled:  recordLimit >= 0,
		bytesEnabled:    byteLimit >= 0,
	}
}

// Disabled reports whether both axes are off.
func (l *Limiter) Disabled() bool { return !l.recordsEnabled && !l.bytesEnabled }

// Allow reports whether one more record of size n bytes may be
// admitted at minute currentMinute (0-59), checking both enabled axes.
// It does not mutate state.
func (l *Limiter) Allow(currentMinute int, n uint64) bool {
	if l.recordsEnabled && !l.records.Check(currentMinute, l.recordWindowLen, uint64(l.recordLimit), 1) {
		return false
	}
	if l.bytesEnabled && !l.bytes.Check(currentMinute, l.byteWindowLen, uint64(l.byteLimit), n) {
		return false
	}
	return true
}

// Commit records that a record of size n bytes was admitted at
// currentMinute, updating whichever axes are enabled.
func (l *Limiter) Commit(currentMinute int, n uint64) {
	if l.recordsEnabled {
		l.records.Update(currentMinute, l.recordWindowLen, 1)
	}
	if l.bytesEnabled {
		l.bytes.Update(currentMinute, l.byteWindowLen, n)
	}
}
