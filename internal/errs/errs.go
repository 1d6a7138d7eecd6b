/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package errs holds the sentinel error taxonomy shared by every
// component of the telemetry pipeline. Components wrap one of these
// with fmt.Errorf("...: %w", ...) so callers can test with errors.Is.
package errs

import "errors"

var (
	// Invalid marks input validation failures: bad classification,
	// oversized payload, non-ASCII content, malformed event id.
	Invalid = errors.New("invalid")

	// Refused marks an opt-out-active or connection-refused condition.
	Refused = errors.New("refused")

	// Timeout marks a connect or I/O operation that exceeded its bound.
	Timeout = errors.New("timeout")

	// IoError marks a disk or socket I/O failure.
	IoError = errors.New("i/o error")

	// Corrupt marks a staged file that cannot be parsed; the record is
	// dropped rather than retried.
	Corrupt = errors.New("corrupt record")

	// BackendError marks a non-success HTTPS response; the record is
	// retained for retry.
	BackendError = errors.New("backend error")

	// Exhausted marks a full spool directory or a rate-limit array
	// that would overflow.
	Exhausted = errors.New("exhausted")

	// Fatal marks an unrecoverable condition (OOM, broken syscall)
	// that should terminate the daemon.
	Fatal = errors.New("fatal")
)
