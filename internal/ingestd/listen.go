/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ingestd

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/telemetrics/telemetryd/internal/errs"
)

// activationFD is the first inherited file descriptor under the
// systemd socket-activation convention: fd 3, guarded by
// LISTEN_PID/LISTEN_FDS.
const activationFD = 3

// Listen binds socketPath as a UNIX stream socket with mode 0666, or,
// when the process was handed an activation socket, validates and
// reuses that descriptor instead of binding its own. Either way the
// result is an *net.UnixListener ready for Accept.
func Listen(socketPath string) (*net.UnixListener, error) {
	if l, ok := inheritedListener(); ok {
		return l, nil
	}

	os.Remove(socketPath) // stale socket from an unclean previous exit
	addr := &net.UnixAddr{Name: socketPath, Net: "unix"}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", socketPath, errs.IoError)
	}
	if err := os.Chmod(socketPath, 0666); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod %s: %w", socketPath, errs.IoError)
	}
	return l, nil
}

// inheritedListener looks for a systemd-style activation socket: when
// LISTEN_PID matches our pid and LISTEN_FDS is at least 1, fd 3 is
// validated as an AF_UNIX/SOCK_STREAM socket and wrapped.
func inheritedListener() (*net.UnixListener, bool) {
	pidStr, ok := os.LookupEnv("LISTEN_PID")
	if !ok {
		return nil, false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid != os.Getpid() {
		return nil, false
	}
	fdsStr, ok := os.LookupEnv("LISTEN_FDS")
	if !ok {
		return nil, false
	}
	fds, err := strconv.Atoi(fdsStr)
	if err != nil || fds < 1 {
		return nil, false
	}

	f := os.NewFile(uintptr(activationFD), "listen-fd")
	if f == nil {
		return nil, false
	}
	fl, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, false
	}
	ul, ok := fl.(*net.UnixListener)
	if !ok {
		fl.Close()
		return nil, false
	}
	return ul, true
}
