/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sockconn reads SO_PEERCRED credentials off an accepted UNIX
// stream connection. uid/permission on the socket is the only
// authentication gate this system has; the ingest daemon uses the
// peer uid purely for diagnostic logging, never as an accept/reject
// decision, since the 0666 socket mode is already the actual gate.
package sockconn

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/telemetrics/telemetryd/internal/errs"
)

// PeerCred is the credential triple returned by SO_PEERCRED.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

// Peer reads the connecting process's credentials off an accepted
// *net.UnixConn. It returns errs.IoError if the platform or socket
// type doesn't support SO_PEERCRED.
func Peer(conn *net.UnixConn) (PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCred{}, fmt.Errorf("obtaining raw conn: %w", errs.IoError)
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCred{}, fmt.Errorf("control call: %w", errs.IoError)
	}
	if sockErr != nil {
		return PeerCred{}, fmt.Errorf("SO_PEERCRED: %w", errs.IoError)
	}
	return PeerCred{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
