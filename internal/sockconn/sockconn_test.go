/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package sockconn

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerReportsOwnCredentials(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer client.Close()

	conn := <-accepted
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	require.True(t, ok)

	cred, err := Peer(unixConn)
	require.NoError(t, err)
	require.Equal(t, uint32(os.Getuid()), cred.UID)
	require.Greater(t, cred.PID, int32(0))
}
