/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package client

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/optout"
	"github.com/telemetrics/telemetryd/internal/record"
	"github.com/telemetrics/telemetryd/internal/wireframe"
)

func newTestClient(t *testing.T, socketPath string) *Client {
	t.Helper()
	marker := filepath.Join(t.TempDir(), "opt-out")
	return NewWithOptOut(socketPath, optout.NewChecker(marker))
}

func TestCreateRecordPopulatesSysinfo(t *testing.T) {
	c := newTestClient(t, "/nonexistent")
	r, err := c.CreateRecord(2, "org.test/probe/sub", 1)
	require.NoError(t, err)
	require.NotEmpty(t, r.Header(record.KindArch))
	require.NotEmpty(t, r.Header(record.KindKernelVersion))
	require.NotEmpty(t, r.Header(record.KindCreationTimestamp))
	require.Equal(t, record.MachineIDSentinel, r.Header(record.KindMachineID))
}

func TestCreateRecordRejectsBadClassification(t *testing.T) {
	c := newTestClient(t, "/nonexistent")
	_, err := c.CreateRecord(2, "bad-classification", 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Invalid))
}

func TestOptOutRefusesEveryCall(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "opt-out")
	require.NoError(t, os.WriteFile(marker, []byte("1"), 0644))
	c := NewWithOptOut("/nonexistent", optout.NewChecker(marker))

	_, err := c.CreateRecord(2, "org.test/probe/sub", 1)
	require.True(t, errors.Is(err, errs.Refused))

	r, _ := record.New(2, "org.test/probe/sub", 1)
	require.True(t, errors.Is(c.SetPayload(r, []byte("x")), errs.Refused))
	require.True(t, errors.Is(c.SetEventID(r, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), errs.Refused))
	require.True(t, errors.Is(c.SendRecord(r), errs.Refused))
}

func TestSendRecordWritesCompleteFrame(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	c := newTestClient(t, sockPath)
	r, err := c.CreateRecord(2, "org.test/probe/sub", 1)
	require.NoError(t, err)
	require.NoError(t, c.SetPayload(r, []byte("hello")))
	require.NoError(t, c.SendRecord(r))

	body := <-received
	hb, payload, err := wireframe.NewReader(bytes.NewReader(body)).ReadFrame()
	require.NoError(t, err)
	decoded, err := wireframe.DecodeRecord(hb, payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded.Payload))
}

func TestSendRecordRefusedWhenNoListener(t *testing.T) {
	dir := t.TempDir()
	c := newTestClient(t, filepath.Join(dir, "no-such-socket"))
	r, err := c.CreateRecord(2, "org.test/probe/sub", 1)
	require.NoError(t, err)
	err = c.SendRecord(r)
	require.True(t, errors.Is(err, errs.Refused))
}
