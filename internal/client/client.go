/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package client implements the probe-facing record-creation and
// delivery library: create a record, attach a payload and optional
// event id, and send it framed over the ingest daemon's UNIX stream
// socket.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/optout"
	"github.com/telemetrics/telemetryd/internal/record"
	"github.com/telemetrics/telemetryd/internal/sysinfo"
	"github.com/telemetrics/telemetryd/internal/wireframe"
)

// ConnectTimeout bounds how long SendRecord waits to establish the
// connection to the ingest socket.
const ConnectTimeout = 1 * time.Second

// Client builds and sends records to the ingest daemon's UNIX stream
// socket. It is safe to reuse across many records.
type Client struct {
	socketPath string
	optOut     *optout.Checker
}

// New builds a Client targeting socketPath, checking the default
// opt-out marker file before every call.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath, optOut: optout.Default()}
}

// NewWithOptOut builds a Client with a caller-supplied opt-out
// checker, e.g. for tests.
func NewWithOptOut(socketPath string, checker *optout.Checker) *Client {
	return &Client{socketPath: socketPath, optOut: checker}
}

// CreateRecord allocates a record and populates every sysinfo-derived
// header, refusing immediately if the host has opted out of telemetry
// collection.
func (c *Client) CreateRecord(severity int, classification string, payloadFormatVersion int) (*record.Record, error) {
	if c.optOut.IsOptedOut() {
		return nil, fmt.Errorf("telemetry opted out: %w", errs.Refused)
	}
	r, err := record.New(severity, classification, payloadFormatVersion)
	if err != nil {
		return nil, err
	}
	populateSysinfo(r)
	return r, nil
}

func populateSysinfo(r *record.Record) {
	r.SetHeader(record.KindCreationTimestamp, fmt.Sprintf("%d", time.Now().Unix()))
	r.SetHeader(record.KindArch, sysinfo.Arch())
	r.SetHeader(record.KindHostType, sysinfo.HostType())
	r.SetHeader(record.KindBuild, sysinfo.Build())
	r.SetHeader(record.KindKernelVersion, sysinfo.KernelVersion())
	r.SetHeader(record.KindSystemName, sysinfo.SystemName())
	r.SetHeader(record.KindBoardName, sysinfo.BoardName())
	r.SetHeader(record.KindCPUModel, sysinfo.CPUModel())
	r.SetHeader(record.KindBIOSVersion, sysinfo.BIOSVersion())
}

// SetPayload validates and attaches the payload body, refusing if
// opt-out is active.
func (c *Client) SetPayload(r *record.Record, payload []byte) error {
	if c.optOut.IsOptedOut() {
		return fmt.Errorf("telemetry opted out: %w", errs.Refused)
	}
	return r.SetPayload(payload)
}

// SetEventID overrides the auto-assigned event id, refusing if opt-out
// is active.
func (c *Client) SetEventID(r *record.Record, id string) error {
	if c.optOut.IsOptedOut() {
		return fmt.Errorf("telemetry opted out: %w", errs.Refused)
	}
	return r.SetEventID(id)
}

// SendRecord connects to the configured ingest socket (bounded by
// ConnectTimeout), writes the framed record, and closes the
// connection. It refuses immediately if opt-out is active.
func (c *Client) SendRecord(r *record.Record) error {
	if c.optOut.IsOptedOut() {
		return fmt.Errorf("telemetry opted out: %w", errs.Refused)
	}

	conn, err := net.DialTimeout("unix", c.socketPath, ConnectTimeout)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return fmt.Errorf("connecting to %s: %w", c.socketPath, errs.Timeout)
		}
		return fmt.Errorf("connecting to %s: %w", c.socketPath, errs.Refused)
	}
	defer conn.Close()

	frame := wireframe.Encode(r)
	if err := conn.SetWriteDeadline(time.Now().Add(ConnectTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", errs.IoError)
	}
	if _, err := conn.Write(frame); err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return fmt.Errorf("writing record: %w", errs.Timeout)
		}
		return fmt.Errorf("writing record: %w", errs.IoError)
	}
	return nil
}
