/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package identity manages the host's machine_id: a 128-bit random
// identifier persisted in the ingest daemon's state directory,
// rotated when stale, and overridable by a static configuration file.
package identity

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/telemetrics/telemetryd/internal/record"
)

// MaxAge is the maximum age of a stored machine_id before it is
// rotated.
const MaxAge = 3 * 24 * time.Hour

// Manager owns the machine_id persistence file and an optional
// override file that bypasses rotation entirely.
type Manager struct {
	path         string
	overridePath string

	now func() time.Time
}

// NewManager builds a Manager. overridePath may be empty, meaning no
// override is configured.
func NewManager(path, overridePath string) *Manager {
	return &Manager{path: path, overridePath: overridePath, now: time.Now}
}

// Current returns the 32-hex-char machine id to stamp onto accepted
// records, generating or rotating the persisted id as needed. The
// override file, when present and valid, always wins.
func (m *Manager) Current() (string, error) {
	if m.overridePath != "" {
		if id, ok := m.readOverride(); ok {
			return id, nil
		}
	}
	return m.currentOrRotate()
}

func (m *Manager) readOverride() (string, bool) {
	b, err := os.ReadFile(m.overridePath)
	if err != nil {
		return "", false
	}
	id := strings.TrimSpace(string(b))
	if record.ValidateHexID(id) != nil {
		return "", false
	}
	return id, true
}

func (m *Manager) currentOrRotate() (string, error) {
	fi, statErr := os.Stat(m.path)
	if statErr == nil {
		age := m.now().Sub(fi.ModTime())
		if age < MaxAge {
			if b, err := os.ReadFile(m.path); err == nil {
				id := strings.TrimSpace(string(b))
				if record.ValidateHexID(id) == nil {
					return id, nil
				}
			}
		}
	} else if !os.IsNotExist(statErr) {
		return "", fmt.Errorf("stat machine_id file: %w", statErr)
	}
	return m.rotate()
}

func (m *Manager) rotate() (string, error) {
	id := newHexID()
	if err := renameio.WriteFile(m.path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("writing machine_id: %w", err)
	}
	return id, nil
}

// newHexID generates a fresh 128-bit random identifier formatted as
// 32 lowercase hex characters (a UUIDv4 with its dashes stripped).
func newHexID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Refresh re-checks staleness and rotates if needed; intended to be
// called on an hourly timer by the ingest daemon per spec, independent
// of the per-record Current() calls.
func (m *Manager) Refresh() error {
	_, err := m.Current()
	return err
}
