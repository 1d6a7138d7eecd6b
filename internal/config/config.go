/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads the daemons' single-section INI configuration
// file via gopkg.in/gcfg.v1: an intermediary gcfg struct is read
// first, then copied into the typed Config the rest of the pipeline
// uses, with defaults and environment overrides applied along the way.
//
// Only the recognized key set is exposed; gcfg rejects unknown keys
// within the [settings] section. gcfg follows git-config syntax, where
// variable names carry dashes, so the documented underscore spellings
// (socket_path, spool_dir, ...) are normalized to dashes before
// parsing.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/gcfg.v1"
)

// RateLimitStrategy selects what happens to a record blocked by the
// rate limiter.
type RateLimitStrategy string

const (
	StrategySpool RateLimitStrategy = "spool"
	StrategyDrop  RateLimitStrategy = "drop"
)

const maxConfigSize int64 = 4 * 1024 * 1024

// Defaults.
const (
	DefaultServer           = "https://telemetry.example.com/v1/records"
	DefaultSocketPath       = "/run/telem-0"
	DefaultSpoolDir         = "/var/spool/telemetry"
	DefaultJournalPath      = "/var/log/telemetry/journal"
	DefaultRetentionDir     = "/var/log/telemetry/records"
	DefaultMachineIDPath    = "/var/lib/telemetrics/machine-id"
	DefaultRecordExpiryMin  = 1200
	DefaultSpoolMaxSizeKiB  = 5120
	DefaultSpoolProcessTime = 120 * time.Second
	minSpoolProcessTime     = 120 * time.Second
	maxSpoolProcessTime     = 3600 * time.Second
	DefaultRecordWindowLen  = 15
	DefaultByteWindowLen    = 20
	DefaultRecordBurstLimit = 1000
	DefaultByteBurstLimit   = -1
)

var (
	ErrSpoolDirMissing = errors.New("spool_dir is not a directory")
	ErrWindowTooWide   = errors.New("window_length must be < 60")
	ErrBadStrategy     = errors.New("rate_limit_strategy must be spool or drop")
)

// settingsSection mirrors the [settings] INI section gcfg parses. An
// underscore in a field name matches a dash in the file's variable
// name.
type settingsSection struct {
	Server                          string
	Socket_Path                     string
	Spool_Dir                       string
	Rate_Limit_Strategy             string
	Cainfo                          string
	Tidheader                       string
	Record_Expiry                   int
	Spool_Max_Size                  int
	Spool_Process_Time              int
	Record_Window_Length            int
	Byte_Window_Length              int
	Record_Burst_Limit              int
	Byte_Burst_Limit                int
	Rate_Limit_Enabled              *bool
	Daemon_Recycling_Enabled        *bool
	Record_Retention_Enabled        bool
	Record_Server_Delivery_Enabled  *bool
	Journal_Path                    string
	Retention_Dir                   string
	Machine_Id_Path                 string
	Machine_Id_Override_Path        string
}

type rawConfig struct {
	Settings settingsSection
}

// Config is the validated, defaulted configuration shared by both
// daemons and the client library.
type Config struct {
	Server                       string
	SocketPath                   string
	SpoolDir                     string
	RateLimitStrategy            RateLimitStrategy
	CAInfo                       string
	TIDHeader                    string
	RecordExpiry                 time.Duration
	SpoolMaxSizeKiB              int
	SpoolProcessTime             time.Duration
	RecordWindowLength           int
	ByteWindowLength             int
	RecordBurstLimit             int
	ByteBurstLimit               int
	RateLimitEnabled             bool
	DaemonRecyclingEnabled       bool
	RecordRetentionEnabled       bool
	RecordServerDeliveryEnabled  bool
	JournalPath                  string
	RetentionDir                 string
	MachineIDPath                string
	MachineIDOverridePath        string
}

// Load reads and validates a config file at path. An empty path yields
// pure defaults (matching build-time defaults for server/tidheader,
// which are injected via environment overrides; see env.go).
func Load(path string) (*Config, error) {
	var raw rawConfig
	if path != "" {
		b, err := readBounded(path)
		if err != nil {
			return nil, err
		}
		if err := gcfg.ReadStringInto(&raw, normalizeKeys(string(b))); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(&raw.Settings)
	return newConfig(raw.Settings)
}

func readBounded(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigSize)
	}
	b := make([]byte, fi.Size())
	if _, err := io.ReadFull(f, b); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return b, nil
}

func newConfig(s settingsSection) (*Config, error) {
	c := &Config{
		Server:                      strOr(s.Server, DefaultServer),
		SocketPath:                  strOr(s.Socket_Path, DefaultSocketPath),
		SpoolDir:                    strOr(s.Spool_Dir, DefaultSpoolDir),
		RateLimitStrategy:           RateLimitStrategy(strOr(s.Rate_Limit_Strategy, string(StrategySpool))),
		CAInfo:                      s.Cainfo,
		TIDHeader:                   s.Tidheader,
		RecordExpiry:                time.Duration(intOr(s.Record_Expiry, DefaultRecordExpiryMin)) * time.Minute,
		SpoolMaxSizeKiB:             intOr(s.Spool_Max_Size, DefaultSpoolMaxSizeKiB),
		SpoolProcessTime:            clampDuration(time.Duration(intOr(s.Spool_Process_Time, int(DefaultSpoolProcessTime/time.Second)))*time.Second, minSpoolProcessTime, maxSpoolProcessTime),
		RecordWindowLength:          intOr(s.Record_Window_Length, DefaultRecordWindowLen),
		ByteWindowLength:            intOr(s.Byte_Window_Length, DefaultByteWindowLen),
		RecordBurstLimit:            intOr(s.Record_Burst_Limit, DefaultRecordBurstLimit),
		ByteBurstLimit:              intOrNeg(s.Byte_Burst_Limit, DefaultByteBurstLimit),
		RateLimitEnabled:            boolOr(s.Rate_Limit_Enabled, true),
		DaemonRecyclingEnabled:      boolOr(s.Daemon_Recycling_Enabled, true),
		RecordRetentionEnabled:      s.Record_Retention_Enabled,
		RecordServerDeliveryEnabled: boolOr(s.Record_Server_Delivery_Enabled, true),
		JournalPath:                 strOr(s.Journal_Path, DefaultJournalPath),
		RetentionDir:                strOr(s.Retention_Dir, DefaultRetentionDir),
		MachineIDPath:               strOr(s.Machine_Id_Path, DefaultMachineIDPath),
		MachineIDOverridePath:       s.Machine_Id_Override_Path,
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}

// Verify checks cross-field invariants a single key can't express on
// its own.
func (c *Config) Verify() error {
	if c.RateLimitStrategy != StrategySpool && c.RateLimitStrategy != StrategyDrop {
		return ErrBadStrategy
	}
	if c.RecordWindowLength >= 60 || c.ByteWindowLength >= 60 {
		return ErrWindowTooWide
	}
	return nil
}

func strOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// intOrNeg treats an explicit zero as "not set" the same as intOr, but
// a caller-supplied negative value (meaning "disabled") is preserved.
func intOrNeg(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// axisEnabled reports whether a rate-limit axis (record or byte) is
// active: a negative limit disables that axis.
func axisEnabled(limit int) bool { return limit >= 0 }

// RecordAxisEnabled reports whether the record-count axis is active.
func (c *Config) RecordAxisEnabled() bool { return c.RateLimitEnabled && axisEnabled(c.RecordBurstLimit) }

// ByteAxisEnabled reports whether the byte-count axis is active.
func (c *Config) ByteAxisEnabled() bool { return c.RateLimitEnabled && axisEnabled(c.ByteBurstLimit) }

// RateLimiterDisabled reports whether the whole limiter is inert for the
// lifetime of the daemon instance (both axes disabled).
func (c *Config) RateLimiterDisabled() bool {
	return !c.RecordAxisEnabled() && !c.ByteAxisEnabled()
}

// ForceStableLocale pins LC_ALL=C so text parsing in the daemons is
// stable regardless of the host locale.
func ForceStableLocale() {
	os.Setenv("LC_ALL", "C")
}

// normalizeKeys rewrites underscore variable names to the dash form
// gcfg's git-config grammar requires, leaving section headers, values,
// and comments untouched.
func normalizeKeys(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || t[0] == '[' || t[0] == ';' || t[0] == '#' {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		lines[i] = strings.ReplaceAll(line[:eq], "_", "-") + line[eq:]
	}
	return strings.Join(lines, "\n")
}
