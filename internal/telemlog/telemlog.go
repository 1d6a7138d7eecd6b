/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package telemlog is a small leveled logger: RFC5424-formatted lines
// via github.com/crewjam/rfc5424, a pluggable set of io.Writer
// targets, and a Relay interface so a caller can plug in whatever
// syslog/journald transport it wants. This package ships only the
// stderr/file writers and exposes Relay for the rest.
package telemlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Severity follows the RFC 5424 numbering, 0=Emergency through
// 7=Debug. Daemons report failures at levels 1-7 (Alert..Debug).
type Severity int

const (
	SevEmergency Severity = 0
	SevAlert     Severity = 1
	SevCritical  Severity = 2
	SevError     Severity = 3
	SevWarning   Severity = 4
	SevNotice    Severity = 5
	SevInfo      Severity = 6
	SevDebug     Severity = 7
)

func (s Severity) priority() rfc5424.Priority {
	switch s {
	case SevEmergency:
		return rfc5424.Daemon | rfc5424.Emergency
	case SevAlert:
		return rfc5424.Daemon | rfc5424.Alert
	case SevCritical:
		return rfc5424.Daemon | rfc5424.Crit
	case SevError:
		return rfc5424.Daemon | rfc5424.Error
	case SevWarning:
		return rfc5424.Daemon | rfc5424.Warning
	case SevNotice:
		return rfc5424.Daemon | rfc5424.Notice
	case SevInfo:
		return rfc5424.Daemon | rfc5424.Info
	default:
		return rfc5424.Daemon | rfc5424.Debug
	}
}

// Relay receives every formatted log line alongside the timestamp it
// was generated at; a caller wires in syslog/journald transport by
// implementing this.
type Relay interface {
	WriteLog(time.Time, []byte) error
}

// Logger writes RFC5424 lines to a set of writers and relays.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.Writer
	rls      []Relay
	appname  string
	hostname string
}

// New builds a Logger that writes to wtr (e.g. os.Stderr or an open
// log file), tagged with appname for the RFC5424 APP-NAME field.
func New(wtr io.Writer, appname string) *Logger {
	host, _ := os.Hostname()
	return &Logger{wtrs: []io.Writer{wtr}, appname: appname, hostname: host}
}

// AddRelay registers an additional transport (e.g. a syslog client);
// every subsequent log line is also handed to it.
func (l *Logger) AddRelay(r Relay) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.rls = append(l.rls, r)
}

func (l *Logger) log(sev Severity, msgid, format string, args ...interface{}) {
	ts := time.Now()
	msg := fmt.Sprintf(format, args...)
	m := rfc5424.Message{
		Priority:  sev.priority(),
		Timestamp: ts,
		Hostname:  l.hostname,
		AppName:   l.appname,
		MessageID: msgid,
		Message:   []byte(msg),
	}
	b, err := m.MarshalBinary()
	if err != nil {
		b = []byte(ts.UTC().Format(time.RFC3339) + " " + msg)
	}
	line := strings.TrimRight(string(b), "\n") + "\n"

	l.mtx.Lock()
	defer l.mtx.Unlock()
	for _, w := range l.wtrs {
		io.WriteString(w, line)
	}
	for _, r := range l.rls {
		r.WriteLog(ts, []byte(line))
	}
}

func (l *Logger) Debugf(format string, args ...interface{})    { l.log(SevDebug, "", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})     { l.log(SevInfo, "", format, args...) }
func (l *Logger) Noticef(format string, args ...interface{})   { l.log(SevNotice, "", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.log(SevWarning, "", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.log(SevError, "", format, args...) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.log(SevCritical, "", format, args...) }
