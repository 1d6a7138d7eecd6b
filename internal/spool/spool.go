/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package spool implements the on-disk staged-file format: one file
// per record, written atomically by the ingest daemon via
// github.com/google/renameio, and later read, aged, and removed by
// the post daemon.
package spool

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/record"
)

// CfgPrefix is the fixed 4-byte ASCII sentinel marking an optional
// first line that carries a per-record override config path. A literal
// ASCII sequence keeps the file format portable across hosts of
// different endianness.
const CfgPrefix = "CFG:"

// Entry is a parsed staged file.
type Entry struct {
	Path         string
	OverrideCfg  string // empty if no CFG: line was present
	Record       *record.Record
	ModTime      time.Time
	OwnerUID     uint32
}

// Write stages a record to dir, returning the path of the new staged
// file. overrideCfg, if non-empty, is written as the CFG: prefix line.
func Write(dir string, r *record.Record, overrideCfg string) (string, error) {
	var buf bytes.Buffer
	if overrideCfg != "" {
		fmt.Fprintf(&buf, "%s%s\n", CfgPrefix, overrideCfg)
	}
	if _, err := record.WriteTo(&buf, r); err != nil {
		return "", fmt.Errorf("encoding staged file: %w", errs.IoError)
	}

	name := filepath.Join(dir, stagedFileName())
	if err := renameio.WriteFile(name, buf.Bytes(), 0640); err != nil {
		return "", fmt.Errorf("writing staged file: %w", errs.IoError)
	}
	return name, nil
}

var stagedFileCounter uint64

// stagedFileName produces a unique staged filename. renameio already
// provides the atomic-rename half of "secure temporary name"; the
// name itself only needs to avoid collisions within one directory.
func stagedFileName() string {
	stagedFileCounter++
	return fmt.Sprintf("tm.%d.%d.%d", os.Getpid(), time.Now().UnixNano(), stagedFileCounter)
}

// Read parses a staged file at path into an Entry. A malformed file
// yields errs.Corrupt, matching the post daemon's "remove, don't
// retry" policy for unparsable staged files.
func Read(path string) (*Entry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, errs.IoError)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, errs.IoError)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	overrideCfg, err := peekCfgLine(br)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, errs.IoError)
	}
	// The header block is exactly record.NumKinds() "name: value\n"
	// lines; the payload is whatever follows, minus the trailing
	// newline WriteTo/Write appended.
	hb, payload, err := splitHeaderBlock(body)
	if err != nil {
		return nil, err
	}
	rec, err := record.DecodeHeaders(hb)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 && payload[len(payload)-1] == '\n' {
		payload = payload[:len(payload)-1]
	}
	if err := rec.SetPayload(payload); err != nil {
		return nil, fmt.Errorf("%w", errs.Corrupt)
	}

	var uid uint32
	if st, ok := fi.Sys().(*unix.Stat_t); ok {
		uid = st.Uid
	}
	return &Entry{
		Path:        path,
		OverrideCfg: overrideCfg,
		Record:      rec,
		ModTime:     fi.ModTime(),
		OwnerUID:    uid,
	}, nil
}

func peekCfgLine(br *bufio.Reader) (string, error) {
	peek, err := br.Peek(len(CfgPrefix))
	if err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("empty staged file: %w", errs.Corrupt)
		}
		return "", fmt.Errorf("%w", errs.Corrupt)
	}
	if string(peek) != CfgPrefix {
		return "", nil
	}
	line, err := br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading CFG line: %w", errs.Corrupt)
	}
	line = line[:len(line)-1] // trim \n
	return line[len(CfgPrefix):], nil
}

func splitHeaderBlock(body []byte) (headerBlock, payload []byte, err error) {
	need := record.NumKinds()
	idx := 0
	for n := 0; n < need; n++ {
		nl := bytes.IndexByte(body[idx:], '\n')
		if nl < 0 {
			return nil, nil, fmt.Errorf("truncated header block: %w", errs.Corrupt)
		}
		idx += nl + 1
	}
	return body[:idx], body[idx:], nil
}

// List returns every staged file in dir, sorted by mtime ascending, so
// the spool drains oldest-first. Dot-prefixed names (renameio's
// in-progress temp files and ValidDir's write probe) are skipped, so
// only files that have been completely written are returned.
func List(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading spool dir %s: %w", dir, errs.IoError)
	}
	type fileInfo struct {
		path string
		mod  time.Time
	}
	var files []fileInfo
	for _, de := range des {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, de.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	out := make([]string, len(files))
	for i, fi := range files {
		out[i] = fi.path
	}
	return out, nil
}

// Remove deletes a staged file; missing files are not an error, since
// another actor (e.g. a concurrent drain pass) may have already
// removed it.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, errs.IoError)
	}
	return nil
}

// Expired reports whether a staged file is older than expiry or owned
// by a uid other than the running process's; either way it must not be
// delivered.
func Expired(e *Entry, expiry time.Duration, now time.Time, procUID uint32) bool {
	if now.Sub(e.ModTime) > expiry {
		return true
	}
	return e.OwnerUID != procUID
}

// DirSize sums the size in KiB of every regular file in dir, used to
// enforce spool_max_size.
func DirSize(dir string) (int, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading spool dir %s: %w", dir, errs.IoError)
	}
	var total int64
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return int(total / 1024), nil
}

// ValidDir reports whether path exists, is a directory, and is
// writable by the current process. Daemons refuse to operate
// otherwise.
func ValidDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("spool dir %s: %w", path, errs.IoError)
	}
	if !fi.IsDir() {
		return fmt.Errorf("spool path %s is not a directory: %w", path, errs.IoError)
	}
	probe := filepath.Join(path, ".write-probe."+strconv.Itoa(os.Getpid()))
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("spool dir %s not writable: %w", path, errs.IoError)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
