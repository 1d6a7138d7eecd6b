/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package journal implements the append-only record index: one line
// per delivered record, U+001E (record-separator) field-delimited,
// with prune-with-hysteresis keeping the file bounded.
package journal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dchest/safefile"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/record"
	"github.com/telemetrics/telemetryd/internal/recordid"
)

// FieldSep is U+001E, the ASCII record separator.
const FieldSep = "\x1e"

const bootIDPath = "/proc/sys/kernel/random/boot_id"

// Default hysteresis parameters: prune fires once the count exceeds
// limit+Deviation and trims back down to limit.
const (
	DefaultRecordCountLimit = 100
	Deviation               = 50
)

// Entry is one decoded journal line.
type Entry struct {
	RecordID       string
	Timestamp      time.Time
	Classification string
	EventID        string
	BootID         string
}

// PruneCallback fires once per discarded entry during Prune, e.g. to
// unlink a retention-directory copy.
type PruneCallback func(recordID string)

// Journal is an append-only, line-oriented index of delivered
// records.
type Journal struct {
	path             string
	bootID           string
	recordCount      int
	recordCountLimit int
}

// Open opens or creates the journal file at path, reads boot_id, and
// counts existing lines.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path: %w", errs.Invalid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", errs.IoError)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, errs.IoError)
	}
	defer f.Close()

	count, err := countLines(f)
	if err != nil {
		return nil, err
	}
	bootID, err := readBootID()
	if err != nil {
		return nil, err
	}
	return &Journal{
		path:             path,
		bootID:           bootID,
		recordCount:      count,
		recordCountLimit: DefaultRecordCountLimit,
	}, nil
}

// SetRecordCountLimit overrides the default hysteresis target.
func (j *Journal) SetRecordCountLimit(n int) { j.recordCountLimit = n }

// RecordCount reports how many entries the journal currently holds.
func (j *Journal) RecordCount() int { return j.recordCount }

// BootID returns the kernel boot identifier read at Open time.
func (j *Journal) BootID() string { return j.bootID }

func countLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("seeking journal: %w", errs.IoError)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)
	n := 0
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scanning journal: %w", errs.IoError)
	}
	return n, nil
}

func readBootID() (string, error) {
	b, err := os.ReadFile(bootIDPath)
	if err != nil {
		return "", fmt.Errorf("reading boot_id: %w", errs.IoError)
	}
	return strings.TrimSpace(string(b)), nil
}

// Append validates classification and event_id, generates a fresh
// record_id, writes the serialized entry, and flushes it to disk.
func (j *Journal) Append(classification string, ts time.Time, eventID string) (recordID string, err error) {
	if err := record.ValidateClassification(classification); err != nil {
		return "", err
	}
	if err := record.ValidateHexID(eventID); err != nil {
		return "", err
	}
	recordID = recordid.New()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("opening journal for append: %w", errs.IoError)
	}
	defer f.Close()

	line := serialize(Entry{RecordID: recordID, Timestamp: ts, Classification: classification, EventID: eventID, BootID: j.bootID})
	if _, err := f.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("writing journal entry: %w", errs.IoError)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("flushing journal: %w", errs.IoError)
	}
	j.recordCount++
	return recordID, nil
}

func serialize(e Entry) string {
	return strings.Join([]string{
		e.RecordID,
		strconv.FormatInt(e.Timestamp.Unix(), 10),
		e.Classification,
		e.EventID,
		e.BootID,
	}, FieldSep)
}

func deserialize(line string) (Entry, bool) {
	parts := strings.Split(line, FieldSep)
	if len(parts) != 5 {
		return Entry{}, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{
		RecordID:       parts[0],
		Timestamp:      time.Unix(ts, 0),
		Classification: parts[2],
		EventID:        parts[3],
		BootID:         parts[4],
	}, true
}

// Filter narrows Print's output; a zero-value field means "don't
// filter on this axis." Classification supports a "prefix/*" suffix
// meaning "classification starts with prefix/".
type Filter struct {
	RecordID       string
	EventID        string
	BootID         string
	Classification string
}

func (f Filter) matches(e Entry) bool {
	if f.RecordID != "" && f.RecordID != e.RecordID {
		return false
	}
	if f.EventID != "" && f.EventID != e.EventID {
		return false
	}
	if f.BootID != "" && f.BootID != e.BootID {
		return false
	}
	if f.Classification != "" {
		if strings.HasSuffix(f.Classification, "/*") {
			prefix := strings.TrimSuffix(f.Classification, "*")
			if !strings.HasPrefix(e.Classification, prefix) {
				return false
			}
		} else if f.Classification != e.Classification {
			return false
		}
	}
	return true
}

// Print reads entries (after advancing past the oldest
// record_count-record_count_limit lines, matching prune's own
// lookback window so a caller never sees pre-pruned-but-not-yet-
//-pruned entries inconsistently), applies filter, and returns the
// matches in file order.
func (j *Journal) Print(filter Filter) ([]Entry, error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", errs.IoError)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)

	skip := j.recordCount - j.recordCountLimit
	var out []Entry
	i := 0
	for sc.Scan() {
		i++
		if i <= skip {
			continue
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		e, ok := deserialize(line)
		if !ok {
			continue
		}
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning journal: %w", errs.IoError)
	}
	return out, nil
}

// Prune advances past the oldest record_count-record_count_limit
// lines once record_count exceeds record_count_limit+Deviation,
// invoking cb once per discarded entry, then atomically rewrites the
// journal to hold only the remainder via a temp file in tmpDir renamed
// over the original. No-op if the deviation threshold has not been
// crossed.
func (j *Journal) Prune(tmpDir string, cb PruneCallback) error {
	if j.recordCount <= j.recordCountLimit+Deviation {
		return nil
	}
	discard := j.recordCount - j.recordCountLimit

	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("opening journal for prune: %w", errs.IoError)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)

	sameDir := tmpDir == "" || tmpDir == filepath.Dir(j.path)

	var out io.WriteCloser
	var tmpPath string
	var safe *safefile.File
	if sameDir {
		// Same filesystem as the journal: let safefile pick and
		// atomically rename its own temp file.
		safe, err = safefile.Create(j.path, 0640)
		if err != nil {
			return fmt.Errorf("creating prune temp file: %w", errs.IoError)
		}
		out = safe
	} else {
		// tmp_dir lives elsewhere: write to "<tmp_dir>/.journal" and
		// rename over the journal. Only atomic if tmp_dir shares a
		// filesystem with the journal's directory.
		tmpPath = filepath.Join(tmpDir, ".journal")
		f, ferr := os.Create(tmpPath)
		if ferr != nil {
			return fmt.Errorf("creating prune temp file: %w", errs.IoError)
		}
		out = f
	}

	i := 0
	for sc.Scan() {
		i++
		line := sc.Text()
		if i <= discard {
			if line == "" {
				continue
			}
			if e, ok := deserialize(line); ok && cb != nil {
				cb(e.RecordID)
			}
			continue
		}
		if _, werr := io.WriteString(out, line+"\n"); werr != nil {
			out.Close()
			return fmt.Errorf("writing prune temp file: %w", errs.IoError)
		}
	}
	if err := sc.Err(); err != nil {
		out.Close()
		return fmt.Errorf("scanning journal during prune: %w", errs.IoError)
	}

	if sameDir {
		if err := safe.Commit(); err != nil {
			return fmt.Errorf("committing pruned journal: %w", errs.IoError)
		}
	} else {
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing prune temp file: %w", errs.IoError)
		}
		if err := os.Rename(tmpPath, j.path); err != nil {
			return fmt.Errorf("renaming pruned journal into place: %w", errs.IoError)
		}
	}
	j.recordCount -= discard
	return nil
}
