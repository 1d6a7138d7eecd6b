/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package record

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/telemetrics/telemetryd/internal/errs"
)

// EncodeHeaders renders the header block in canonical order as
// "name: value\n" ASCII lines.
func EncodeHeaders(r *Record) []byte {
	var buf bytes.Buffer
	for _, h := range r.Headers() {
		fmt.Fprintf(&buf, "%s: %s\n", h.Kind.String(), h.Value)
	}
	return buf.Bytes()
}

// DecodeHeaders parses an ASCII header block of "name: value\n" lines
// and reconstructs a Record. Parsing enforces:
//   - every line's name matches a known Kind exactly, followed by ":"
//     and an optional single space (no accepting
//     "classification_extra:" as "classification:")
//   - headers appear in strictly increasing canonical Kind order
//   - every Kind appears exactly once
//
// Any violation returns errs.Corrupt, matching the post daemon's
// policy of dropping unparsable staged files rather than retrying
// them.
func DecodeHeaders(block []byte) (*Record, error) {
	r := &Record{}
	sc := bufio.NewScanner(bytes.NewReader(block))
	sc.Buffer(make([]byte, 4096), 1<<20)
	expect := Kind(0)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		idx := bytes.IndexByte([]byte(line), ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed header line %q: %w", line, errs.Corrupt)
		}
		name := line[:idx]
		value := line[idx+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		k, ok := KindFromName(name)
		if !ok {
			return nil, fmt.Errorf("unknown header %q: %w", name, errs.Corrupt)
		}
		if k != expect {
			return nil, fmt.Errorf("header %q out of order, expected %q: %w", name, expect.String(), errs.Corrupt)
		}
		r.headers[k] = value
		expect++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning header block: %w", errs.Corrupt)
	}
	if int(expect) != numKinds {
		return nil, fmt.Errorf("header block incomplete, got %d of %d headers: %w", int(expect), numKinds, errs.Corrupt)
	}
	return r, nil
}

// ParseSeverity parses and clamps a severity header value, tolerating
// whatever an upstream probe sent.
func ParseSeverity(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return minSeverity
	}
	return ClampSeverity(v)
}

// WriteTo writes the header block followed by the payload and a
// trailing newline, matching the staged-file body shape.
func WriteTo(w io.Writer, r *Record) (int64, error) {
	var total int64
	hb := EncodeHeaders(r)
	n, err := w.Write(hb)
	total += int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(r.Payload)
	total += int64(n)
	if err != nil {
		return total, err
	}
	nn, err := w.Write([]byte("\n"))
	total += int64(nn)
	return total, err
}
