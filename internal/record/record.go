/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package record defines the telemetry Record type: its fixed, ordered
// header set, validation rules, and wire/staged-file serialization.
//
// Headers are modeled as a tagged enum (Kind) plus an ordered slice
// rather than free-form string maps, so serialization always emits the
// canonical order and parsing can reject out-of-order or unknown
// headers by construction.
package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/recordid"
)

// Kind tags a header field and fixes its position in the canonical
// wire and staged-file order.
type Kind int

const (
	KindRecordFormatVersion Kind = iota
	KindClassification
	KindSeverity
	KindMachineID
	KindCreationTimestamp
	KindArch
	KindHostType
	KindBuild
	KindKernelVersion
	KindSystemName
	KindBoardName
	KindCPUModel
	KindBIOSVersion
	KindPayloadFormatVersion
	KindEventID

	numKinds int = iota
)

// names holds the exact on-wire header name for each Kind, in
// canonical order. Parsing requires an exact match of name + ":";
// "classification_extra:" must never be accepted as "classification:".
var names = [numKinds]string{
	KindRecordFormatVersion:  "record_format_version",
	KindClassification:       "classification",
	KindSeverity:             "severity",
	KindMachineID:            "machine_id",
	KindCreationTimestamp:    "creation_timestamp",
	KindArch:                 "arch",
	KindHostType:             "host_type",
	KindBuild:                "build",
	KindKernelVersion:        "kernel_version",
	KindSystemName:           "system_name",
	KindBoardName:            "board_name",
	KindCPUModel:             "cpu_model",
	KindBIOSVersion:          "bios_version",
	KindPayloadFormatVersion: "payload_format_version",
	KindEventID:              "event_id",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= numKinds {
		return "unknown"
	}
	return names[k]
}

// KindFromName returns the Kind whose on-wire name matches exactly, or
// false if nothing matches.
func KindFromName(name string) (Kind, bool) {
	for i, n := range names {
		if n == name {
			return Kind(i), true
		}
	}
	return 0, false
}

// Header is one ordered header field.
type Header struct {
	Kind  Kind
	Value string
}

const (
	// RecordFormatVersion is the build-time constant baked into every
	// record the client library creates.
	RecordFormatVersion = 4

	// MaxPayloadSize is the maximum payload length in bytes.
	MaxPayloadSize = 8192

	// MachineIDSentinel is emitted by the client library in place of a
	// real machine id; the ingest daemon rewrites it in place.
	MachineIDSentinel = "ffffffffffffffffffffffffffffffff"

	minSeverity = 1
	maxSeverity = 4

	hexIDLength = 32
)

// Record is the central entity of the pipeline. All fields are always
// present once a Record is constructed via New.
type Record struct {
	headers [numKinds]string
	Payload []byte
}

// New allocates a Record with every header populated. severity is
// clamped to 1..4. classification must be an A/B/C triplet (each
// segment 1-40 ASCII bytes, total length <= 122, exactly two '/'
// separators).
func New(severity int, classification string, payloadFormatVersion int) (*Record, error) {
	if err := ValidateClassification(classification); err != nil {
		return nil, err
	}
	r := &Record{}
	r.headers[KindRecordFormatVersion] = strconv.Itoa(RecordFormatVersion)
	r.headers[KindClassification] = classification
	r.headers[KindSeverity] = strconv.Itoa(ClampSeverity(severity))
	r.headers[KindMachineID] = MachineIDSentinel
	r.headers[KindPayloadFormatVersion] = strconv.Itoa(payloadFormatVersion)
	r.headers[KindEventID] = recordid.New()
	return r, nil
}

// ClampSeverity forces severity into the inclusive range 1..4.
func ClampSeverity(s int) int {
	if s < minSeverity {
		return minSeverity
	}
	if s > maxSeverity {
		return maxSeverity
	}
	return s
}

// ValidateClassification enforces the A/B/C shape from spec: exactly
// two '/' separators, each segment 1-40 ASCII bytes, total <= 122
// bytes.
func ValidateClassification(c string) error {
	const maxTotal = 122
	const minSeg, maxSeg = 1, 40
	if len(c) == 0 || len(c) > maxTotal {
		return fmt.Errorf("classification length %d out of range: %w", len(c), errs.Invalid)
	}
	if !isASCII(c) {
		return fmt.Errorf("classification must be ASCII: %w", errs.Invalid)
	}
	segs := strings.Split(c, "/")
	if len(segs) != 3 {
		return fmt.Errorf("classification must have exactly two '/' separators: %w", errs.Invalid)
	}
	for _, s := range segs {
		if len(s) < minSeg || len(s) > maxSeg {
			return fmt.Errorf("classification segment %q out of range: %w", s, errs.Invalid)
		}
	}
	return nil
}

// SetHeader sets a single header field's string value directly,
// bypassing the higher-level accessors. Used by internal parsers that
// already know the Kind (e.g. sysinfo population, staged-file
// reconstruction).
func (r *Record) SetHeader(k Kind, v string) {
	if k >= 0 && int(k) < numKinds {
		r.headers[k] = v
	}
}

// Header returns the string value for a Kind.
func (r *Record) Header(k Kind) string {
	if k < 0 || int(k) >= numKinds {
		return ""
	}
	return r.headers[k]
}

// Classification returns the classification header.
func (r *Record) Classification() string { return r.headers[KindClassification] }

// EventID returns the event_id header. New already populated it with a
// fresh random id; SetEventID may have since replaced it.
func (r *Record) EventID() string { return r.headers[KindEventID] }

// SetEventID replaces the auto-generated event id. id must be exactly
// 32 lowercase hex characters.
func (r *Record) SetEventID(id string) error {
	if err := ValidateHexID(id); err != nil {
		return err
	}
	r.headers[KindEventID] = id
	return nil
}

// ValidateHexID checks the 32-char lowercase-hex id shape shared by
// event_id and machine_id.
func ValidateHexID(id string) error {
	if len(id) != hexIDLength {
		return fmt.Errorf("id must be %d hex characters, got %d: %w", hexIDLength, len(id), errs.Invalid)
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return fmt.Errorf("id contains non-hex character %q: %w", c, errs.Invalid)
		}
	}
	return nil
}

// SetPayload validates and copies the payload body: size <= 8192,
// every byte printable ASCII or whitespace.
func (r *Record) SetPayload(b []byte) error {
	if len(b) > MaxPayloadSize {
		return fmt.Errorf("payload length %d exceeds %d: %w", len(b), MaxPayloadSize, errs.Invalid)
	}
	if !isPrintableASCIIOrWhitespace(b) {
		return fmt.Errorf("payload contains non-printable byte: %w", errs.Invalid)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	r.Payload = cp
	return nil
}

// Headers returns the ordered header list for serialization.
func (r *Record) Headers() []Header {
	hs := make([]Header, numKinds)
	for i := 0; i < numKinds; i++ {
		hs[i] = Header{Kind: Kind(i), Value: r.headers[i]}
	}
	return hs
}

// NumKinds reports how many header kinds exist, for packages (wire
// framing, spool) that need to validate a parsed header block's
// length without importing unexported state.
func NumKinds() int { return numKinds }

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func isPrintableASCIIOrWhitespace(b []byte) bool {
	for _, c := range b {
		if c == '\t' || c == '\n' || c == '\r' || c == ' ' {
			continue
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
