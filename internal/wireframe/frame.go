/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package wireframe implements the length-prefixed record frame sent
// over the ingest daemon's UNIX stream socket:
//
//	u32 total_size          (little-endian)
//	u32 header_block_size   (little-endian)
//	<header_block_size bytes>  ordered "name: value\n" header lines
//	<total_size - header_block_size bytes>  payload
//
// total_size counts everything after the two length fields
// (header_block_size bytes plus payload bytes). Exactly one frame is
// read per connection.
package wireframe

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/record"
)

const (
	lengthFieldSize = 4 // size of one uint32 length field

	// MaxFrameSize bounds total_size to something sane well above the
	// largest legitimate record (header block plus an 8192-byte
	// payload), guarding against a hostile or buggy client claiming an
	// enormous frame and exhausting daemon memory.
	MaxFrameSize = 1 << 20 // 1 MiB
)

// Encode renders a Record as a complete on-wire frame.
func Encode(r *record.Record) []byte {
	hb := record.EncodeHeaders(r)
	totalSize := uint32(len(hb) + len(r.Payload))
	buf := make([]byte, 2*lengthFieldSize+len(hb)+len(r.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], totalSize)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(hb)))
	copy(buf[8:], hb)
	copy(buf[8+len(hb):], r.Payload)
	return buf
}

// Reader reads exactly one frame off a connection, enforcing
// MaxFrameSize and returning errs.Corrupt for malformed framing or
// errs.IoError for short reads / unexpected close mid-record.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps a connection (or any io.Reader) for one frame read.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadFrame reads and decodes exactly one frame. It returns
// (nil, nil, io.EOF) if the peer closed before sending any data at
// all, which callers should treat as a quiet, non-error disconnect.
func (fr *Reader) ReadFrame() (headerBlock, payload []byte, err error) {
	var lenBuf [2 * lengthFieldSize]byte
	if _, err = io.ReadFull(fr.br, lenBuf[:lengthFieldSize]); err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("reading total_size: %w", errs.IoError)
	}
	totalSize := binary.LittleEndian.Uint32(lenBuf[:lengthFieldSize])
	if totalSize == 0 {
		return nil, nil, fmt.Errorf("zero-length frame: %w", errs.Corrupt)
	}
	if totalSize > MaxFrameSize {
		return nil, nil, fmt.Errorf("frame of %d bytes exceeds max %d: %w", totalSize, MaxFrameSize, errs.Corrupt)
	}
	if _, err = io.ReadFull(fr.br, lenBuf[lengthFieldSize:]); err != nil {
		return nil, nil, fmt.Errorf("reading header_block_size: %w", errs.IoError)
	}
	headerSize := binary.LittleEndian.Uint32(lenBuf[lengthFieldSize:])
	if headerSize > totalSize {
		return nil, nil, fmt.Errorf("header_block_size %d exceeds total_size %d: %w", headerSize, totalSize, errs.Corrupt)
	}
	body := make([]byte, totalSize)
	if _, err = io.ReadFull(fr.br, body); err != nil {
		return nil, nil, fmt.Errorf("reading frame body: %w", errs.IoError)
	}
	return body[:headerSize], body[headerSize:], nil
}

// DecodeRecord parses an already-separated header block and payload
// into a Record, validating the payload shape.
func DecodeRecord(headerBlock, payload []byte) (*record.Record, error) {
	r, err := record.DecodeHeaders(headerBlock)
	if err != nil {
		return nil, err
	}
	if err := r.SetPayload(payload); err != nil {
		return nil, fmt.Errorf("%w", errs.Corrupt)
	}
	return r, nil
}
