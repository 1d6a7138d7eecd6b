/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package wireframe

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telemetrics/telemetryd/internal/record"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r, err := record.New(2, "org.test/probe/sub", 1)
	require.NoError(t, err)
	require.NoError(t, r.SetPayload([]byte("hello world")))

	frame := Encode(r)
	fr := NewReader(bytes.NewReader(frame))
	hb, payload, err := fr.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(payload))

	got, err := DecodeRecord(hb, payload)
	require.NoError(t, err)
	require.Equal(t, r.Classification(), got.Classification())
}

func TestReadFrameEmptyConnectionIsQuietEOF(t *testing.T) {
	fr := NewReader(bytes.NewReader(nil))
	_, _, err := fr.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// total_size claims more than MaxFrameSize.
	big := uint32(MaxFrameSize + 1)
	writeLE(&buf, big)
	writeLE(&buf, 4)
	fr := NewReader(&buf)
	_, _, err := fr.ReadFrame()
	require.Error(t, err)
}

func TestReadFrameRejectsHeaderLargerThanTotal(t *testing.T) {
	var buf bytes.Buffer
	writeLE(&buf, 4)
	writeLE(&buf, 10)
	buf.Write([]byte{1, 2, 3, 4})
	fr := NewReader(&buf)
	_, _, err := fr.ReadFrame()
	require.Error(t, err)
}

func TestReadFrameShortReadMidRecord(t *testing.T) {
	var buf bytes.Buffer
	writeLE(&buf, 100)
	writeLE(&buf, 10)
	buf.Write([]byte{1, 2, 3}) // far short of the promised 100 bytes
	fr := NewReader(&buf)
	_, _, err := fr.ReadFrame()
	require.Error(t, err)
}

func writeLE(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	buf.Write(b)
}
