/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package recordid generates the 32-character lowercase hex
// identifiers used for both event_id (client-assigned, optional) and
// record_id (assigned by the journal when the post daemon records a
// delivered record).
package recordid

import "github.com/google/uuid"

// New returns a fresh 128-bit random identifier formatted as 32
// lowercase hex characters, the same hex32 shape record.ValidateHexID
// requires (a UUIDv4 with its dashes stripped, never the dashed
// canonical UUID string form).
func New() string {
	var b [16]byte
	u := uuid.New()
	copy(b[:], u[:])
	return hexEncode(b[:])
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
