/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package record

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telemetrics/telemetryd/internal/errs"
)

func TestSeverityClamping(t *testing.T) {
	require.Equal(t, 1, ClampSeverity(0))
	require.Equal(t, 4, ClampSeverity(5))
	require.Equal(t, 2, ClampSeverity(2))
}

func TestClassificationBoundaries(t *testing.T) {
	cases := []struct {
		name string
		c    string
		ok   bool
	}{
		{"valid", "org.test/probe/sub", true},
		{"two segments", "a/b", false},
		{"four segments", "a/b/c/d", false},
		{"empty segment", "a//b", false},
		{"empty", "", false},
		{"single char segments", "a/b/c", true},
		{"max length segment", "org.test/probe/" + repeat("x", 40), true},
		{"over length segment", "org.test/probe/" + repeat("x", 41), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateClassification(tc.c)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, errors.Is(err, errs.Invalid))
			}
		})
	}
}

func TestNewRejectsBadClassification(t *testing.T) {
	_, err := New(1, "bad", 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Invalid))
}

func TestPayloadBoundaries(t *testing.T) {
	r, err := New(1, "a/b/c", 1)
	require.NoError(t, err)

	ok := make([]byte, MaxPayloadSize)
	for i := range ok {
		ok[i] = 'a'
	}
	require.NoError(t, r.SetPayload(ok))

	tooBig := make([]byte, MaxPayloadSize+1)
	for i := range tooBig {
		tooBig[i] = 'a'
	}
	err = r.SetPayload(tooBig)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Invalid))

	err = r.SetPayload([]byte("bad\x01byte"))
	require.Error(t, err)
}

func TestEventIDValidation(t *testing.T) {
	r, err := New(1, "a/b/c", 1)
	require.NoError(t, err)

	err = r.SetEventID("Xbc17766547776eb7fc478eb0eb43e43")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Invalid))

	require.NoError(t, r.SetEventID("0bc17766547776eb7fc478eb0eb43e43"))
	require.Equal(t, "0bc17766547776eb7fc478eb0eb43e43", r.EventID())
}

func TestHeaderRoundTrip(t *testing.T) {
	r, err := New(3, "org.test/probe/sub", 1)
	require.NoError(t, err)
	require.NoError(t, r.SetPayload([]byte("hello")))
	require.NoError(t, r.SetEventID("0bc17766547776eb7fc478eb0eb43e43"))
	r.SetHeader(KindMachineID, "0123456789abcdef0123456789abcdef")

	block := EncodeHeaders(r)
	got, err := DecodeHeaders(block)
	require.NoError(t, err)
	for i := 0; i < NumKinds(); i++ {
		require.Equal(t, r.Header(Kind(i)), got.Header(Kind(i)), "kind %d", i)
	}
}

func TestDecodeHeadersRejectsOutOfOrder(t *testing.T) {
	block := []byte("classification: a/b/c\nrecord_format_version: 4\n")
	_, err := DecodeHeaders(block)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Corrupt))
}

func TestDecodeHeadersRejectsAsymmetricName(t *testing.T) {
	r, err := New(1, "a/b/c", 1)
	require.NoError(t, err)
	block := EncodeHeaders(r)
	// Replace the classification line's name with a longer lookalike.
	block = []byte(replaceFirst(string(block), "classification:", "classification_extra:"))
	_, err = DecodeHeaders(block)
	require.Error(t, err)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func replaceFirst(s, old, new string) string {
	idx := -1
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}
