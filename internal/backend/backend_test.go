/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/record"
)

func testHeaders(t *testing.T) []record.Header {
	t.Helper()
	r, err := record.New(2, "org.test/probe/sub", 1)
	require.NoError(t, err)
	return r.Headers()
}

func TestPostSuccessOn200(t *testing.T) {
	var gotTID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTID = r.Header.Get("X-Telemetry-TID")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "hello", body["payload"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient("", 0, 0)
	require.NoError(t, err)
	err = c.Post(context.Background(), srv.URL, "tenant-1", testHeaders(t), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "tenant-1", gotTID)
}

func TestPostSuccessOn201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := NewClient("", 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.Post(context.Background(), srv.URL, "", testHeaders(t), nil))
}

func TestPostFailureOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient("", 0, 0)
	require.NoError(t, err)
	err = c.Post(context.Background(), srv.URL, "", testHeaders(t), nil)
	require.True(t, errors.Is(err, errs.BackendError))
}

func TestPostFailureOnUnreachableServer(t *testing.T) {
	c, err := NewClient("", 0, 0)
	require.NoError(t, err)
	err = c.Post(context.Background(), "https://127.0.0.1:1", "", testHeaders(t), nil)
	require.True(t, errors.Is(err, errs.BackendError))
}

func TestNewClientRejectsBadCABundle(t *testing.T) {
	_, err := NewClient("/nonexistent/ca.pem", 0, 0)
	require.True(t, errors.Is(err, errs.IoError))
}

// recordingPoster captures every Post call instead of making network
// calls.
type recordingPoster struct {
	calls []postCall
	err   error
}

type postCall struct {
	server  string
	tid     string
	headers []record.Header
	payload []byte
}

func (p *recordingPoster) Post(_ context.Context, server, tid string, headers []record.Header, payload []byte) error {
	p.calls = append(p.calls, postCall{server, tid, headers, payload})
	return p.err
}

func TestRecordingPosterSatisfiesInterface(t *testing.T) {
	var p Poster = &recordingPoster{}
	require.NoError(t, p.Post(context.Background(), "https://example.com", "tid", testHeaders(t), []byte("x")))
}
