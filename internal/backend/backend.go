/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package backend implements the post daemon's HTTPS delivery step: a
// JSON POST with a 5s connect / 10s total timeout, the X-Telemetry-TID
// tenant header, and an optional CA bundle, fronted by a
// golang.org/x/time/rate pacing gate that smooths outbound attempts
// independent of the record/byte sliding-window limiter in
// internal/ratelimit.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/record"
)

const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 10 * time.Second
)

// Poster is the delivery interface the post daemon depends on.
// Production code uses Client; tests use a recording fake.
type Poster interface {
	Post(ctx context.Context, server, tid string, headers []record.Header, payload []byte) error
}

// Client is the production Poster: a net/http client configured with
// the fixed connect/total timeouts and an optional CA bundle, gated by
// a token-bucket limiter that paces outbound attempts.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client. caBundle may be empty, meaning the system
// trust store is used. ratePerSecond/burst configure the pacing gate;
// a ratePerSecond of 0 disables pacing (rate.Inf-equivalent would
// never block, so we special-case it to avoid surprising zero-value
// behavior from rate.NewLimiter).
func NewClient(caBundle string, ratePerSecond float64, burst int) (*Client, error) {
	tlsConfig := &tls.Config{}
	if caBundle != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(caBundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle %s: %w", caBundle, errs.IoError)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s: %w", caBundle, errs.Invalid)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
	}

	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: totalTimeout},
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

type wireRecord map[string]string

// Post builds the JSON body from headers+payload and POSTs it to
// server, waiting on the pacing gate first. HTTP 200/201 are success;
// anything else (including transport errors) is errs.BackendError.
func (c *Client) Post(ctx context.Context, server, tid string, headers []record.Header, payload []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting on pacing gate: %w", errs.Timeout)
	}

	body, err := marshalBody(headers, payload)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", errs.Invalid)
	}

	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", errs.Invalid)
	}
	req.Header.Set("Content-Type", "application/json")
	if tid != "" {
		req.Header.Set("X-Telemetry-TID", tid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", server, errs.BackendError)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("backend returned %d: %w", resp.StatusCode, errs.BackendError)
	}
	return nil
}

func marshalBody(headers []record.Header, payload []byte) ([]byte, error) {
	obj := make(wireRecord, len(headers)+1)
	for _, h := range headers {
		obj[h.Kind.String()] = h.Value
	}
	obj["payload"] = string(payload)
	return json.Marshal(obj)
}
