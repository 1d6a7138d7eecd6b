/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ingestd implements the ingest daemon: accept framed records
// over a UNIX stream socket, rewrite machine_id, enforce rate limits,
// and stage accepted records to the spool directory. The ingest daemon
// never posts to the backend itself; internal/postd is the sole
// delivery path, so ingestd only ever spools.
//
// A single for{select{}} loop owns all daemon state, fed by a small
// fixed set of channels (new connections, completed frame reads,
// signals, tickers). One goroutine runs per accepted connection to
// perform the blocking frame read; it only ever reports its result
// back over a channel and never touches daemon state directly.
package ingestd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/daemon"
	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/identity"
	"github.com/telemetrics/telemetryd/internal/ratelimit"
	"github.com/telemetrics/telemetryd/internal/record"
	"github.com/telemetrics/telemetryd/internal/sockconn"
	"github.com/telemetrics/telemetryd/internal/spool"
	"github.com/telemetrics/telemetryd/internal/telemlog"
	"github.com/telemetrics/telemetryd/internal/wireframe"
)

// ReceiveTimeout bounds how long an accepted connection may take to
// deliver its one complete frame.
const ReceiveTimeout = 10 * time.Second

// machineIDRefreshInterval is how often the daemon re-checks machine_id
// staleness outside of the per-record lookup.
const machineIDRefreshInterval = 1 * time.Hour

// Server is the ingest daemon's event loop. Construct with New and
// run with Run; all fields are set once at construction time and
// mutated only from within Run's loop goroutine.
type Server struct {
	cfg     *config.Config
	cfgPath string
	ln      *net.UnixListener
	idmgr   *identity.Manager
	limiter *ratelimit.Limiter
	log     *telemlog.Logger
	clock   func() time.Time

	recycler *daemon.IdleRecycler
}

// Deps bundles the collaborators New needs; main constructs each once
// and threads them through explicitly.
type Deps struct {
	Config *config.Config
	// ConfigPath is the file Config was loaded from, re-read on
	// SIGHUP. Empty means built-in defaults.
	ConfigPath string
	Listener   *net.UnixListener
	Identity   *identity.Manager
	Log        *telemlog.Logger
}

// New builds a Server ready to Run. The rate limiter is left nil when
// the configuration disables both of its axes.
func New(d Deps) *Server {
	var limiter *ratelimit.Limiter
	if !d.Config.RateLimiterDisabled() {
		limiter = ratelimit.New(d.Config.RecordWindowLength, d.Config.ByteWindowLength, d.Config.RecordBurstLimit, d.Config.ByteBurstLimit)
	}
	return &Server{
		cfg:      d.Config,
		cfgPath:  d.ConfigPath,
		ln:       d.Listener,
		idmgr:    d.Identity,
		limiter:  limiter,
		log:      d.Log,
		clock:    time.Now,
		recycler: daemon.NewIdleRecycler(d.Config.DaemonRecyclingEnabled),
	}
}

type clientResult struct {
	record  *record.Record
	peerUID uint32
	frameSz int
	quiet   bool // peer closed before sending anything; not an error
	err     error
}

// Run drives the event loop until ctx is canceled, a fatal error
// occurs, SIGINT/SIGTERM is received, or (with recycling enabled) the
// spool has been idle for daemon.ExitTime. SIGHUP reloads config and
// re-validates the spool directory without otherwise interrupting the
// loop.
func (s *Server) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPIPE)
	defer signal.Stop(sigCh)
	defer s.ln.Close() // unblocks acceptLoop's Accept on the way out

	connCh := make(chan net.Conn)
	acceptErrCh := make(chan error, 1)
	go s.acceptLoop(ctx, connCh, acceptErrCh)

	resultCh := make(chan clientResult)

	maintTicker := time.NewTicker(s.cfg.SpoolProcessTime)
	defer maintTicker.Stop()
	idRefresh := time.NewTicker(machineIDRefreshInterval)
	defer idRefresh.Stop()
	idleCheck := time.NewTicker(time.Minute)
	defer idleCheck.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-acceptErrCh:
			return err
		case conn := <-connCh:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.readClient(conn, resultCh)
			}()
		case res := <-resultCh:
			s.handleResult(res)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.reload()
			case syscall.SIGPIPE:
				// swallowed; a write failure already surfaces as an
				// I/O error to whichever goroutine saw it.
			default:
				return nil
			}
		case <-maintTicker.C:
			s.maintenance()
		case <-idRefresh.C:
			if err := s.idmgr.Refresh(); err != nil {
				s.log.Warnf("machine_id refresh failed: %v", err)
			}
		case <-idleCheck.C:
			if s.recycler.ShouldExit() {
				s.log.Infof("spool idle for %s, recycling", daemon.ExitTime)
				return nil
			}
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, connCh chan<- net.Conn, errCh chan<- error) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errCh <- fmt.Errorf("accept: %w", errs.IoError)
			return
		}
		select {
		case connCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// readClient reads exactly one framed record off a connection, bounded
// by ReceiveTimeout. A peer that closes before sending anything is a
// quiet disconnect, not an error (ReadFrame's EOF handling).
func (s *Server) readClient(conn net.Conn, resultCh chan<- clientResult) {
	defer conn.Close()

	if err := conn.SetDeadline(s.clock().Add(ReceiveTimeout)); err != nil {
		resultCh <- clientResult{err: fmt.Errorf("setting deadline: %w", errs.IoError)}
		return
	}

	fr := wireframe.NewReader(conn)
	hb, payload, err := fr.ReadFrame()
	if err != nil {
		if err == io.EOF {
			resultCh <- clientResult{quiet: true}
			return
		}
		resultCh <- clientResult{err: err}
		return
	}

	rec, err := wireframe.DecodeRecord(hb, payload)
	if err != nil {
		resultCh <- clientResult{err: err}
		return
	}

	var uid uint32
	if uc, ok := conn.(*net.UnixConn); ok {
		if cred, cerr := sockconn.Peer(uc); cerr == nil {
			uid = cred.UID
		}
	}
	resultCh <- clientResult{record: rec, peerUID: uid, frameSz: len(hb) + len(payload)}
}

// handleResult validates, rewrites machine_id, applies the rate
// limiter, and stages an accepted record. Any failure here terminates
// only this record's handling, never the daemon.
func (s *Server) handleResult(res clientResult) {
	if res.quiet {
		return
	}
	if res.err != nil {
		s.log.Warnf("dropping client: %v", res.err)
		return
	}
	rec := res.record

	if err := record.ValidateClassification(rec.Classification()); err != nil {
		s.log.Warnf("rejecting record with invalid classification %q: %v", rec.Classification(), err)
		return
	}
	if eid := rec.EventID(); eid != "" {
		if err := record.ValidateHexID(eid); err != nil {
			s.log.Warnf("rejecting record with invalid event_id: %v", err)
			return
		}
	}

	machineID, err := s.idmgr.Current()
	if err != nil {
		s.log.Errorf("machine_id lookup failed: %v", err)
		return
	}
	rec.SetHeader(record.KindMachineID, machineID)

	if !s.admit(rec, res.frameSz) {
		return
	}

	if err := s.stage(rec); err != nil {
		s.log.Warnf("failed to stage record: %v", err)
		return
	}
	s.log.Debugf("staged record classification=%s uid=%d size=%d", rec.Classification(), res.peerUID, res.frameSz)
	s.recycler.Touch()
}

// admit applies the sliding-window rate limiter. When the limiter
// blocks a record, rate_limit_strategy=drop refuses it outright;
// rate_limit_strategy=spool admits it anyway, since
// ingestd's only action is staging (no bandwidth is consumed until
// postd delivers it) and committed usage is only recorded for records
// that actually passed the check.
func (s *Server) admit(rec *record.Record, frameSz int) bool {
	if s.limiter == nil {
		return true
	}
	minute := s.clock().Minute()
	if s.limiter.Allow(minute, uint64(frameSz)) {
		s.limiter.Commit(minute, uint64(frameSz))
		return true
	}
	if s.cfg.RateLimitStrategy == config.StrategyDrop {
		s.log.Noticef("rate limit exceeded, dropping record (classification=%s)", rec.Classification())
		return false
	}
	return true
}

func (s *Server) stage(rec *record.Record) error {
	if err := spool.ValidDir(s.cfg.SpoolDir); err != nil {
		return err
	}
	sizeKiB, err := spool.DirSize(s.cfg.SpoolDir)
	if err != nil {
		return err
	}
	if sizeKiB >= s.cfg.SpoolMaxSizeKiB {
		return fmt.Errorf("spool dir at %d KiB exceeds budget %d KiB: %w", sizeKiB, s.cfg.SpoolMaxSizeKiB, errs.Exhausted)
	}
	_, err = spool.Write(s.cfg.SpoolDir, rec, "")
	return err
}

// maintenance runs the periodic spool check. ingestd does not drain
// the spool itself (postd is the sole egress point), so maintenance is
// limited to re-validating the spool directory is still usable.
func (s *Server) maintenance() {
	if err := spool.ValidDir(s.cfg.SpoolDir); err != nil {
		s.log.Errorf("spool directory no longer valid: %v", err)
	}
}

// reload handles SIGHUP: re-read the configuration file and
// re-validate the spool directory. An unreadable config keeps the
// previous one in place. Only the loop goroutine calls this, and only
// the loop goroutine reads s.cfg, so the swap needs no
// synchronization.
func (s *Server) reload() {
	s.log.Infof("SIGHUP received, reloading configuration from %q", s.cfgPath)
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.log.Errorf("config reload failed, keeping previous configuration: %v", err)
	} else {
		s.applyConfig(cfg)
	}
	if err := spool.ValidDir(s.cfg.SpoolDir); err != nil {
		s.log.Errorf("spool directory invalid after reload: %v", err)
	}
}

// applyConfig swaps in a freshly loaded config. The rate limiter is
// rebuilt only when a limiter-affecting field changed; otherwise its
// in-flight window state is preserved across the reload.
func (s *Server) applyConfig(cfg *config.Config) {
	rebuild := cfg.RecordWindowLength != s.cfg.RecordWindowLength ||
		cfg.ByteWindowLength != s.cfg.ByteWindowLength ||
		cfg.RecordBurstLimit != s.cfg.RecordBurstLimit ||
		cfg.ByteBurstLimit != s.cfg.ByteBurstLimit ||
		cfg.RateLimiterDisabled() != s.cfg.RateLimiterDisabled()
	s.cfg = cfg
	if rebuild {
		if cfg.RateLimiterDisabled() {
			s.limiter = nil
		} else {
			s.limiter = ratelimit.New(cfg.RecordWindowLength, cfg.ByteWindowLength, cfg.RecordBurstLimit, cfg.ByteBurstLimit)
		}
	}
}
