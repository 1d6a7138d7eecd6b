/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package postd implements the post daemon: watch the spool directory,
// re-validate each staged file, apply retention/rate-limit/
// direct-spool-window policy, deliver via HTTPS, and maintain the
// journal. postd is the pipeline's sole HTTPS egress point.
package postd

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/telemetrics/telemetryd/internal/backend"
	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/daemon"
	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/journal"
	"github.com/telemetrics/telemetryd/internal/ratelimit"
	"github.com/telemetrics/telemetryd/internal/record"
	"github.com/telemetrics/telemetryd/internal/spool"
	"github.com/telemetrics/telemetryd/internal/telemlog"
)

// NetworkBypassDuration is the direct-spool window: after a delivery
// failure, records are staged but not transmitted for this long. It
// aliases the daemon recycle idle duration (both are 2h).
const NetworkBypassDuration = daemon.ExitTime

// MaxConsecutiveFailures bounds the retry backoff: the delays after
// failures 1 through 8 are 1, 4, ..., 64 seconds; one more failure
// gives up the backoff and the normal polling cadence resumes.
const MaxConsecutiveFailures = 8

// Deps bundles postd's collaborators, constructed once by main and
// threaded through explicitly.
type Deps struct {
	Config  *config.Config
	Journal *journal.Journal
	Poster  backend.Poster
	Log     *telemlog.Logger
}

// Server is the post daemon's event loop.
type Server struct {
	cfg     *config.Config
	jrn     *journal.Journal
	poster  backend.Poster
	log     *telemlog.Logger
	limiter *ratelimit.Limiter
	clock   func() time.Time

	recycler *daemon.IdleRecycler

	lastFailure      time.Time
	consecutiveFails int
}

// New builds a Server ready to Run.
func New(d Deps) *Server {
	var limiter *ratelimit.Limiter
	if !d.Config.RateLimiterDisabled() {
		limiter = ratelimit.New(d.Config.RecordWindowLength, d.Config.ByteWindowLength, d.Config.RecordBurstLimit, d.Config.ByteBurstLimit)
	}
	return &Server{
		cfg:      d.Config,
		jrn:      d.Journal,
		poster:   d.Poster,
		log:      d.Log,
		limiter:  limiter,
		clock:    time.Now,
		recycler: daemon.NewIdleRecycler(d.Config.DaemonRecyclingEnabled),
	}
}

// Run watches the spool directory and drains it on every wake: an
// fsnotify event, or a timer firing every spool_process_time (or
// retry_attempt squared seconds while backing off from a transport
// failure). It returns when ctx is canceled, SIGINT/SIGTERM arrives,
// or the daemon recycles from idle. SIGHUP is logged and otherwise
// ignored: the configuration is not reloaded.
func (s *Server) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating spool watcher: %w", errs.Fatal)
	}
	defer watcher.Close()
	if err := watcher.Add(s.cfg.SpoolDir); err != nil {
		return fmt.Errorf("watching spool dir %s: %w", s.cfg.SpoolDir, errs.IoError)
	}

	idleCheck := time.NewTicker(time.Minute)
	defer idleCheck.Stop()

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("spool watcher closed: %w", errs.Fatal)
			}
			s.log.Warnf("spool watcher error: %v", err)
		case _, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("spool watcher closed: %w", errs.Fatal)
			}
			s.drainOnce()
			resetTimer(timer, s.nextInterval())
		case <-timer.C:
			s.drainOnce()
			resetTimer(timer, s.nextInterval())
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.log.Infof("SIGHUP received; configuration is not reloaded by this daemon")
			case syscall.SIGPIPE:
			default:
				return nil
			}
		case <-idleCheck.C:
			if s.recycler.ShouldExit() {
				s.log.Infof("spool idle for %s, recycling", daemon.ExitTime)
				return nil
			}
		}
	}
}

// nextInterval is spool_process_time normally, or retry_attempt
// squared seconds while backing off from a transport failure, until
// more than MaxConsecutiveFailures attempts have failed and the normal
// cadence resumes.
func (s *Server) nextInterval() time.Duration {
	if s.consecutiveFails == 0 || s.consecutiveFails > MaxConsecutiveFailures {
		return s.cfg.SpoolProcessTime
	}
	secs := math.Pow(float64(s.consecutiveFails), 2)
	return time.Duration(secs) * time.Second
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// drainOnce processes every closed-for-write staged file currently in
// the spool, oldest mtime first, then prunes the journal.
func (s *Server) drainOnce() {
	paths, err := spool.List(s.cfg.SpoolDir)
	if err != nil {
		s.log.Errorf("listing spool dir: %v", err)
		return
	}
	for _, path := range paths {
		s.processFile(path)
	}
	if err := s.jrn.Prune("", s.pruneCallback); err != nil {
		s.log.Warnf("journal prune failed: %v", err)
	}
}

func (s *Server) pruneCallback(recordID string) {
	if s.cfg.RetentionDir == "" {
		return
	}
	if err := os.Remove(retentionPath(s.cfg.RetentionDir, recordID)); err != nil && !os.IsNotExist(err) {
		s.log.Warnf("removing pruned retention copy %s: %v", recordID, err)
	}
}

func retentionPath(dir, recordID string) string { return dir + string(os.PathSeparator) + recordID }

// creationTimestamp parses the record's creation_timestamp header,
// falling back to now if it's somehow missing or malformed, since a
// journal entry must always have a timestamp.
func creationTimestamp(r *record.Record) time.Time {
	v, err := strconv.ParseInt(r.Header(record.KindCreationTimestamp), 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(v, 0)
}

// processFile runs one staged file through the full policy chain:
// parse, age/owner check, delivery toggles, direct-spool window, rate
// limit, delivery.
func (s *Server) processFile(path string) {
	entry, err := spool.Read(path)
	if err != nil {
		s.log.Warnf("dropping unparsable staged file %s: %v", path, err)
		spool.Remove(path)
		return
	}

	now := s.clock()
	if spool.Expired(entry, s.cfg.RecordExpiry, now, uint32(os.Getuid())) {
		s.log.Noticef("dropping expired/foreign-owned staged file %s", path)
		spool.Remove(path)
		return
	}

	if !s.cfg.RecordServerDeliveryEnabled {
		s.commit(entry, path)
		return
	}

	if now.Before(s.lastFailure.Add(NetworkBypassDuration)) {
		sizeKiB, err := spool.DirSize(s.cfg.SpoolDir)
		if err == nil && sizeKiB >= s.cfg.SpoolMaxSizeKiB {
			s.log.Warnf("direct-spool window and spool over budget, dropping %s", path)
			spool.Remove(path)
		}
		return
	}

	if s.limiter != nil {
		minute := now.Minute()
		n := uint64(len(entry.Record.Payload))
		if !s.limiter.Allow(minute, n) {
			if s.cfg.RateLimitStrategy == config.StrategyDrop {
				s.log.Noticef("rate limit exceeded, dropping %s", path)
				spool.Remove(path)
			}
			return
		}
		s.limiter.Commit(minute, n)
	}

	s.deliver(entry, path)
}

func (s *Server) deliver(entry *spool.Entry, path string) {
	server, tid, err := s.applyOverride(entry.OverrideCfg)
	if err != nil {
		// An unusable override means the record would be retried with
		// surprising settings forever; treat it as delivered instead.
		s.log.Warnf("override config %s unusable, treating %s as delivered: %v", entry.OverrideCfg, path, err)
		spool.Remove(path)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = s.poster.Post(ctx, server, tid, entry.Record.Headers(), entry.Record.Payload)
	if err != nil {
		s.lastFailure = s.clock()
		if s.consecutiveFails <= MaxConsecutiveFailures {
			s.consecutiveFails++
		}
		s.log.Warnf("delivery failed for %s: %v", path, err)
		return
	}
	s.consecutiveFails = 0
	s.commit(entry, path)
}

// applyOverride loads a per-record override config path when present,
// returning the (server, tid) to post to. postd threads an explicit
// *config.Config through rather than mutating process-wide state, so
// there is no prior configuration to restore afterward; an override
// just picks a different (server, tid) pair for this one POST. On a
// staged file with no override line it returns the daemon's own
// configured server/tid.
func (s *Server) applyOverride(overrideCfg string) (server, tid string, err error) {
	if overrideCfg == "" {
		return s.cfg.Server, s.cfg.TIDHeader, nil
	}
	oc, err := config.Load(overrideCfg)
	if err != nil {
		return "", "", err
	}
	return oc.Server, oc.TIDHeader, nil
}

// commit finalizes a successfully delivered (or delivery-skipped)
// record: journal append, optional retention copy, staged-file
// removal.
func (s *Server) commit(entry *spool.Entry, path string) {
	ts := creationTimestamp(entry.Record)
	recordID, err := s.jrn.Append(entry.Record.Classification(), ts, entry.Record.EventID())
	if err != nil {
		s.log.Warnf("journal append failed for %s: %v", path, err)
	} else if s.cfg.RecordRetentionEnabled && s.cfg.RetentionDir != "" {
		if werr := os.WriteFile(retentionPath(s.cfg.RetentionDir, recordID), entry.Record.Payload, 0640); werr != nil {
			s.log.Warnf("writing retention copy for %s: %v", recordID, werr)
		}
	}
	if err := spool.Remove(path); err != nil {
		s.log.Warnf("removing delivered staged file %s: %v", path, err)
	}
	s.recycler.Touch()
}
