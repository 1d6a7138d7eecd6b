/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/telemetrics/telemetryd/internal/backend"
	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/daemon"
	"github.com/telemetrics/telemetryd/internal/journal"
	"github.com/telemetrics/telemetryd/internal/postd"
	"github.com/telemetrics/telemetryd/internal/telemlog"
	"github.com/telemetrics/telemetryd/version"
)

const (
	appName        = "telem-postd"
	defaultLockDir = "/run"

	// postPacingRate/postPacingBurst tune the x/time/rate gate in
	// internal/backend independently of the record/byte sliding-window
	// limiter; 10/s with a burst of 20 keeps a retry storm from saturating
	// the backend connection.
	postPacingRate  = 10
	postPacingBurst = 20
)

var (
	cfgFile = flag.String("f", "", "configuration file path (defaults built in if omitted)")
	help    = flag.Bool("h", false, "print usage and exit")
	ver     = flag.Bool("V", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}
	if *ver {
		version.PrintVersion(os.Stdout)
		return
	}

	config.ForceStableLocale()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: loading configuration: %v\n", appName, err)
		os.Exit(1)
	}

	log := telemlog.New(os.Stderr, appName)

	lock, err := daemon.AcquireLock(defaultLockDir + "/" + appName + ".lock")
	if err != nil {
		log.Errorf("another instance is already running: %v", err)
		os.Exit(1)
	}
	defer lock.Release()

	jrn, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Errorf("opening journal %s: %v", cfg.JournalPath, err)
		os.Exit(1)
	}

	poster, err := backend.NewClient(cfg.CAInfo, postPacingRate, postPacingBurst)
	if err != nil {
		log.Errorf("building backend client: %v", err)
		os.Exit(1)
	}

	srv := postd.New(postd.Deps{
		Config:  cfg,
		Journal: jrn,
		Poster:  poster,
		Log:     log,
	})

	log.Infof("watching spool %s, posting to %s", cfg.SpoolDir, cfg.Server)
	if err := srv.Run(context.Background()); err != nil {
		log.Errorf("exiting: %v", err)
		os.Exit(1)
	}
}
