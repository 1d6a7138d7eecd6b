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

	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/daemon"
	"github.com/telemetrics/telemetryd/internal/identity"
	"github.com/telemetrics/telemetryd/internal/ingestd"
	"github.com/telemetrics/telemetryd/internal/telemlog"
	"github.com/telemetrics/telemetryd/version"
)

const (
	appName        = "telem-ingestd"
	defaultLockDir = "/run"
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

	ln, err := ingestd.Listen(cfg.SocketPath)
	if err != nil {
		log.Errorf("listening on %s: %v", cfg.SocketPath, err)
		os.Exit(1)
	}

	idmgr := identity.NewManager(cfg.MachineIDPath, cfg.MachineIDOverridePath)

	srv := ingestd.New(ingestd.Deps{
		Config:     cfg,
		ConfigPath: *cfgFile,
		Listener:   ln,
		Identity:   idmgr,
		Log:        log,
	})

	log.Infof("listening on %s, spooling to %s", cfg.SocketPath, cfg.SpoolDir)
	if err := srv.Run(context.Background()); err != nil {
		log.Errorf("exiting: %v", err)
		os.Exit(1)
	}
}
