/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command telem-journal lists journal entries. It exits 0 always,
// unless the configuration cannot be loaded or the journal file itself
// cannot be opened.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/journal"
)

var (
	cfgFile  = flag.String("f", "", "configuration file path (defaults built in if omitted)")
	recordID = flag.String("r", "", "filter by exact record_id")
	eventID  = flag.String("e", "", "filter by exact event_id")
	class    = flag.String("c", "", "filter by classification (exact, or \"A/B/*\" prefix)")
	bootID   = flag.String("b", "", "filter by exact boot_id")
	verbose  = flag.Bool("V", false, "also print the retained payload file, if any")
	help     = flag.Bool("h", false, "print usage and exit")
)

func main() {
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telem-journal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	jrn, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telem-journal: opening journal %s: %v\n", cfg.JournalPath, err)
		os.Exit(1)
	}

	entries, err := jrn.Print(journal.Filter{
		RecordID:       *recordID,
		EventID:        *eventID,
		BootID:         *bootID,
		Classification: *class,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "telem-journal: reading journal: %v\n", err)
		os.Exit(0)
	}

	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.RecordID, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Classification, e.EventID, e.BootID)
		if *verbose && cfg.RetentionDir != "" {
			printRetained(cfg.RetentionDir, e.RecordID)
		}
	}
}

func printRetained(dir, recordID string) {
	path := dir + string(os.PathSeparator) + recordID
	body, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "telem-journal: reading retained payload %s: %v\n", path, err)
		}
		return
	}
	fmt.Printf("\t%s\n", body)
}
