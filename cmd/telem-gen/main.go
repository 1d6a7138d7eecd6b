/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command telem-gen builds and sends a telemetry record, for manual
// testing and for synthesizing records from captured kernel oops text.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/telemetrics/telemetryd/internal/client"
	"github.com/telemetrics/telemetryd/internal/config"
	"github.com/telemetrics/telemetryd/internal/errs"
	"github.com/telemetrics/telemetryd/internal/oops"
	"github.com/telemetrics/telemetryd/version"
)

const payloadFormatVersion = 1

var (
	cfgFile  = flag.String("f", "", "configuration file path (defaults built in if omitted)")
	classify = flag.String("c", "org.clearlinux/telem-gen/manual", "classification (A/B/C)")
	severity = flag.Int("s", 2, "severity 1..4")
	payload  = flag.String("p", "manually generated record", "payload body")
	oopsFile = flag.String("oops", "", "read kernel oops/panic text from this file and send one record per parsed message instead of -c/-s/-p")
	help     = flag.Bool("h", false, "print usage and exit")
	ver      = flag.Bool("V", false, "print version and exit")
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

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telem-gen: loading configuration: %v\n", err)
		os.Exit(1)
	}

	c := client.New(cfg.SocketPath)

	if *oopsFile != "" {
		err = sendFromOopsFile(c, *oopsFile)
	} else {
		err = sendOne(c, *severity, *classify, []byte(*payload))
	}
	if err != nil {
		if errors.Is(err, errs.Refused) {
			fmt.Println("telemetry is disabled; run \"telemctl opt-in\" to enable it")
			return
		}
		fmt.Fprintf(os.Stderr, "telem-gen: %v\n", err)
		os.Exit(1)
	}
}

func sendOne(c *client.Client, severity int, classification string, payload []byte) error {
	rec, err := c.CreateRecord(severity, classification, payloadFormatVersion)
	if err != nil {
		return err
	}
	if err := c.SetPayload(rec, payload); err != nil {
		return err
	}
	return c.SendRecord(rec)
}

// sendFromOopsFile feeds oopsFile through internal/oops line by line,
// sending one record per completed message.
func sendFromOopsFile(c *client.Client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, errs.IoError)
	}
	defer f.Close()

	parser := oops.NewParser()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 4096), 1<<20)

	sent := 0
	for sc.Scan() {
		msg, ok := parser.Line(sc.Text())
		if !ok {
			continue
		}
		if err := sendOne(c, msg.Pattern.Severity, msg.Pattern.Classification, []byte(oops.Payload(msg))); err != nil {
			return err
		}
		sent++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, errs.IoError)
	}
	if msg, ok := parser.Flush(); ok {
		if err := sendOne(c, msg.Pattern.Severity, msg.Pattern.Classification, []byte(oops.Payload(msg))); err != nil {
			return err
		}
		sent++
	}
	if sent == 0 {
		fmt.Fprintf(os.Stderr, "telem-gen: no recognizable oops/crash messages found in %s\n", path)
	}
	return nil
}
