/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package sysinfo gathers the host-identity headers a record's
// creation populates (arch, kernel_version, system_name, build,
// host_type, board_name, bios_version, cpu_model). Every lookup
// degrades gracefully: a missing file or syscall failure yields a
// documented fallback value rather than an error, since these headers
// must never block record creation.
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const smallLineBuf = 256

// osReleasePaths: try /etc first, fall back to the stateless
// dist-provided location.
var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// Arch returns uname's "machine" field, or "unknown" on failure.
func Arch() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "unknown"
	}
	return cstr(uts.Machine[:])
}

// KernelVersion returns uname's "release" field, or "unknown".
func KernelVersion() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "unknown"
	}
	return cstr(uts.Release[:])
}

// SystemName returns the os-release file's ID= field, or "unknown".
func SystemName() string {
	v, ok := readOSReleaseField("ID")
	if !ok {
		return "unknown"
	}
	return v
}

// Build returns the os-release file's VERSION_ID= field, or "0".
func Build() string {
	v, ok := readOSReleaseField("VERSION_ID")
	if !ok {
		return "0"
	}
	return v
}

func readOSReleaseField(key string) (string, bool) {
	for _, path := range osReleasePaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		val, found := scanKeyValue(f, key)
		f.Close()
		if found {
			return val, true
		}
		return "", false
	}
	return "", false
}

func scanKeyValue(f *os.File, key string) (string, bool) {
	prefix := key + "="
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.Trim(strings.TrimPrefix(line, prefix), `"`), true
		}
	}
	return "", false
}

// CPUModel reads /proc/cpuinfo's first "model name" line. "blank" if
// the file exists but the field is empty or absent.
func CPUModel() string {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "blank"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "model name") {
			idx := strings.IndexByte(line, ':')
			if idx < 0 {
				return "blank"
			}
			v := strings.TrimSpace(line[idx+1:])
			if v == "" {
				return "blank"
			}
			return v
		}
	}
	return "blank"
}

// dmiValue reads the first line of a /sys/class/dmi/id/* file:
// "blank" if empty/whitespace-only, "no_<key>_file" if the file does
// not exist.
func dmiValue(path, key string) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("no_%s_file", key)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, smallLineBuf), smallLineBuf)
	if !sc.Scan() {
		return "blank"
	}
	v := strings.TrimSpace(sc.Text())
	if v == "" {
		return "blank"
	}
	return v
}

// BoardName returns "<board_name>|<board_vendor>" from DMI.
func BoardName() string {
	bn := dmiValue("/sys/class/dmi/id/board_name", "bn")
	bv := dmiValue("/sys/class/dmi/id/board_vendor", "bv")
	return bn + "|" + bv
}

// BIOSVersion returns the DMI bios_version field.
func BIOSVersion() string {
	return dmiValue("/sys/class/dmi/id/bios_version", "bv")
}

// HostType returns "<sys_vendor>|<product_name>|<product_version>"
// from DMI.
func HostType() string {
	sv := dmiValue("/sys/class/dmi/id/sys_vendor", "sv")
	pn := dmiValue("/sys/class/dmi/id/product_name", "pn")
	pvr := dmiValue("/sys/class/dmi/id/product_version", "pvr")
	return sv + "|" + pn + "|" + pvr
}

func cstr(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	s := make([]byte, i)
	for j := 0; j < i; j++ {
		s[j] = byte(b[j])
	}
	return string(s)
}
