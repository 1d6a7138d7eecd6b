/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package oops

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(p *Parser, lines []string) []Message {
	var out []Message
	for _, l := range lines {
		if msg, ok := p.Line(l); ok {
			out = append(out, msg)
		}
	}
	return out
}

func TestParserIgnoresUnrelatedLines(t *testing.T) {
	p := NewParser()
	msgs := feedAll(p, []string{
		"systemd[1]: Started Session 1 of user root.",
		"kernel: random: crng init done",
	})
	require.Empty(t, msgs)
}

func TestParserCapturesBugMessage(t *testing.T) {
	p := NewParser()
	lines := []string{
		"BUG: unable to handle kernel NULL pointer dereference at 0000000000000018",
		"IP: [<ffffffff81234567>] some_function+0x17/0x40",
		"PGD 0 ",
		"Oops: 0000 [#1] SMP",
		"Modules linked in: nf_conntrack ip_tables",
		"CPU: 2 PID: 1234 Comm: bash Not tainted 5.4.0-generic #1",
		"RIP: 0010:[<ffffffff81234567>]  [<ffffffff81234567>] some_function+0x17/0x40",
		"RSP: 0018:ffff880012345678  EFLAGS: 00010246",
		"Call Trace:",
		" [<ffffffff81234abc>] caller_function+0x55/0x90",
		" [<ffffffff81234def>] do_syscall_64+0x55/0x90",
		"Code: 00 00 00 00 00",
		"next unrelated line",
	}
	msgs := feedAll(p, lines)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.Equal(t, "org.clearlinux/kernel/bug", Classification(msg))
	require.Equal(t, 4, Severity(msg))

	payload := Payload(msg)
	require.True(t, strings.HasPrefix(payload, "Crash Report:\n"))
	require.Contains(t, payload, "Reason: BUG: unable to handle kernel NULL pointer dereference")
	require.Contains(t, payload, "Backtrace :")
	require.Contains(t, payload, "#1 caller_function - [kernel]")
	require.Contains(t, payload, "#2 do_syscall_64 - [kernel]")
}

func TestParserRegistersRedactedByDefault(t *testing.T) {
	p := NewParser()
	lines := []string{
		"kernel BUG at fs/inode.c:123!",
		"RIP: 0010:some_func+0x10/0x20",
		"RAX: 0000000000000000 RBX: ffffffff81234567",
		"Call Trace:",
		" some_func+0x10/0x20",
	}
	msgs := feedAll(p, lines)
	require.Empty(t, msgs, "message should still be in flight at end of input")
	msg, ok := p.Flush()
	require.True(t, ok)
	payload := Payload(msg)
	require.Contains(t, payload, "Register RAX : Zero")
	require.Contains(t, payload, "Register RBX : Non-zero")
	require.NotContains(t, payload, "ffffffff81234567")
}

func TestParserEndsOnMaxLines(t *testing.T) {
	p := NewParser()
	var lines []string
	lines = append(lines, "kernel BUG at fs/inode.c:1!")
	for i := 0; i < MaxLines+10; i++ {
		lines = append(lines, " padding line that stays indented so it looks like stack")
	}
	msgs := feedAll(p, lines)
	require.Len(t, msgs, 1)
	require.LessOrEqual(t, len(msgs[0].Lines), MaxLines)
}

func TestParserEndsOnNewPattern(t *testing.T) {
	p := NewParser()
	lines := []string{
		"WARNING: CPU: 0 PID: 1 at net/core/dev.c:100 warn+0x1",
		"Call Trace:",
		" warn_func+0x1/0x2",
		"kernel BUG at fs/inode.c:1!",
		"Call Trace:",
		" other_func+0x1/0x2",
		"end unrelated",
	}
	msgs := feedAll(p, lines)
	require.Len(t, msgs, 1)
	require.Equal(t, "org.clearlinux/kernel/warning", Classification(msgs[0]))
}

func TestParserAlsaRegexDoesNotRestartOnContinuation(t *testing.T) {
	p := NewParser()
	lines := []string{
		"ALSA sound/pci/hda/hda_codec.c: BUG: something wrong happened here",
		"Call Trace:",
		" snd_func+0x1/0x2",
		"end unrelated",
	}
	msgs := feedAll(p, lines)
	require.Len(t, msgs, 1)
	require.Equal(t, "crash/kernel/bug", Classification(msgs[0]))
}

func TestClassificationAndSeverityZeroValue(t *testing.T) {
	require.Equal(t, "", Classification(Message{}))
	require.Equal(t, 1, Severity(Message{}))
}
