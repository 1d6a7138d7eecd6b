/*************************************************************************
 * Copyright 2025 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentGeneratesOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "machine_id"), "")

	id, err := m.Current()
	require.NoError(t, err)
	require.Len(t, id, 32)

	again, err := m.Current()
	require.NoError(t, err)
	require.Equal(t, id, again, "second call should reuse the persisted id")
}

func TestCurrentRotatesWhenStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine_id")
	m := NewManager(path, "")

	first, err := m.Current()
	require.NoError(t, err)

	old := time.Now().Add(-4 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	second, err := m.Current()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestOverrideFileWins(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override")
	const want = "0123456789abcdef0123456789abcdef"
	require.NoError(t, os.WriteFile(overridePath, []byte(want+"\n"), 0644))

	m := NewManager(filepath.Join(dir, "machine_id"), overridePath)
	id, err := m.Current()
	require.NoError(t, err)
	require.Equal(t, want, id)
}

func TestInvalidOverrideFallsBackToPersisted(t *testing.T) {
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override")
	require.NoError(t, os.WriteFile(overridePath, []byte("not-hex\n"), 0644))

	m := NewManager(filepath.Join(dir, "machine_id"), overridePath)
	id, err := m.Current()
	require.NoError(t, err)
	require.Len(t, id, 32)
}
