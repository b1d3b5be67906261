// pi4j-example-crowpi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of pi4j-example-crowpi.
//
// pi4j-example-crowpi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// pi4j-example-crowpi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with pi4j-example-crowpi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package rfid

import (
	"bytes"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withDebugState restores the package debug state after the test.
func withDebugState(t *testing.T) {
	t.Helper()
	enabled, writer := debugEnabled, sessionLogWriter
	t.Cleanup(func() {
		debugEnabled = enabled
		sessionLogWriter = writer
	})
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	withDebugState(t)

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false

	Debugf("select level %d", 2)

	assert.Contains(t, buf.String(), "DEBUG: select level 2\n")
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`, buf.String())
}

func TestDebugln_WritesToSessionLog(t *testing.T) {
	withDebugState(t)

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false

	Debugln("antenna", "on")

	assert.Contains(t, buf.String(), "DEBUG: antennaon")
}

func TestDebugf_NoWriterNoPanic(t *testing.T) {
	withDebugState(t)

	sessionLogWriter = nil
	debugEnabled = false

	assert.NotPanics(t, func() { Debugf("nothing listens %s", "here") })
}

func TestSetDebugEnabled(t *testing.T) {
	withDebugState(t)

	SetDebugEnabled(true)
	assert.True(t, debugEnabled)
	SetDebugEnabled(false)
	assert.False(t, debugEnabled)
}

func TestSessionLog_Lifecycle(t *testing.T) {
	withDebugState(t)
	t.Cleanup(func() {
		if sessionLogFile != nil {
			_ = sessionLogFile.Close()
		}
		sessionLogFile = nil
		sessionLogPath = ""
	})

	dir := t.TempDir()
	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, path, GetSessionLogPath())
	assert.Regexp(t, regexp.MustCompile(`rfid_\d{8}_\d{6}\.log$`), path)

	debugEnabled = false
	Debugf("auth block %d", 4)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== MFRC522 Debug Session Log ===")
	assert.Contains(t, string(content), "DEBUG: auth block 4")
	assert.Contains(t, string(content), "=== Session ended ===")
}

func TestCloseSessionLog_WithoutInit(t *testing.T) {
	withDebugState(t)
	assert.NoError(t, CloseSessionLog())
}
