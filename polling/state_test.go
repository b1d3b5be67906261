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

package polling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeTimerStop(t *testing.T) {
	t.Parallel()

	safeTimerStop(nil)

	fired := time.NewTimer(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	safeTimerStop(fired)
	select {
	case <-fired.C:
		t.Fatal("channel should have been drained")
	default:
	}

	pending := time.NewTimer(time.Hour)
	safeTimerStop(pending)
	assert.False(t, pending.Stop(), "already stopped")
}

func TestCardState_Transitions(t *testing.T) {
	t.Parallel()

	var cs CardState
	assert.Equal(t, StateIdle, cs.DetectionState)
	assert.False(t, cs.CanStartRemovalTimer())

	removed := make(chan struct{}, 1)
	cs.TransitionToDetected(time.Hour, func() { removed <- struct{}{} })
	assert.Equal(t, StateCardDetected, cs.DetectionState)
	assert.NotNil(t, cs.RemovalTimer)
	assert.False(t, cs.LastSeenTime.IsZero())
	assert.True(t, cs.CanStartRemovalTimer())

	cs.TransitionToReading()
	assert.Equal(t, StateReading, cs.DetectionState)
	assert.Nil(t, cs.RemovalTimer)
	assert.False(t, cs.ReadStartTime.IsZero())
	assert.False(t, cs.CanStartRemovalTimer())

	cs.Present = true
	cs.LastUID = "11223344"
	cs.TransitionToDetected(time.Millisecond, func() { removed <- struct{}{} })
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("removal timer did not fire")
	}

	cs.TransitionToIdle()
	assert.Equal(t, CardState{}, cs)
}

func TestCardDetectionState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "detected", StateCardDetected.String())
	assert.Equal(t, "reading", StateReading.String())
	assert.Equal(t, "unknown", CardDetectionState(42).String())
}
