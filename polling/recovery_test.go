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
	"context"
	"errors"
	"testing"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultRecoverer(t *testing.T) {
	t.Parallel()

	device, _ := newTestDevice(t)

	t.Run("WithDefaults", func(t *testing.T) {
		t.Parallel()
		r := NewDefaultRecoverer(device, nil, 0, 0)
		assert.Equal(t, 3, r.maxAttempts)
		assert.Equal(t, 500*time.Millisecond, r.backoff)
	})

	t.Run("WithCustomValues", func(t *testing.T) {
		t.Parallel()
		r := NewDefaultRecoverer(device, nil, 100*time.Millisecond, 5)
		assert.Equal(t, 5, r.maxAttempts)
		assert.Equal(t, 100*time.Millisecond, r.backoff)
	})
}

func TestDefaultRecoverer_ReinitSuccess(t *testing.T) {
	t.Parallel()

	device, sim := newTestDevice(t)
	// A power glitch switched the antenna off
	require.NoError(t, device.SetAntennaState(context.Background(), false))
	sim.ResetCounters()

	r := NewDefaultRecoverer(device, nil, time.Millisecond, 3)
	require.NoError(t, r.AttemptRecovery(context.Background()))
	assert.Same(t, device, r.GetDevice())

	on, err := device.AntennaState(context.Background())
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, 1, sim.CommandCount(byte(rfid.PCDSoftReset)))
}

func TestDefaultRecoverer_ReinitFailsNoReopen(t *testing.T) {
	t.Parallel()

	device, sim := newTestDevice(t)
	sim.SetVersion(0x00)

	r := NewDefaultRecoverer(device, nil, time.Millisecond, 2)
	err := r.AttemptRecovery(context.Background())
	require.ErrorIs(t, err, rfid.ErrCommunication)
}

func TestDefaultRecoverer_FullReconnectSuccess(t *testing.T) {
	t.Parallel()

	device, sim := newTestDevice(t)
	newDevice, _ := newTestDevice(t)
	sim.SetVersion(0xFF)

	reopenCalled := false
	reopenFunc := func() (*rfid.Device, error) {
		reopenCalled = true
		return newDevice, nil
	}

	r := NewDefaultRecoverer(device, reopenFunc, time.Millisecond, 3)
	require.NoError(t, r.AttemptRecovery(context.Background()))
	assert.True(t, reopenCalled)
	assert.Same(t, newDevice, r.GetDevice())

	// The old device was closed before reopening
	_, err := device.Version(context.Background())
	require.ErrorIs(t, err, rfid.ErrTransportClosed)
}

func TestDefaultRecoverer_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	device, sim := newTestDevice(t)
	sim.SetVersion(0x00)

	attempts := 0
	reopenErr := errors.New("reopen failed")
	reopenFunc := func() (*rfid.Device, error) {
		attempts++
		return nil, reopenErr
	}

	r := NewDefaultRecoverer(device, reopenFunc, time.Millisecond, 2)
	err := r.AttemptRecovery(context.Background())
	require.ErrorIs(t, err, reopenErr)
	assert.Equal(t, 2, attempts)
}

func TestDefaultRecoverer_ContextCancellation(t *testing.T) {
	t.Parallel()

	device, _ := newTestDevice(t)
	r := NewDefaultRecoverer(device, nil, 100*time.Millisecond, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.AttemptRecovery(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
