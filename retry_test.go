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
	"context"
	"errors"
	"testing"
	"time"

	testutil "github.com/Pi4J/pi4j-example-crowpi-sub000/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_DefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	assert.NotNil(t, config)
	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.InitialBackoff, time.Duration(0))
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Greater(t, config.RetryTimeout, time.Duration(0))
}

func TestCalculateNextBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config   *RetryConfig
		name     string
		current  time.Duration
		expected time.Duration
	}{
		{
			name:     "doubles",
			current:  100 * time.Millisecond,
			config:   &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second},
			expected: 200 * time.Millisecond,
		},
		{
			name:     "capped at maximum",
			current:  3 * time.Second,
			config:   &RetryConfig{BackoffMultiplier: 2.0, MaxBackoff: 5 * time.Second},
			expected: 5 * time.Second,
		},
		{
			name:     "fractional multiplier",
			current:  200 * time.Millisecond,
			config:   &RetryConfig{BackoffMultiplier: 1.5, MaxBackoff: 10 * time.Second},
			expected: 300 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, calculateNextBackoff(tt.current, tt.config))
		})
	}
}

func TestCalculateJitteredSleep(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	assert.Equal(t, base, calculateJitteredSleep(base, 0))

	for range 20 {
		sleep := calculateJitteredSleep(base, 0.5)
		assert.GreaterOrEqual(t, sleep, base)
		assert.LessOrEqual(t, sleep, base+base/2)
	}
}

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryTimeout:      time.Second,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	errNotRetryable := errors.New("permanent")

	tests := []struct {
		err       func(call int) error
		wantErr   error
		name      string
		attempts  int
		wantCalls int
	}{
		{
			name:      "succeeds first time",
			attempts:  3,
			err:       func(int) error { return nil },
			wantCalls: 1,
		},
		{
			name:     "succeeds after retryable failures",
			attempts: 3,
			err: func(call int) error {
				if call < 3 {
					return ErrTimeout
				}
				return nil
			},
			wantCalls: 3,
		},
		{
			name:      "gives up after max attempts",
			attempts:  3,
			err:       func(int) error { return ErrCollision },
			wantErr:   ErrCollision,
			wantCalls: 3,
		},
		{
			name:      "stops on non-retryable error",
			attempts:  5,
			err:       func(int) error { return errNotRetryable },
			wantErr:   errNotRetryable,
			wantCalls: 1,
		},
		{
			name:      "stops on capacity error",
			attempts:  5,
			err:       func(int) error { return ErrCapacityExceeded },
			wantErr:   ErrCapacityExceeded,
			wantCalls: 1,
		},
		{
			name:      "zero attempts runs once",
			attempts:  0,
			err:       func(int) error { return ErrTimeout },
			wantErr:   ErrTimeout,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), fastRetry(tt.attempts), func() error {
				calls++
				return tt.err(calls)
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryWithConfig_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestInitWithRetry_GlitchingBus(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC522()
	bus := testutil.NewJitteryTransport(sim, testutil.JitterConfig{GlitchRate: 1, Seed: 3})
	device, err := New(bus, WithPICCTimeout(testTimeout))
	require.NoError(t, err)

	calls := 0
	config := fastRetry(3)
	err = RetryWithConfig(context.Background(), config, func() error {
		calls++
		if calls == 2 {
			bus.SetGlitchRate(0)
		}
		return device.Init(context.Background())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, bus.Glitches())

	version, err := device.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x92), version)
}

func TestInitWithRetry_NoChip(t *testing.T) {
	t.Parallel()

	sim := testutil.NewVirtualMFRC522()
	sim.SetVersion(0xFF)
	device, err := New(sim)
	require.NoError(t, err)

	err = device.InitWithRetry(context.Background(), fastRetry(2))
	require.ErrorIs(t, err, ErrCommunication)
}

func TestDetectCard(t *testing.T) {
	t.Parallel()

	t.Run("empty field", func(t *testing.T) {
		t.Parallel()
		device, _ := newSimDevice(t)
		uid, err := device.DetectCard(context.Background(), fastRetry(3))
		require.NoError(t, err)
		assert.Nil(t, uid)
	})

	t.Run("card selected", func(t *testing.T) {
		t.Parallel()
		device, _, _ := newSimCard(t, nil)
		uid, err := device.DetectCard(context.Background(), fastRetry(3))
		require.NoError(t, err)
		require.NotNil(t, uid)
		assert.Equal(t, testutil.TestMIFARE1KUID, uid.Bytes())
	})

	t.Run("corrupted SAK is retried then reported", func(t *testing.T) {
		t.Parallel()
		device, sim, _ := newSimCard(t, nil)
		sim.CorruptSAKCRC(true)
		_, err := device.DetectCard(context.Background(), fastRetry(3))
		require.ErrorIs(t, err, ErrChecksum)
		// One REQA, then HLTA and WUPA before each of the two retries.
		assert.Equal(t, 1, sim.PICCCommandCount(testutil.PICCReqA))
		assert.Equal(t, 2, sim.PICCCommandCount(testutil.PICCHltA))
		assert.Equal(t, 2, sim.PICCCommandCount(testutil.PICCWupA))
	})
}
