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
	virt "github.com/Pi4J/pi4j-example-crowpi-sub000/internal/testing"
	"github.com/stretchr/testify/require"
)

const (
	testPollInterval   = 5 * time.Millisecond
	testRemovalTimeout = 60 * time.Millisecond
	// eventTimeout bounds every wait for a callback
	eventTimeout = 2 * time.Second
)

var (
	uidA = []byte{0x11, 0x22, 0x33, 0x44}
	uidB = []byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}
)

// newTestDevice returns an initialized Device on a simulated chip with the
// given cards in the field.
func newTestDevice(t *testing.T, cards ...*virt.VirtualCard) (*rfid.Device, *virt.VirtualMFRC522) {
	t.Helper()
	sim := virt.NewVirtualMFRC522()
	for _, card := range cards {
		sim.AddCard(card)
	}
	device, err := rfid.New(sim,
		rfid.WithPICCTimeout(20*time.Millisecond),
		rfid.WithCRCTimeout(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	return device, sim
}

// fastRetry retries without noticeable backoff
func fastRetry(attempts int) *rfid.RetryConfig {
	return &rfid.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
		RetryTimeout:      time.Second,
	}
}

func testConfig() *Config {
	return &Config{
		DetectRetry:          fastRetry(1),
		WriteRetry:           fastRetry(1),
		PollInterval:         testPollInterval,
		CardRemovalTimeout:   testRemovalTimeout,
		MaxConsecutiveErrors: 2,
		SleepRecovery:        SleepRecoveryConfig{},
	}
}

// runningSession is a session loop started by runSession
type runningSession struct {
	cancel   context.CancelFunc
	errCh    chan error
	result   error
	finished bool
}

// runSession starts the session loop; it is stopped on test cleanup.
func runSession(t *testing.T, session *Session) *runningSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &runningSession{cancel: cancel, errCh: make(chan error, 1)}
	go func() {
		r.errCh <- session.Start(ctx)
	}()
	t.Cleanup(func() {
		r.cancel()
		if !r.finished {
			<-r.errCh
		}
		_ = session.Close()
	})
	return r
}

// wait returns what Start returned, without cancelling it
func (r *runningSession) wait(t *testing.T) error {
	t.Helper()
	if r.finished {
		return r.result
	}
	r.result = waitFor(t, r.errCh, "session to stop")
	r.finished = true
	return r.result
}

// stop cancels the loop and returns what Start returned
func (r *runningSession) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	return r.wait(t)
}

// waitFor receives one value from ch or fails the test
func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// fakeRecoverer counts recoveries and runs fix on each
type fakeRecoverer struct {
	device *rfid.Device
	fix    func()
	err    error
	calls  chan struct{}
}

func newFakeRecoverer(device *rfid.Device, fix func()) *fakeRecoverer {
	return &fakeRecoverer{device: device, fix: fix, calls: make(chan struct{}, 100)}
}

func (f *fakeRecoverer) AttemptRecovery(context.Context) error {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	if f.err != nil {
		return f.err
	}
	if f.fix != nil {
		f.fix()
	}
	return nil
}

func (f *fakeRecoverer) GetDevice() *rfid.Device {
	return f.device
}

var errBusFault = errors.New("bus fault")
