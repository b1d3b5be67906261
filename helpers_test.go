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
	"testing"
	"time"

	testutil "github.com/Pi4J/pi4j-example-crowpi-sub000/internal/testing"
	"github.com/stretchr/testify/require"
)

// testTimeout keeps a silent field from stalling tests; the simulated chip
// answers instantly.
const testTimeout = 50 * time.Millisecond

// newSimDevice returns an initialized Device on a fresh simulated chip with
// the given cards in the field.
func newSimDevice(t *testing.T, cards ...*testutil.VirtualCard) (*Device, *testutil.VirtualMFRC522) {
	t.Helper()
	sim := testutil.NewVirtualMFRC522()
	for _, card := range cards {
		sim.AddCard(card)
	}
	device, err := New(sim, WithPICCTimeout(testTimeout), WithCRCTimeout(testTimeout))
	require.NoError(t, err)
	require.NoError(t, device.Init(context.Background()))
	sim.ResetCounters()
	return device, sim
}

// newSimCard returns an initialized Device with one blank 1K card.
func newSimCard(t *testing.T, uid []byte) (*Device, *testutil.VirtualMFRC522, *testutil.VirtualCard) {
	t.Helper()
	card := testutil.NewVirtualMIFARE1K(uid)
	device, sim := newSimDevice(t, card)
	return device, sim, card
}

// selectCard runs REQA and Select, failing the test on any error.
func selectCard(t *testing.T, device *Device) *UID {
	t.Helper()
	ctx := context.Background()
	present, err := device.IsCardPresent(ctx)
	require.NoError(t, err)
	require.True(t, present, "no card answered REQA")
	uid, err := device.Select(ctx)
	require.NoError(t, err)
	return uid
}

// newSimMifare1K selects the single card in the field and wraps it.
func newSimMifare1K(t *testing.T) (*Mifare1K, *testutil.VirtualMFRC522, *testutil.VirtualCard) {
	t.Helper()
	device, sim, card := newSimCard(t, nil)
	uid := selectCard(t, device)
	sim.ResetCounters()
	return NewMifare1K(device, uid), sim, card
}
