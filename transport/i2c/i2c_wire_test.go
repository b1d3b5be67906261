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

package i2c

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	virt "github.com/Pi4J/pi4j-example-crowpi-sub000/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var errNACK = errors.New("i2c: NACK")

type i2cTx struct {
	w    []byte
	rLen int
	addr uint16
}

// MockI2CBus implements i2c.Bus backed by VirtualMFRC522. The first
// written byte selects the register; the rest are stored to it, or the
// read buffer is filled from it.
type MockI2CBus struct {
	sim    *virt.VirtualMFRC522
	err    error
	txs    []i2cTx
	closed bool
}

// NewMockI2CBus creates a new mock I2C bus wrapping the simulator.
func NewMockI2CBus(sim *virt.VirtualMFRC522) *MockI2CBus {
	return &MockI2CBus{sim: sim}
}

// Tx implements i2c.Bus.Tx
//
//nolint:varnamelen // Interface compliance requires these parameter names
func (m *MockI2CBus) Tx(addr uint16, w, r []byte) error {
	if m.closed {
		return errors.New("bus is closed")
	}
	if m.err != nil {
		return m.err
	}
	m.txs = append(m.txs, i2cTx{addr: addr, w: append([]byte(nil), w...), rLen: len(r)})
	if len(w) == 0 {
		return errNACK
	}

	writeAddr := (w[0] << 1) & 0x7E
	if len(r) == 0 {
		return m.sim.WriteRegisters(writeAddr, w[1:])
	}
	data, err := m.sim.ReadRegisters(writeAddr|0x80, len(r), 0)
	if err != nil {
		return fmt.Errorf("mock read: %w", err)
	}
	copy(r, data)
	return nil
}

// SetSpeed implements i2c.Bus.
func (*MockI2CBus) SetSpeed(_ physic.Frequency) error {
	return nil
}

// Close closes the mock bus.
func (m *MockI2CBus) Close() error {
	m.closed = true
	return nil
}

// String returns the bus name.
func (*MockI2CBus) String() string {
	return "mock://i2c"
}

var _ i2c.BusCloser = (*MockI2CBus)(nil)

// newTestI2CTransport creates a Transport using the mock I2C bus.
func newTestI2CTransport(sim *virt.VirtualMFRC522) (*Transport, *MockI2CBus) {
	bus := NewMockI2CBus(sim)
	return &Transport{
		dev:     &i2c.Dev{Addr: DefaultAddress, Bus: bus},
		bus:     bus,
		busName: "mock://i2c",
	}, bus
}

func TestParseI2CPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		wantBus  string
		wantAddr uint16
		wantErr  bool
	}{
		{name: "bare bus", path: "/dev/i2c-1", wantBus: "/dev/i2c-1", wantAddr: DefaultAddress},
		{name: "hex address", path: "/dev/i2c-1:0x2C", wantBus: "/dev/i2c-1", wantAddr: 0x2C},
		{name: "decimal address", path: "1:40", wantBus: "1", wantAddr: 40},
		{name: "address above 7 bits", path: "/dev/i2c-1:0x80", wantErr: true},
		{name: "garbage address", path: "/dev/i2c-1:rc522", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bus, addr, err := parseI2CPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBus, bus)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestRegisterIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x09), registerIndex(rfid.FIFODataReg.WriteAddress()))
	assert.Equal(t, byte(0x09), registerIndex(rfid.FIFODataReg.ReadAddress()))
	assert.Equal(t, byte(0x37), registerIndex(rfid.VersionReg.ReadAddress()))
}

func TestI2C_Frames(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	sim.SetVersion(0x91)
	transport, bus := newTestI2CTransport(sim)

	require.NoError(t, transport.WriteRegisters(rfid.FIFODataReg.WriteAddress(), []byte{0x93, 0x20}))
	version, err := transport.ReadRegister(rfid.VersionReg.ReadAddress())
	require.NoError(t, err)
	assert.Equal(t, byte(0x91), version)

	assert.Equal(t, []i2cTx{
		{addr: DefaultAddress, w: []byte{0x09, 0x93, 0x20}},
		{addr: DefaultAddress, w: []byte{0x37}, rLen: 1},
	}, bus.txs)
}

func TestI2C_ReadFIFOWithRxAlign(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	transport, _ := newTestI2CTransport(sim)

	require.NoError(t, transport.WriteRegisters(rfid.FIFODataReg.WriteAddress(), []byte{0x5F, 0x01, 0x02}))
	data, err := transport.ReadRegisters(rfid.FIFODataReg.ReadAddress(), 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x50, 0x01, 0x02}, data)
}

func TestI2C_Errors(t *testing.T) {
	t.Parallel()

	sim := virt.NewVirtualMFRC522()
	transport, bus := newTestI2CTransport(sim)

	err := transport.WriteRegisters(rfid.FIFODataReg.WriteAddress(), make([]byte, maxBurst+1))
	require.ErrorIs(t, err, rfid.ErrInvalidParameter)
	assert.Empty(t, bus.txs)

	bus.err = errNACK
	err = transport.WriteRegister(rfid.CommandReg.WriteAddress(), 0x00)
	require.ErrorIs(t, err, errNACK)
	var te *rfid.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "i2c write", te.Op)
	assert.True(t, rfid.IsRetryable(err))

	hard, err := transport.Reset()
	require.NoError(t, err)
	assert.False(t, hard)

	require.NoError(t, transport.Close())
	assert.True(t, bus.closed)
	_, err = transport.ReadRegister(rfid.VersionReg.ReadAddress())
	require.ErrorIs(t, err, rfid.ErrTransportClosed)
}

func TestI2C_SelectCard(t *testing.T) {
	t.Parallel()

	sim, _ := virt.NewFieldWithCard([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	sim.SetPowered(true)
	transport, _ := newTestI2CTransport(sim)

	ctx := context.Background()
	device, err := rfid.New(transport, rfid.WithPICCTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, device.Init(ctx))
	assert.Equal(t, 1, sim.CommandCount(byte(rfid.PCDSoftReset)))

	uid, err := device.DetectCard(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, uid)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, uid.Bytes())
	assert.Equal(t, byte(0x08), uid.SAK())
}
