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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMifare1KLayout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 704, Mifare1KCapacity)
	require.Len(t, mifare1KDataBlocks, 47)
	assert.Equal(t, []byte{1, 2, 4, 5, 6, 8}, mifare1KDataBlocks[:6])
	assert.Equal(t, byte(58), mifare1KDataBlocks[43], "last block within the write limit")
	assert.Equal(t, []byte{60, 61, 62}, mifare1KDataBlocks[44:])

	for _, block := range mifare1KDataBlocks {
		assert.False(t, isForbiddenBlock(block), "block %d", block)
	}

	assert.True(t, isForbiddenBlock(0))
	for sector := range byte(16) {
		assert.True(t, isForbiddenBlock(sector*4+3))
	}
	assert.False(t, isForbiddenBlock(4))
}

func TestMifare1K_CapacityCheckedBeforeIO(t *testing.T) {
	t.Parallel()

	store, sim, _ := newSimMifare1K(t)

	err := store.WriteBytes(context.Background(), make([]byte, Mifare1KCapacity+1))
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, IsRetryable(err))
	assert.Zero(t, sim.IOCount())
}

func TestMifare1K_AuthCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, _ := newSimMifare1K(t)

	_, err := store.ReadBlock(ctx, 4)
	require.NoError(t, err)
	_, err = store.ReadBlock(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.AuthCount(), "same sector authenticates once")
	assert.Equal(t, 1, store.AuthCount())

	_, err = store.ReadBlock(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, sim.AuthCount(), "new sector authenticates again")

	_, err = store.ReadBlock(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, sim.AuthCount())
}

func TestMifare1K_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, card := newSimMifare1K(t)

	data := make([]byte, Mifare1KCapacity)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, store.WriteBytes(ctx, data))
	assert.Equal(t, 15, sim.AuthCount(), "one authentication per sector 0-14")

	got, err := store.ReadBytes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 47*MifareBlockSize)
	assert.Equal(t, data, got[:Mifare1KCapacity])

	assert.Equal(t, data[:16], card.Memory[1][:])
	assert.Equal(t, data[16:32], card.Memory[2][:])
	assert.Equal(t, data[32:48], card.Memory[4][:])

	trailer, err := card.ReadBlock(7)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x07, 0x80, 0x69}, trailer[6:10], "trailers untouched")
	assert.Equal(t, make([]byte, 16), card.Memory[60][:], "blocks past the write limit untouched")
}

func TestMifare1K_ReadBytesCoversLastSector(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, card := newSimMifare1K(t)
	pattern := bytes.Repeat([]byte{0x5A}, MifareBlockSize)
	copy(card.Memory[60][:], pattern)
	copy(card.Memory[62][:], pattern)

	got, err := store.ReadBytes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 47*MifareBlockSize)
	assert.Equal(t, 16, sim.AuthCount(), "one authentication per sector")
	assert.Equal(t, pattern, got[44*MifareBlockSize:45*MifareBlockSize])
	assert.Equal(t, pattern, got[46*MifareBlockSize:])
}

func TestMifare1K_PartialWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, card := newSimMifare1K(t)
	copy(card.Memory[2][:], bytes.Repeat([]byte{0xAA}, 16))

	require.NoError(t, store.WriteBytes(ctx, []byte("ten bytes!")))

	assert.Equal(t, append([]byte("ten bytes!"), 0, 0, 0, 0, 0, 0), card.Memory[1][:])
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 16), card.Memory[2][:], "blocks past the data untouched")
}

func TestMifare1K_RawBlocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, card := newSimMifare1K(t)

	for _, block := range []byte{0, 3, 7, 63, 64} {
		err := store.WriteBlock(ctx, block, []byte{1})
		require.ErrorIs(t, err, ErrInvalidParameter, "block %d", block)
	}
	assert.Zero(t, sim.IOCount())

	_, err := store.ReadBlock(ctx, 64)
	require.ErrorIs(t, err, ErrInvalidParameter)

	require.NoError(t, store.WriteBlock(ctx, 61, []byte("raw")))
	assert.Equal(t, append([]byte("raw"), make([]byte, 13)...), card.Memory[61][:])

	manufacturer, err := store.ReadBlock(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, manufacturer[:4])
}

func TestMifare1K_ExpiredUID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, _ := newSimMifare1K(t)
	device := store.device

	_, err := store.ReadBlock(ctx, 4)
	require.NoError(t, err)

	require.NoError(t, device.HaltA(ctx))
	_, err = device.Reselect(ctx, store.UID())
	require.NoError(t, err)

	sim.ResetCounters()
	_, err = store.ReadBytes(ctx)
	require.ErrorIs(t, err, ErrUIDExpired)
	assert.Zero(t, sim.IOCount())
	assert.Equal(t, noSector, store.lastAuthSector)
}

func TestMifare1K_FailedWriteDropsAuthCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, _ := newSimMifare1K(t)

	sim.ForceAck(0x4)
	err := store.WriteBlock(ctx, 1, []byte("x"))
	require.ErrorIs(t, err, ErrWriteRejected)
	assert.Equal(t, noSector, store.lastAuthSector)

	sim.ClearFaults()
	_, err = store.ReadBlock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, sim.AuthCount())
}

func TestMifare1K_SetKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, card := newSimMifare1K(t)
	custom := [6]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
	require.NoError(t, card.SetSectorKeys(1, custom[:], custom[:]))

	_, err := store.ReadBlock(ctx, 4)
	require.ErrorIs(t, err, ErrTimeout, "default key no longer opens sector 1")

	store.SetKey(MifareKey{Key: custom, Type: MifareKeyA})
	_, err = store.ReadBlock(ctx, 4)
	require.NoError(t, err)
}

func TestMifare1K_Close(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, sim, card := newSimMifare1K(t)
	_, err := store.ReadBlock(ctx, 4)
	require.NoError(t, err)

	require.NoError(t, store.Close(ctx))
	assert.True(t, card.IsHalted())
	assert.Zero(t, sim.Register(byte(Status2Reg))&status2MFCrypto1On)
	assert.Equal(t, noSector, store.lastAuthSector)
}
