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
	"fmt"
)

// MIFARE Classic 1K memory structure
const (
	mifare1KSectors         = 16
	mifareBlocksPerSector   = 4
	mifare1KBlocks          = mifare1KSectors * mifareBlocksPerSector
	mifareManufacturerBlock = 0

	// Mifare1KCapacity is the write limit in bytes. It covers the first 44
	// of the 47 data blocks; ReadBytes still returns all of them.
	Mifare1KCapacity = 44 * MifareBlockSize
)

// noSector marks the authentication cache empty.
const noSector = -1

// mifare1KDataBlocks lists every block that is not forbidden, in address
// order.
var mifare1KDataBlocks = func() []byte {
	blocks := make([]byte, 0, mifare1KBlocks)
	for b := range mifare1KBlocks {
		block := byte(b)
		if isForbiddenBlock(block) {
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}()

func sectorOf(block byte) int {
	return int(block) / mifareBlocksPerSector
}

func isTrailerBlock(block byte) bool {
	return block%mifareBlocksPerSector == mifareBlocksPerSector-1
}

// isForbiddenBlock reports the manufacturer block and sector trailers.
func isForbiddenBlock(block byte) bool {
	return block == mifareManufacturerBlock || isTrailerBlock(block)
}

// Mifare1K maps a flat byte store onto the data blocks of a MIFARE Classic
// 1K card. Authentication is cached for the last sector entered.
//
// Writes are not atomic. A failure part way through WriteBytes leaves the
// card with a mix of old and new blocks.
type Mifare1K struct {
	device         *Device
	uid            *UID
	key            MifareKey
	lastAuthSector int
	authCount      int
}

// NewMifare1K returns the store for a selected 1K card. Sectors are
// authenticated with the factory default key B.
func NewMifare1K(device *Device, uid *UID) *Mifare1K {
	return &Mifare1K{
		device:         device,
		uid:            uid,
		key:            DefaultMifareKey(),
		lastAuthSector: noSector,
	}
}

// SetKey replaces the key used for every sector.
func (m *Mifare1K) SetKey(key MifareKey) {
	m.device.mu.Lock()
	defer m.device.mu.Unlock()
	m.key = key
	m.lastAuthSector = noSector
}

func (m *Mifare1K) UID() *UID {
	return m.uid
}

func (*Mifare1K) Type() CardType {
	return CardTypeMifare1K
}

func (*Mifare1K) Capacity() int {
	return Mifare1KCapacity
}

// AuthCount returns how many sector authentications the store performed.
func (m *Mifare1K) AuthCount() int {
	m.device.mu.Lock()
	defer m.device.mu.Unlock()
	return m.authCount
}

// ReadBytes reads every data block in address order. The result is longer
// than Capacity: it includes the blocks past the write limit.
func (m *Mifare1K) ReadBytes(ctx context.Context) ([]byte, error) {
	unlock, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]byte, 0, len(mifare1KDataBlocks)*MifareBlockSize)
	for _, block := range mifare1KDataBlocks {
		data, err := m.readBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// WriteBytes writes data in 16-byte chunks from the first data block on.
// The last chunk is zero padded; blocks past the data are left untouched.
func (m *Mifare1K) WriteBytes(ctx context.Context, data []byte) error {
	if len(data) > Mifare1KCapacity {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrCapacityExceeded, len(data), Mifare1KCapacity)
	}
	unlock, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	blocks := mifare1KDataBlocks
	for offset := 0; offset < len(data); offset += MifareBlockSize {
		if len(blocks) == 0 {
			return fmt.Errorf("%w: out of blocks at offset %d", ErrCapacityExceeded, offset)
		}
		end := min(offset+MifareBlockSize, len(data))
		if err := m.writeBlock(blocks[0], data[offset:end]); err != nil {
			return err
		}
		blocks = blocks[1:]
	}
	debugf("wrote %d bytes to card %s", len(data), m.uid)
	return nil
}

// ReadBlock reads one raw block, trailers included.
func (m *Mifare1K) ReadBlock(ctx context.Context, block byte) ([]byte, error) {
	if int(block) >= mifare1KBlocks {
		return nil, fmt.Errorf("%w: block %d", ErrInvalidParameter, block)
	}
	unlock, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m.readBlock(block)
}

// WriteBlock writes one raw block. The manufacturer block and trailers
// are refused.
func (m *Mifare1K) WriteBlock(ctx context.Context, block byte, data []byte) error {
	if int(block) >= mifare1KBlocks || isForbiddenBlock(block) {
		return fmt.Errorf("%w: block %d is not writable", ErrInvalidParameter, block)
	}
	unlock, err := m.begin(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return m.writeBlock(block, data)
}

// Close halts the card and switches Crypto1 off.
func (m *Mifare1K) Close(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := m.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	m.lastAuthSector = noSector
	haltErr := d.haltLocked()
	if err := d.clearRegisterBits(Status2Reg, status2MFCrypto1On); err != nil {
		return err
	}
	return haltErr
}

// begin takes the device lock and checks that the card is still the one
// last selected.
func (m *Mifare1K) begin(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := m.device
	d.mu.Lock()
	if err := d.checkOpen(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if err := d.checkUID(m.uid); err != nil {
		m.lastAuthSector = noSector
		d.mu.Unlock()
		return nil, err
	}
	return d.mu.Unlock, nil
}

func (m *Mifare1K) readBlock(block byte) ([]byte, error) {
	if err := m.authenticate(block); err != nil {
		return nil, err
	}
	data, err := m.device.mifareRead(block)
	if err != nil {
		m.lastAuthSector = noSector
		return nil, err
	}
	return data, nil
}

func (m *Mifare1K) writeBlock(block byte, data []byte) error {
	if err := m.authenticate(block); err != nil {
		return err
	}
	if err := m.device.mifareWrite(block, data); err != nil {
		m.lastAuthSector = noSector
		return err
	}
	return nil
}

// authenticate enters the sector of block unless it is already the cached one.
func (m *Mifare1K) authenticate(block byte) error {
	sector := sectorOf(block)
	if sector == m.lastAuthSector {
		return nil
	}
	m.authCount++
	if err := m.device.mifareAuth(m.key, block, m.uid); err != nil {
		m.lastAuthSector = noSector
		return err
	}
	m.lastAuthSector = sector
	return nil
}
