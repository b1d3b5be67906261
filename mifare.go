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
	"fmt"
)

// MIFARE Classic memory structure
const (
	MifareBlockSize  = 16 // 16 bytes per block
	mifareKeySize    = 6  // 6 bytes per key
	mifareReadLength = MifareBlockSize + 2
)

// Blank MIFARE Classic cards ship with this transport key in both key slots.
var defaultKey = [mifareKeySize]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// MifareKeyType selects which sector trailer key authenticates.
type MifareKeyType byte

const (
	MifareKeyA MifareKeyType = MifareKeyType(PICCMFAuthKeyA)
	MifareKeyB MifareKeyType = MifareKeyType(PICCMFAuthKeyB)
)

func (t MifareKeyType) String() string {
	switch t {
	case MifareKeyA:
		return "A"
	case MifareKeyB:
		return "B"
	default:
		return fmt.Sprintf("MifareKeyType(0x%02X)", byte(t))
	}
}

// MifareKey is a 6-byte sector key together with its slot.
type MifareKey struct {
	Key  [mifareKeySize]byte
	Type MifareKeyType
}

// DefaultMifareKey returns the factory key B.
func DefaultMifareKey() MifareKey {
	return MifareKey{Key: defaultKey, Type: MifareKeyB}
}

// MifareAuth authenticates the sector holding block against the selected
// card. On success the chip encrypts all further traffic with Crypto1 until
// MifareStopCrypto1 or a new selection.
func (d *Device) MifareAuth(ctx context.Context, key MifareKey, block byte, uid *UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.mifareAuth(key, block, uid)
}

func (d *Device) mifareAuth(key MifareKey, block byte, uid *UID) error {
	if err := d.checkUID(uid); err != nil {
		return err
	}
	if key.Type != MifareKeyA && key.Type != MifareKeyB {
		return fmt.Errorf("%w: key type 0x%02X", ErrInvalidParameter, byte(key.Type))
	}

	cmd := make([]byte, 0, 12)
	cmd = append(cmd, byte(key.Type), block)
	cmd = append(cmd, key.Key[:]...)
	cmd = append(cmd, uid.lastFour()...)

	if _, err := d.communicate(PCDMFAuthent, ComIrqIdle, cmd, framing{}, 0); err != nil {
		return fmt.Errorf("authenticate block %d with key %s: %w", block, key.Type, err)
	}

	status, err := d.readRegister(Status2Reg)
	if err != nil {
		return err
	}
	if status&status2MFCrypto1On == 0 {
		return newPCDError("MFAuthent", ErrTimeout, fmt.Sprintf("block %d: Crypto1 not enabled", block))
	}
	debugf("authenticated block %d with key %s", block, key.Type)
	return nil
}

// MifareStopCrypto1 leaves the authenticated state. It is required before
// talking to another card.
func (d *Device) MifareStopCrypto1(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.clearRegisterBits(Status2Reg, status2MFCrypto1On)
}

// MifareRead reads one 16-byte block. The sector must be authenticated.
func (d *Device) MifareRead(ctx context.Context, block byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.mifareRead(block)
}

func (d *Device) mifareRead(block byte) ([]byte, error) {
	cmd, err := d.appendCRC([]byte{byte(PICCMFRead), block})
	if err != nil {
		return nil, err
	}
	resp, err := d.transceive(cmd, framing{}, mifareReadLength)
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", block, err)
	}
	if resp.Len() != mifareReadLength || resp.ValidBits != 0 {
		return nil, newPCDError("read", ErrCommunication,
			fmt.Sprintf("block %d: %d bytes, %d valid bits", block, resp.Len(), resp.ValidBits))
	}
	if err := d.checkCRC("read", resp.Data); err != nil {
		return nil, err
	}
	return resp.Data[:MifareBlockSize], nil
}

// MifareWrite writes one block in the two-step MIFARE exchange. Data
// shorter than a block is zero padded.
//
// A failure after the first ACK may leave the block partially written;
// the card offers no way to tell.
func (d *Device) MifareWrite(ctx context.Context, block byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.mifareWrite(block, data)
}

func (d *Device) mifareWrite(block byte, data []byte) error {
	if len(data) > MifareBlockSize {
		return fmt.Errorf("%w: %d bytes exceed block size", ErrInvalidParameter, len(data))
	}

	cmd, err := d.appendCRC([]byte{byte(PICCMFWrite), block})
	if err != nil {
		return err
	}
	if err := d.mifareTransceiveAck(cmd); err != nil {
		return fmt.Errorf("write block %d command: %w", block, err)
	}

	payload := make([]byte, MifareBlockSize, MifareBlockSize+2)
	copy(payload, data)
	if payload, err = d.appendCRC(payload); err != nil {
		return err
	}
	if err := d.mifareTransceiveAck(payload); err != nil {
		return fmt.Errorf("write block %d data: %w", block, err)
	}
	return nil
}

// mifareTransceiveAck sends a frame and expects the 4-bit MIFARE ACK.
func (d *Device) mifareTransceiveAck(frame []byte) error {
	resp, err := d.transceive(frame, framing{}, 1)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("%w: no ACK", ErrWriteRejected)
		}
		return err
	}
	if resp.Len() != 1 || resp.ValidBits != 4 {
		return newPCDError("write", ErrWriteRejected,
			fmt.Sprintf("ACK frame of %d bytes, %d valid bits", resp.Len(), resp.ValidBits))
	}
	if resp.Data[0]&0x0F != MIFAREAck {
		return newPCDError("write", ErrWriteRejected, fmt.Sprintf("NAK 0x%X", resp.Data[0]&0x0F))
	}
	return nil
}

// checkUID rejects a UID produced by an earlier selection.
func (d *Device) checkUID(uid *UID) error {
	if uid == nil || uid.size < 4 {
		return fmt.Errorf("%w: no UID", ErrInvalidParameter)
	}
	if uid.session != d.session {
		return ErrUIDExpired
	}
	return nil
}
