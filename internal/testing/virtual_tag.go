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

package testing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/frame"
)

// ISO14443-3 PICC states
type cardState int

const (
	cardIdle cardState = iota
	cardReady
	cardActive
	cardHalt
)

const (
	blockSize       = 16
	blocksPerSector = 4
	mifare1KBlocks  = 64
	cascadeTag      = 0x88
	sakCascade      = 0x04
	mifareAck       = 0x0A
	mifareNak       = 0x04
	noSector        = -1
	noPendingWrite  = -1
)

// Errors returned by VirtualCard memory operations
var (
	ErrCardNotAuthenticated = errors.New("sector not authenticated")
	ErrCardBlockProtected   = errors.New("block is write protected")
	ErrCardBadBlock         = errors.New("block out of range")
)

// DefaultKey is the factory key of blank MIFARE Classic cards.
var DefaultKey = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Common UIDs for testing
var (
	// TestMIFARE1KUID is a single size UID
	TestMIFARE1KUID = []byte{0x11, 0x22, 0x33, 0x44}
	// TestDoubleUID is a 7-byte NXP UID
	TestDoubleUID = []byte{0x04, 0xAB, 0xCD, 0xEF, 0x12, 0x34, 0x56}
	// TestTripleUID is a 10-byte UID
	TestTripleUID = []byte{0x04, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90}
)

// VirtualCard is a simulated ISO14443A PICC with MIFARE Classic 1K memory.
// It follows the IDLE/READY/ACTIVE/HALT state machine and answers
// anti-collision bit by bit, so several cards in the field collide.
type VirtualCard struct {
	UID    []byte
	Memory [mifare1KBlocks][blockSize]byte

	authSector   int
	pendingWrite int
	state        cardState
	level        int
	SAK          byte
	Present      bool
}

// NewVirtualMIFARE1K creates a blank MIFARE Classic 1K card. UID may be 4,
// 7 or 10 bytes; nil selects TestMIFARE1KUID.
func NewVirtualMIFARE1K(uid []byte) *VirtualCard {
	return NewVirtualCard(uid, 0x08)
}

// NewVirtualCard creates a card answering with the given final SAK.
func NewVirtualCard(uid []byte, sak byte) *VirtualCard {
	if uid == nil {
		uid = TestMIFARE1KUID
	}
	card := &VirtualCard{
		UID:          append([]byte(nil), uid...),
		SAK:          sak,
		Present:      true,
		authSector:   noSector,
		pendingWrite: noPendingWrite,
	}
	card.initMemory()
	return card
}

// initMemory writes the manufacturer block and transport configuration
// trailers: key A and key B all 0xFF, access bits FF 07 80.
func (v *VirtualCard) initMemory() {
	copy(v.Memory[0][:], v.UID)
	if len(v.UID) == 4 {
		v.Memory[0][4] = frame.BCC(v.UID)
	}
	v.Memory[0][5] = v.SAK
	for sector := range mifare1KBlocks / blocksPerSector {
		trailer := &v.Memory[sector*blocksPerSector+blocksPerSector-1]
		copy(trailer[0:6], DefaultKey)
		copy(trailer[6:10], []byte{0xFF, 0x07, 0x80, 0x69})
		copy(trailer[10:16], DefaultKey)
	}
}

// GetUIDString returns the UID as upper case hex
func (v *VirtualCard) GetUIDString() string {
	return strings.ToUpper(hex.EncodeToString(v.UID))
}

// Remove takes the card out of the field
func (v *VirtualCard) Remove() {
	v.Present = false
	v.reset()
}

// Insert puts the card back into the field, in the IDLE state
func (v *VirtualCard) Insert() {
	v.Present = true
	v.reset()
}

// IsHalted reports whether the card is in the HALT state
func (v *VirtualCard) IsHalted() bool {
	return v.state == cardHalt
}

// IsActive reports whether the card is selected
func (v *VirtualCard) IsActive() bool {
	return v.state == cardActive
}

// AuthenticatedSector returns the sector the card is authenticated for, or -1
func (v *VirtualCard) AuthenticatedSector() int {
	return v.authSector
}

func (v *VirtualCard) reset() {
	v.state = cardIdle
	v.level = 0
	v.authSector = noSector
	v.pendingWrite = noPendingWrite
}

// SetSectorKeys replaces key A and key B in the sector trailer.
func (v *VirtualCard) SetSectorKeys(sector int, keyA, keyB []byte) error {
	if sector < 0 || sector >= mifare1KBlocks/blocksPerSector {
		return fmt.Errorf("sector %d: %w", sector, ErrCardBadBlock)
	}
	if len(keyA) != 6 || len(keyB) != 6 {
		return errors.New("keys must be 6 bytes")
	}
	trailer := &v.Memory[sector*blocksPerSector+blocksPerSector-1]
	copy(trailer[0:6], keyA)
	copy(trailer[10:16], keyB)
	return nil
}

// ReadBlock returns a copy of one block, ignoring authentication.
func (v *VirtualCard) ReadBlock(block int) ([]byte, error) {
	if block < 0 || block >= mifare1KBlocks {
		return nil, fmt.Errorf("block %d: %w", block, ErrCardBadBlock)
	}
	out := make([]byte, blockSize)
	copy(out, v.Memory[block][:])
	return out, nil
}

// atqa is the answer to REQA/WUPA, announcing the UID size.
func (v *VirtualCard) atqa() []byte {
	switch len(v.UID) {
	case 7:
		return []byte{0x44, 0x00}
	case 10:
		return []byte{0x84, 0x00}
	default:
		return []byte{0x04, 0x00}
	}
}

// levels returns how many cascade levels the UID spans.
func (v *VirtualCard) levels() int {
	switch len(v.UID) {
	case 7:
		return 2
	case 10:
		return 3
	default:
		return 1
	}
}

// levelBytes returns the 5 bytes the card sends on cascade level n
// (0-based): four UID or cascade tag bytes followed by their BCC.
func (v *VirtualCard) levelBytes(n int) [5]byte {
	var out [5]byte
	last := n == v.levels()-1
	offset := 3 * n
	if last {
		copy(out[:4], v.UID[offset:offset+4])
	} else {
		out[0] = cascadeTag
		copy(out[1:4], v.UID[offset:offset+3])
	}
	out[4] = frame.BCC(out[:4])
	return out
}

// levelSAK is the SAK answered when level n is selected.
func (v *VirtualCard) levelSAK(n int) byte {
	if n < v.levels()-1 {
		return sakCascade
	}
	return v.SAK &^ sakCascade
}

// answersRequest reports whether the card answers REQA (or WUPA when wakeUp).
func (v *VirtualCard) answersRequest(wakeUp bool) bool {
	if !v.Present {
		return false
	}
	return v.state == cardIdle || (wakeUp && v.state == cardHalt)
}

// authenticate checks key against the trailer of block's sector.
func (v *VirtualCard) authenticate(keyType byte, block int, key, uid []byte) bool {
	if v.state != cardActive || block < 0 || block >= mifare1KBlocks {
		return false
	}
	if len(uid) != 4 || !bytesEqual(uid, v.UID[len(v.UID)-4:]) {
		return false
	}
	sector := block / blocksPerSector
	trailer := v.Memory[sector*blocksPerSector+blocksPerSector-1]
	var want []byte
	switch keyType {
	case 0x60:
		want = trailer[0:6]
	case 0x61:
		want = trailer[10:16]
	default:
		return false
	}
	if !bytesEqual(want, key) {
		v.authSector = noSector
		return false
	}
	v.authSector = sector
	return true
}

func (v *VirtualCard) readBlock(block int) ([]byte, error) {
	if block < 0 || block >= mifare1KBlocks {
		return nil, ErrCardBadBlock
	}
	if block/blocksPerSector != v.authSector {
		return nil, ErrCardNotAuthenticated
	}
	out := make([]byte, blockSize)
	copy(out, v.Memory[block][:])
	if block%blocksPerSector == blocksPerSector-1 {
		// Key A is never readable
		clear(out[0:6])
	}
	return out, nil
}

func (v *VirtualCard) checkWritable(block int) error {
	if block <= 0 || block >= mifare1KBlocks {
		return ErrCardBlockProtected
	}
	if block/blocksPerSector != v.authSector {
		return ErrCardNotAuthenticated
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
