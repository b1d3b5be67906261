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
	"encoding/hex"
	"strings"
)

// MaxUIDLength is the longest ISO14443A UID (triple size).
const MaxUIDLength = 10

// sakCascadeBit in a SAK means the UID continues on the next cascade level.
const sakCascadeBit = 0x04

// UID is the identifier of a selected card together with its final SAK.
//
// A UID is produced by Select and is read-only. It is only valid until the
// next Select on the same Device begins.
type UID struct {
	bytes   [MaxUIDLength]byte
	size    int
	session uint64
	sak     byte
}

// Bytes returns a copy of the UID bytes (4, 7 or 10 of them).
func (u *UID) Bytes() []byte {
	out := make([]byte, u.size)
	copy(out, u.bytes[:u.size])
	return out
}

// Size returns the UID length in bytes.
func (u *UID) Size() int {
	return u.size
}

// SAK returns the Select Acknowledge byte of the last cascade level.
func (u *UID) SAK() byte {
	return u.sak
}

// String returns the UID as upper case hex.
func (u *UID) String() string {
	return strings.ToUpper(hex.EncodeToString(u.bytes[:u.size]))
}

// lastFour returns the four UID bytes used by MIFARE authentication.
func (u *UID) lastFour() []byte {
	return u.bytes[u.size-4 : u.size]
}

// cascadeLevel is one state of the CL1 -> CL2 -> CL3 selection machine.
type cascadeLevel struct {
	sel PICCCommand
	// uidOffset is where this level's UID bytes land in the assembled UID.
	uidOffset int
	// promotion is the number of known UID bits above which this level
	// carries a cascade tag instead of a fourth UID byte.
	promotion int
	number    int
}

var cascadeLevels = [...]cascadeLevel{
	{sel: PICCSelCL1, uidOffset: 0, promotion: 32, number: 1},
	{sel: PICCSelCL2, uidOffset: 3, promotion: 56, number: 2},
	{sel: PICCSelCL3, uidOffset: 6, promotion: 80, number: 3},
}

// next returns the following cascade level, false after CL3.
func (l cascadeLevel) next() (cascadeLevel, bool) {
	if l.number >= len(cascadeLevels) {
		return cascadeLevel{}, false
	}
	return cascadeLevels[l.number], true
}

// uidSize is the UID length when selection completes at this level.
func (l cascadeLevel) uidSize() int {
	return 3*l.number + 1
}
