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

import "github.com/Pi4J/pi4j-example-crowpi-sub000/internal/frame"

// CollidingUIDs returns two 4-byte UIDs equal to base in every bit before
// bit (0-based, LSB first) and differing at it. The first has the bit set,
// which is the branch anti-collision takes.
func CollidingUIDs(base []byte, bit int) (one, zero []byte) {
	one = append([]byte(nil), base[:4]...)
	zero = append([]byte(nil), base[:4]...)
	one[bit/8] |= 1 << (bit % 8)
	zero[bit/8] &^= 1 << (bit % 8)
	return one, zero
}

// NewFieldWithCard returns a powered down chip with one blank 1K card.
func NewFieldWithCard(uid []byte) (*VirtualMFRC522, *VirtualCard) {
	sim := NewVirtualMFRC522()
	card := NewVirtualMIFARE1K(uid)
	sim.AddCard(card)
	return sim, card
}

// SelectFrame returns the 9-byte SELECT frame of one cascade level:
// SEL, NVB 0x70, the four level bytes, BCC and CRC_A.
func SelectFrame(sel byte, level []byte) []byte {
	out := make([]byte, 0, 9)
	out = append(out, sel, 0x70)
	out = append(out, level[:4]...)
	out = append(out, frame.BCC(level[:4]))
	return frame.AppendCRCA(out)
}
