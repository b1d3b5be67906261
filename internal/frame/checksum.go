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

// Package frame holds the pure checksum routines used on ISO14443A frames.
package frame

// CRCAPreset is the ISO14443-3 CRC_A initial register value.
const CRCAPreset = 0x6363

// CRCA computes the ISO14443-3 Type A CRC over data. The result is little
// endian, ready to be appended to a frame, and matches the MFRC522 CRC
// coprocessor when ModeReg selects the 0x6363 preset.
func CRCA(data []byte) [2]byte {
	crc := uint32(CRCAPreset)
	for _, b := range data {
		b ^= uint8(crc & 0xff)
		b ^= b << 4
		b32 := uint32(b)
		crc = (crc >> 8) ^ (b32 << 8) ^ (b32 << 3) ^ (b32 >> 4)
	}
	return [2]byte{byte(crc & 0xff), byte((crc >> 8) & 0xff)}
}

// AppendCRCA appends the CRC_A of data to data.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	return append(data, crc[0], crc[1])
}

// BCC returns the block check character of a cascade level: the XOR of
// its four UID (or cascade tag + UID) bytes.
func BCC(level []byte) byte {
	var bcc byte
	for _, b := range level {
		bcc ^= b
	}
	return bcc
}
