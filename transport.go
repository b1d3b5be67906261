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

// Transport is the register-level link to an MFRC522. It can be
// implemented by SPI, I2C or UART backends.
//
// Addresses are the SPI-style address bytes produced by
// Register.WriteAddress and Register.ReadAddress. A Transport is owned by
// exactly one Device and is never used concurrently.
type Transport interface {
	// WriteRegister stores one byte at addr.
	WriteRegister(addr, value byte) error

	// WriteRegisters stores values at addr, one after the other. Used to
	// fill the FIFO.
	WriteRegisters(addr byte, values []byte) error

	// ReadRegister reads one byte from addr.
	ReadRegister(addr byte) (byte, error)

	// ReadRegisters reads n bytes from addr. The rxAlign low bits of the
	// first byte are cleared; they belong to bits the caller already holds.
	ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error)

	// Reset releases the chip from hard power-down through the reset line.
	// It returns true if a hard reset took place, false when the chip was
	// already powered (or no reset line is wired) and a soft reset is needed.
	Reset() (bool, error)

	// Close releases the bus and the reset line.
	Close() error
}

// rxAlignMask returns the mask of bits in the first received byte that come
// from the card when reception starts at bit position rxAlign.
func rxAlignMask(rxAlign byte) byte {
	return byte(0xFF << (rxAlign & 0x07))
}

// MaskRxAlign clears the rxAlign low bits of the first byte of data in place.
// Transports call it from ReadRegisters.
func MaskRxAlign(data []byte, rxAlign byte) {
	if len(data) > 0 && rxAlign != 0 {
		data[0] &= rxAlignMask(rxAlign)
	}
}
