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

// CardType is a PICC family as identified by its SAK.
type CardType string

const (
	CardTypeMifareMini CardType = "MIFARE_MINI"
	CardTypeMifare1K   CardType = "MIFARE_1K"
	CardTypeMifare4K   CardType = "MIFARE_4K"
	CardTypeMifareUL   CardType = "MIFARE_UL"
	CardTypeMifarePlus CardType = "MIFARE_PLUS"
	CardTypeTNP3XXX    CardType = "TNP3XXX"
	CardTypeISO14443_4 CardType = "ISO_14443_4"
	CardTypeISO18092   CardType = "ISO_18092"
)

// sakBitRFU is ignored when mapping a SAK to a card type.
const sakBitRFU = 0x80

var cardTypesBySAK = map[byte]CardType{
	0x09: CardTypeMifareMini,
	0x08: CardTypeMifare1K,
	0x18: CardTypeMifare4K,
	0x00: CardTypeMifareUL,
	0x10: CardTypeMifarePlus,
	0x11: CardTypeMifarePlus,
	0x01: CardTypeTNP3XXX,
	0x20: CardTypeISO14443_4,
	0x40: CardTypeISO18092,
}

// CardTypeFromSAK maps a SAK to its card type. The RFU bit is ignored.
func CardTypeFromSAK(sak byte) (CardType, error) {
	t, ok := cardTypesBySAK[sak&^sakBitRFU]
	if !ok {
		return "", fmt.Errorf("%w: SAK 0x%02X", ErrUnsupportedCard, sak)
	}
	return t, nil
}

// SAK returns the canonical SAK of the card type.
func (t CardType) SAK() byte {
	switch t {
	case CardTypeMifareMini:
		return 0x09
	case CardTypeMifare1K:
		return 0x08
	case CardTypeMifare4K:
		return 0x18
	case CardTypeMifareUL:
		return 0x00
	case CardTypeMifarePlus:
		return 0x10
	case CardTypeTNP3XXX:
		return 0x01
	case CardTypeISO14443_4:
		return 0x20
	case CardTypeISO18092:
		return 0x40
	default:
		return 0xFF
	}
}

// Card is a selected card exposing its memory as one flat byte store.
type Card interface {
	// UID returns the UID the card was selected with
	UID() *UID

	// Type returns the card type
	Type() CardType

	// Capacity returns the number of usable bytes
	Capacity() int

	// ReadBytes reads the whole store, which may be longer than Capacity
	ReadBytes(ctx context.Context) ([]byte, error)

	// WriteBytes writes data from offset 0. The last chunk is zero padded
	// and the bytes after it keep their old contents.
	WriteBytes(ctx context.Context, data []byte) error

	// Close halts the card and leaves the authenticated state
	Close(ctx context.Context) error
}

// CreateCard wraps a selected UID in the store for its card type.
func (d *Device) CreateCard(uid *UID) (Card, error) {
	if uid == nil {
		return nil, fmt.Errorf("%w: no UID", ErrInvalidParameter)
	}
	t, err := CardTypeFromSAK(uid.SAK())
	if err != nil {
		return nil, err
	}
	switch t {
	case CardTypeMifare1K:
		return NewMifare1K(d, uid), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCard, t)
	}
}

// Manufacturer is the chip maker identified from the first UID byte.
type Manufacturer string

const (
	ManufacturerNXP      Manufacturer = "NXP"
	ManufacturerST       Manufacturer = "STMicroelectronics"
	ManufacturerInfineon Manufacturer = "Infineon"
	ManufacturerTI       Manufacturer = "Texas Instruments"
	// ManufacturerUnknown typically indicates a clone or a 4-byte random UID.
	ManufacturerUnknown Manufacturer = "Unknown"
)

// Manufacturer returns the chip maker per ISO/IEC 7816-6. Only meaningful
// for 7 and 10-byte UIDs; single size UIDs may be random.
func (u *UID) Manufacturer() Manufacturer {
	if u.size == 0 {
		return ManufacturerUnknown
	}
	switch u.bytes[0] {
	case 0x04:
		return ManufacturerNXP
	case 0x02:
		return ManufacturerST
	case 0x05:
		return ManufacturerInfineon
	case 0x07:
		return ManufacturerTI
	default:
		return ManufacturerUnknown
	}
}
