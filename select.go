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

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/frame"
)

// maxSelectIterations bounds the anti-collision/select sub-loop of one
// cascade level. Each collision adds at least one known bit, so 32 rounds
// cover a full level.
const maxSelectIterations = 32

// nvbSelect is the NVB of a SELECT frame: 7 bytes, all 32 UID bits known.
const nvbSelect = 0x70

// IsCardPresent sends REQA and reports whether a card in the IDLE state
// answered. A collision counts as present.
func (d *Device) IsCardPresent(ctx context.Context) (bool, error) {
	return d.request(ctx, PICCReqA)
}

// WakeUp sends WUPA, which is also answered by halted cards.
func (d *Device) WakeUp(ctx context.Context) (bool, error) {
	return d.request(ctx, PICCWupA)
}

func (d *Device) request(ctx context.Context, cmd PICCCommand) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	return d.requestLocked(cmd)
}

// requestLocked sends REQA or WUPA as a short 7-bit frame and expects a
// 2-byte ATQA.
func (d *Device) requestLocked(cmd PICCCommand) (bool, error) {
	if err := d.clearRegisterBits(CollReg, collValuesAfterColl); err != nil {
		return false, err
	}
	resp, err := d.transceive([]byte{byte(cmd)}, framing{txLastBits: 7}, 2)
	switch {
	case errors.Is(err, ErrCollision):
		return true, nil
	case err != nil:
		var te *TransportError
		if errors.As(err, &te) {
			return false, err
		}
		return false, nil
	default:
		return resp.Len() == 2 && resp.ValidBits == 0, nil
	}
}

// Select runs ISO14443-3 anti-collision and selection over up to three
// cascade levels and returns the UID and SAK of the selected card.
//
// Starting a Select expires every UID returned earlier by this Device.
func (d *Device) Select(ctx context.Context) (*UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.selectLocked(nil)
}

// Reselect wakes a halted card and selects it again by its known UID. The
// returned UID belongs to the new selection.
func (d *Device) Reselect(ctx context.Context, uid *UID) (*UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if uid == nil || uid.size == 0 {
		return nil, fmt.Errorf("%w: reselect needs a UID", ErrInvalidParameter)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	present, err := d.requestLocked(PICCWupA)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, newPCDError("reselect", ErrTimeout, "card did not answer WUPA")
	}
	return d.selectLocked(uid)
}

// selectLocked selects a card. With known set, its UID bits are sent up
// front so the card is addressed without anti-collision.
func (d *Device) selectLocked(known *UID) (*UID, error) {
	d.session++
	uid := &UID{session: d.session}
	validBits := 0
	if known != nil {
		copy(uid.bytes[:], known.bytes[:known.size])
		validBits = known.size * 8
	}

	if err := d.clearRegisterBits(CollReg, collValuesAfterColl); err != nil {
		return nil, err
	}

	level := cascadeLevels[0]
	for {
		sak, err := d.selectLevel(level, uid, validBits)
		if err != nil {
			return nil, err
		}
		debugf("cascade level %d selected, SAK 0x%02X", level.number, sak)

		if sak&sakCascadeBit == 0 {
			uid.sak = sak
			uid.size = level.uidSize()
			debugf("selected card %s", uid)
			return uid, nil
		}
		next, ok := level.next()
		if !ok {
			return nil, newPCDError("select", ErrProtocol, "cascade bit set after level 3")
		}
		level = next
	}
}

// selectLevel resolves and selects one cascade level and returns its SAK.
//
// buf is the 9-byte frame: SEL, NVB, four level bytes (cascade tag or UID),
// BCC, CRC_A. Anti-collision answers land in buf at the first unknown
// byte, merged bitwise when the known bits are not byte aligned.
func (d *Device) selectLevel(level cascadeLevel, uid *UID, validBits int) (byte, error) {
	var buf [9]byte
	buf[0] = byte(level.sel)

	useCascadeTag := validBits > level.promotion
	knownBits := max(validBits-8*level.uidOffset, 0)

	idx := 2
	if useCascadeTag {
		buf[idx] = byte(PICCCascadeTag)
		idx++
	}
	if knownBits > 0 {
		n := (knownBits + 7) / 8
		maxBytes := 4
		if useCascadeTag {
			maxBytes = 3
		}
		n = min(n, maxBytes)
		copy(buf[idx:idx+n], uid.bytes[level.uidOffset:level.uidOffset+n])
	}
	if useCascadeTag {
		knownBits += 8
	}

	for range maxSelectIterations {
		var (
			send    []byte
			respOff int
			f       framing
		)
		if knownBits >= 32 {
			buf[1] = nvbSelect
			buf[6] = frame.BCC(buf[2:6])
			crc, err := d.calculateCRC(buf[:7])
			if err != nil {
				return 0, err
			}
			buf[7], buf[8] = crc[0], crc[1]
			send, respOff = buf[:9], 6
		} else {
			f.txLastBits = byte(knownBits % 8)
			f.rxAlign = f.txLastBits
			respOff = 2 + knownBits/8
			buf[1] = byte(respOff<<4) | f.txLastBits
			n := respOff
			if f.txLastBits != 0 {
				n++
			}
			send = buf[:n]
		}

		resp, err := d.transceive(send, f, len(buf)-respOff)
		if resp != nil {
			mergeResponse(buf[respOff:], resp.Data, f.rxAlign)
		}

		switch {
		case errors.Is(err, ErrCollision):
			pos, err := d.collisionPosition()
			if err != nil {
				return 0, err
			}
			if pos <= knownBits {
				return 0, newPCDError("anticollision", ErrProtocol,
					fmt.Sprintf("collision at bit %d, %d bits already known", pos, knownBits))
			}
			debugf("collision at bit %d on level %d", pos, level.number)
			knownBits = pos
			// Take the branch where the collided bit is 1.
			bit := (pos - 1) % 8
			buf[2+(pos-1)/8] |= 1 << bit
		case err != nil:
			return 0, err
		case knownBits >= 32:
			if resp.Len() != 3 || resp.ValidBits != 0 {
				return 0, newPCDError("select", ErrCommunication,
					fmt.Sprintf("SAK frame of %d bytes, %d valid bits", resp.Len(), resp.ValidBits))
			}
			if buf[2] == byte(PICCCascadeTag) {
				copy(uid.bytes[level.uidOffset:level.uidOffset+3], buf[3:6])
			} else {
				copy(uid.bytes[level.uidOffset:level.uidOffset+4], buf[2:6])
			}
			if err := d.checkCRC("select", buf[6:9]); err != nil {
				return 0, err
			}
			return buf[6], nil
		default:
			knownBits = 32
		}
	}
	return 0, newPCDError("anticollision", ErrProtocol,
		fmt.Sprintf("level %d unresolved after %d iterations", level.number, maxSelectIterations))
}

// collisionPosition reads CollReg and returns the 1-based position of the
// first collided bit within the level's 32 bits.
func (d *Device) collisionPosition() (int, error) {
	coll, err := d.readRegister(CollReg)
	if err != nil {
		return 0, err
	}
	if coll&collPosNotValid != 0 {
		return 0, newPCDError("anticollision", ErrCollision, "collision position outside UID bits")
	}
	pos := int(coll & collPosMask)
	if pos == 0 {
		pos = 32
	}
	return pos, nil
}

// mergeResponse copies received bytes into dst. The rxAlign low bits of the
// first byte are the caller's own and are kept.
func mergeResponse(dst, data []byte, rxAlign byte) {
	if len(data) == 0 {
		return
	}
	keep := dst[0]
	n := copy(dst, data)
	if rxAlign != 0 && n > 0 {
		mask := rxAlignMask(rxAlign)
		dst[0] = keep&^mask | data[0]&mask
	}
}

// HaltA puts the selected card into the HALT state. The card answers
// nothing on success; any response is an error.
func (d *Device) HaltA(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.haltLocked()
}

func (d *Device) haltLocked() error {
	cmd, err := d.appendCRC([]byte{byte(PICCHltA), 0x00})
	if err != nil {
		return err
	}
	_, err = d.transceive(cmd, framing{}, fifoSize)
	switch {
	case errors.Is(err, ErrTimeout):
		return nil
	case err != nil:
		return err
	default:
		return newPCDError("HLTA", ErrCommunication, "card answered HLTA")
	}
}
