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
	"time"
)

// fifoSize is the MFRC522 FIFO depth.
const fifoSize = 64

// PICCResponse is a frame received from a card. Card frames are not always
// byte aligned: ValidBits is the number of valid bits in the last byte, 0
// meaning the whole byte is valid.
type PICCResponse struct {
	Data      []byte
	ValidBits byte
}

// Len returns the number of received bytes.
func (r *PICCResponse) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// framing holds the BitFramingReg settings of one transaction.
type framing struct {
	// txLastBits is the number of bits of the last sent byte to transmit,
	// 0 for the whole byte.
	txLastBits byte
	// rxAlign is the bit position where the first received bit is stored.
	rxAlign byte
}

func (f framing) bitFraming() byte {
	return (f.rxAlign&0x07)<<4 | f.txLastBits&0x07
}

// transceive sends data to the card and reads up to maxLen response bytes.
func (d *Device) transceive(data []byte, f framing, maxLen int) (*PICCResponse, error) {
	return d.communicate(PCDTransceive, ComIrqRx|ComIrqIdle, data, f, maxLen)
}

// communicate runs a command that talks to the card: load the FIFO, start
// the command, and poll ComIrqReg until waitIRQ or the chip timer fires.
//
// Parity, protocol and buffer overflow errors are checked before any FIFO
// byte is read. A collision is checked last and returned together with the
// received bytes, which anti-collision needs. With maxLen 0 no response
// bytes are read.
func (d *Device) communicate(cmd PCDCommand, waitIRQ byte, data []byte, f framing, maxLen int) (*PICCResponse, error) {
	op := commandName(cmd)
	if len(data) > fifoSize {
		return nil, fmt.Errorf("%w: %d byte frame exceeds FIFO", ErrInvalidParameter, len(data))
	}

	if err := d.writeRegisters(
		regValue{CommandReg, byte(PCDIdle)},
		regValue{ComIrqReg, ComIrqAll},
		regValue{FIFOLevelReg, fifoFlushBuffer},
	); err != nil {
		return nil, err
	}
	if err := d.writeFIFO(data); err != nil {
		return nil, err
	}
	if err := d.writeRegisters(
		regValue{BitFramingReg, f.bitFraming()},
		regValue{CommandReg, byte(cmd)},
	); err != nil {
		return nil, err
	}

	waitErr := d.startAndWait(cmd, waitIRQ)
	if waitErr != nil {
		return nil, newPCDError(op, waitErr, "")
	}

	errReg, err := d.readRegister(ErrorReg)
	if err != nil {
		return nil, err
	}
	if errReg&errRegEarly != 0 {
		return nil, &PCDError{Op: op, Err: ErrCommunication, ErrorReg: errReg}
	}

	resp := &PICCResponse{}
	if maxLen > 0 {
		level, err := d.readRegister(FIFOLevelReg)
		if err != nil {
			return nil, err
		}
		n := int(level & 0x7F)
		if n > maxLen {
			return nil, newPCDError(op, ErrCommunication,
				fmt.Sprintf("response of %d bytes exceeds %d", n, maxLen))
		}
		if resp.Data, err = d.readFIFO(n, f.rxAlign); err != nil {
			return nil, err
		}
		control, err := d.readRegister(ControlReg)
		if err != nil {
			return nil, err
		}
		resp.ValidBits = control & controlRxLastBits
	}

	if errReg&ErrRegColl != 0 {
		return resp, &PCDError{Op: op, Err: ErrCollision, ErrorReg: errReg}
	}
	return resp, nil
}

// startAndWait asserts StartSend for Transceive, polls for completion and
// always clears StartSend again.
func (d *Device) startAndWait(cmd PCDCommand, waitIRQ byte) error {
	if cmd == PCDTransceive {
		if err := d.setRegisterBits(BitFramingReg, bitFramingStartSend); err != nil {
			return err
		}
	}

	waitErr := d.waitForIRQ(waitIRQ)

	if cmd == PCDTransceive {
		if err := d.clearRegisterBits(BitFramingReg, bitFramingStartSend); err != nil && waitErr == nil {
			return err
		}
	}
	return waitErr
}

// waitForIRQ polls ComIrqReg until one of the waitIRQ bits is set. The
// chip's 25ms timer IRQ ends the wait early; PICCTimeout bounds it overall.
func (d *Device) waitForIRQ(waitIRQ byte) error {
	deadline := time.Now().Add(d.config.PICCTimeout)
	for {
		irq, err := d.readRegister(ComIrqReg)
		if err != nil {
			return err
		}
		if irq&waitIRQ != 0 {
			return nil
		}
		if irq&ComIrqTimer != 0 {
			return ErrTimeout
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
}

// CalculateCRC computes the CRC_A of data on the chip's CRC coprocessor.
// The result is little endian, as it is appended to frames.
func (d *Device) CalculateCRC(ctx context.Context, data []byte) ([2]byte, error) {
	if err := ctx.Err(); err != nil {
		return [2]byte{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return [2]byte{}, err
	}
	return d.calculateCRC(data)
}

func (d *Device) calculateCRC(data []byte) ([2]byte, error) {
	var crc [2]byte
	if len(data) > fifoSize {
		return crc, fmt.Errorf("%w: %d bytes exceed FIFO", ErrInvalidParameter, len(data))
	}

	if err := d.writeRegisters(
		regValue{CommandReg, byte(PCDIdle)},
		regValue{DivIrqReg, DivIrqCRC},
		regValue{FIFOLevelReg, fifoFlushBuffer},
	); err != nil {
		return crc, err
	}
	if err := d.writeFIFO(data); err != nil {
		return crc, err
	}
	if err := d.writeRegister(CommandReg, byte(PCDCalcCRC)); err != nil {
		return crc, err
	}

	deadline := time.Now().Add(d.config.CRCTimeout)
	for {
		irq, err := d.readRegister(DivIrqReg)
		if err != nil {
			return crc, err
		}
		if irq&DivIrqCRC != 0 {
			break
		}
		if time.Now().After(deadline) {
			return crc, newPCDError("CalcCRC", ErrTimeout, "coprocessor did not finish")
		}
	}

	if err := d.writeRegister(CommandReg, byte(PCDIdle)); err != nil {
		return crc, err
	}
	low, err := d.readRegister(CRCResultRegL)
	if err != nil {
		return crc, err
	}
	high, err := d.readRegister(CRCResultRegH)
	if err != nil {
		return crc, err
	}
	crc[0], crc[1] = low, high
	return crc, nil
}

// appendCRC appends the chip-computed CRC_A of data to data.
func (d *Device) appendCRC(data []byte) ([]byte, error) {
	crc, err := d.calculateCRC(data)
	if err != nil {
		return nil, err
	}
	return append(data, crc[0], crc[1]), nil
}

// checkCRC verifies that the last two bytes of frame are the CRC_A of the rest.
func (d *Device) checkCRC(op string, frame []byte) error {
	if len(frame) < 3 {
		return newPCDError(op, ErrCommunication, "frame too short for CRC_A")
	}
	payload := frame[:len(frame)-2]
	crc, err := d.calculateCRC(payload)
	if err != nil {
		return err
	}
	if crc[0] != frame[len(frame)-2] || crc[1] != frame[len(frame)-1] {
		return newPCDError(op, ErrChecksum,
			fmt.Sprintf("got %02X%02X, computed %02X%02X",
				frame[len(frame)-2], frame[len(frame)-1], crc[0], crc[1]))
	}
	return nil
}

func commandName(cmd PCDCommand) string {
	switch cmd {
	case PCDTransceive:
		return "Transceive"
	case PCDMFAuthent:
		return "MFAuthent"
	case PCDCalcCRC:
		return "CalcCRC"
	case PCDTransmit:
		return "Transmit"
	case PCDReceive:
		return "Receive"
	default:
		return fmt.Sprintf("command 0x%02X", byte(cmd))
	}
}
