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

// Register is an MFRC522 register, identified by its 6-bit index.
// The SPI address bytes are derived from the index: the write address is
// (index<<1)&0x7E and the read address sets the MSB on top of it.
type Register uint8

// Page 0: command and status
const (
	CommandReg    Register = 0x01 // starts and stops command execution
	ComIEnReg     Register = 0x02 // enable and disable interrupt request control bits
	DivIEnReg     Register = 0x03 // enable and disable interrupt request control bits
	ComIrqReg     Register = 0x04 // interrupt request bits
	DivIrqReg     Register = 0x05 // interrupt request bits
	ErrorReg      Register = 0x06 // error bits of the last command executed
	Status1Reg    Register = 0x07 // communication status bits
	Status2Reg    Register = 0x08 // receiver and transmitter status bits
	FIFODataReg   Register = 0x09 // input and output of 64 byte FIFO buffer
	FIFOLevelReg  Register = 0x0A // number of bytes stored in the FIFO buffer
	WaterLevelReg Register = 0x0B // level for FIFO underflow and overflow warning
	ControlReg    Register = 0x0C // miscellaneous control registers
	BitFramingReg Register = 0x0D // adjustments for bit-oriented frames
	CollReg       Register = 0x0E // bit position of the first collision detected
)

// Page 1: command configuration
const (
	ModeReg        Register = 0x11 // general modes for transmitting and receiving
	TxModeReg      Register = 0x12 // transmission data rate and framing
	RxModeReg      Register = 0x13 // reception data rate and framing
	TxControlReg   Register = 0x14 // logical behavior of the antenna driver pins
	TxASKReg       Register = 0x15 // transmission modulation setting
	TxSelReg       Register = 0x16 // selects the internal sources for the antenna driver
	RxSelReg       Register = 0x17 // selects internal receiver settings
	RxThresholdReg Register = 0x18 // thresholds for the bit decoder
	DemodReg       Register = 0x19 // demodulator settings
	MfTxReg        Register = 0x1C // MIFARE transmission parameters
	MfRxReg        Register = 0x1D // MIFARE reception parameters
	SerialSpeedReg Register = 0x1F // speed of the serial UART interface
)

// Page 2: configuration
const (
	CRCResultRegH     Register = 0x21 // MSB of the CRC calculation
	CRCResultRegL     Register = 0x22 // LSB of the CRC calculation
	ModWidthReg       Register = 0x24 // modulation width
	RFCfgReg          Register = 0x26 // receiver gain
	GsNReg            Register = 0x27 // conductance of the n-driver output
	CWGsPReg          Register = 0x28 // conductance of the p-driver output
	ModGsPReg         Register = 0x29 // conductance of the p-driver during modulation
	TModeReg          Register = 0x2A // internal timer settings
	TPrescalerReg     Register = 0x2B // internal timer prescaler, low bits
	TReloadRegH       Register = 0x2C // 16-bit timer reload value, high byte
	TReloadRegL       Register = 0x2D // 16-bit timer reload value, low byte
	TCounterValueRegH Register = 0x2E // 16-bit timer value, high byte
	TCounterValueRegL Register = 0x2F // 16-bit timer value, low byte
)

// Page 3: test registers
const (
	TestSel1Reg     Register = 0x31
	TestSel2Reg     Register = 0x32
	TestPinEnReg    Register = 0x33
	TestPinValueReg Register = 0x34
	TestBusReg      Register = 0x35
	AutoTestReg     Register = 0x36
	VersionReg      Register = 0x37 // software version
	AnalogTestReg   Register = 0x38
	TestDAC1Reg     Register = 0x39
	TestDAC2Reg     Register = 0x3A
	TestADCReg      Register = 0x3B
)

// WriteAddress returns the SPI address byte used to write the register.
func (r Register) WriteAddress() byte {
	return byte(r<<1) & 0x7E
}

// ReadAddress returns the SPI address byte used to read the register.
func (r Register) ReadAddress() byte {
	return r.WriteAddress() | 0x80
}

// PCDCommand is a command executed by the MFRC522 itself.
type PCDCommand uint8

const (
	PCDIdle             PCDCommand = 0x00 // no action, cancels current command
	PCDMem              PCDCommand = 0x01 // stores 25 bytes into the internal buffer
	PCDGenerateRandomID PCDCommand = 0x02 // generates a 10-byte random ID number
	PCDCalcCRC          PCDCommand = 0x03 // activates the CRC coprocessor
	PCDTransmit         PCDCommand = 0x04 // transmits data from the FIFO buffer
	PCDNoCmdChange      PCDCommand = 0x07 // modify CommandReg bits without changing the command
	PCDReceive          PCDCommand = 0x08 // activates the receiver circuits
	PCDTransceive       PCDCommand = 0x0C // transmits FIFO data then activates the receiver
	PCDMFAuthent        PCDCommand = 0x0E // MIFARE standard authentication as a reader
	PCDSoftReset        PCDCommand = 0x0F // resets the MFRC522
)

// PICCCommand is a command sent over the air to the card.
type PICCCommand uint8

const (
	PICCReqA       PICCCommand = 0x26 // REQuest command Type A, 7 bit frame
	PICCWupA       PICCCommand = 0x52 // Wake-UP command Type A, 7 bit frame
	PICCCascadeTag PICCCommand = 0x88 // cascade tag, marks a UID continued on the next level
	PICCSelCL1     PICCCommand = 0x93 // anti collision / select, cascade level 1
	PICCSelCL2     PICCCommand = 0x95 // anti collision / select, cascade level 2
	PICCSelCL3     PICCCommand = 0x97 // anti collision / select, cascade level 3
	PICCHltA       PICCCommand = 0x50 // HaLT command Type A
	PICCMFAuthKeyA PICCCommand = 0x60 // perform authentication with key A
	PICCMFAuthKeyB PICCCommand = 0x61 // perform authentication with key B
	PICCMFRead     PICCCommand = 0x30 // reads one 16 byte block
	PICCMFWrite    PICCCommand = 0xA0 // writes one 16 byte block
)

// MIFAREAck is the 4-bit acknowledge nibble a MIFARE Classic card returns.
const MIFAREAck = 0x0A

// ComIrqReg bits
const (
	ComIrqSet1   = 0x80
	ComIrqTx     = 0x40
	ComIrqRx     = 0x20
	ComIrqIdle   = 0x10
	ComIrqHiAlrt = 0x08
	ComIrqLoAlrt = 0x04
	ComIrqErr    = 0x02
	ComIrqTimer  = 0x01
	ComIrqAll    = 0x7F
)

// DivIrqReg bits
const (
	DivIrqSet2    = 0x80
	DivIrqMfinAct = 0x10
	DivIrqCRC     = 0x04
	DivIrqAll     = 0x7F
)

// ErrorReg bits
const (
	ErrRegWr         = 0x80
	ErrRegTemp       = 0x40
	ErrRegBufferOvfl = 0x10
	ErrRegColl       = 0x08
	ErrRegCRC        = 0x04
	ErrRegParity     = 0x02
	ErrRegProtocol   = 0x01

	// errRegEarly are the bits that invalidate a response before any FIFO
	// byte is read.
	errRegEarly = ErrRegBufferOvfl | ErrRegParity | ErrRegProtocol
)

// Miscellaneous register bits
const (
	commandPowerDown     = 0x10 // CommandReg: soft power-down active
	status2MFCrypto1On   = 0x08 // Status2Reg: Crypto1 unit switched on
	fifoFlushBuffer      = 0x80 // FIFOLevelReg: flush the FIFO
	controlRxLastBits    = 0x07 // ControlReg: valid bits in the last received byte
	bitFramingStartSend  = 0x80 // BitFramingReg: start transmission of data
	collValuesAfterColl  = 0x80 // CollReg: keep received bits after a collision
	collPosNotValid      = 0x20 // CollReg: no collision, or outside CollPos range
	collPosMask          = 0x1F // CollReg: collision position
	txControlAntennaBits = 0x03 // TxControlReg: Tx1RFEn | Tx2RFEn
	rfCfgGainMask        = 0x70 // RFCfgReg: RxGain[2:0]
)

// Timer and modulation setup written by Init.
const (
	tModeAutoRestart = 0x90 // TAuto: start at end of transmission, TAutoRestart: reload on zero
	tPrescalerLow    = 0xA9 // 13.56 MHz / (2*169+1) = 40 kHz tick
	tReloadHigh      = 0x03 // 1000 ticks of 25 us = 25 ms
	tReloadLow       = 0xE8
	txASKForce100    = 0x40 // force 100% ASK modulation
	modeCRCPreset    = 0x3D // CRC coprocessor preset 0x6363
)
