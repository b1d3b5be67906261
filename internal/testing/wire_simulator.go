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

// Package testing provides test utilities including a register-level MFRC522
// simulator.
//
// The VirtualMFRC522 type implements the register transport consumed by the
// rfid package: every access is a read or write of one chip register by its
// SPI address byte. Commands written to CommandReg run against the FIFO and
// the VirtualCard PICCs placed in the field, as described in the MFRC522
// datasheet.
//
// Protocol Reference: MFRC522 datasheet rev 3.9, section 9 "MFRC522
// registers" and section 10 "MFRC522 command set"; ISO/IEC 14443-3 section 6
// for the PICC side.
package testing

import (
	"errors"
	"fmt"

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/frame"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// MFRC522 register indexes (datasheet §9.2)
const (
	regCommand    = 0x01
	regComIEn     = 0x02
	regComIrq     = 0x04
	regDivIrq     = 0x05
	regError      = 0x06
	regStatus2    = 0x08
	regFIFOData   = 0x09
	regFIFOLevel  = 0x0A
	regControl    = 0x0C
	regBitFraming = 0x0D
	regColl       = 0x0E
	regMode       = 0x11
	regTxControl  = 0x14
	regCRCResultH = 0x21
	regCRCResultL = 0x22
	regRFCfg      = 0x26
	regVersion    = 0x37

	registerCount = 0x40
)

// MFRC522 commands (datasheet §10.3)
const (
	CmdIdle       = 0x00
	CmdCalcCRC    = 0x03
	CmdTransceive = 0x0C
	CmdMFAuthent  = 0x0E
	CmdSoftReset  = 0x0F
)

// PICC commands (ISO/IEC 14443-3 §6.3, MIFARE Classic datasheet §10)
const (
	PICCReqA    = 0x26
	PICCWupA    = 0x52
	PICCSelCL1  = 0x93
	PICCSelCL2  = 0x95
	PICCSelCL3  = 0x97
	PICCHltA    = 0x50
	PICCMFRead  = 0x30
	PICCMFWrite = 0xA0
)

// Register bits
const (
	irqTx              = 0x40
	irqRx              = 0x20
	irqIdle            = 0x10
	irqTimer           = 0x01
	divIrqCRC          = 0x04
	errColl            = 0x08
	status2Crypto1On   = 0x08
	commandPowerDown   = 0x10
	fifoFlush          = 0x80
	bitFramingStart    = 0x80
	collPosNotValid    = 0x20
	collValuesAfter    = 0x80
	fifoSize           = 64
	defaultChipVersion = 0x92
)

// ErrSimulatorClosed is returned by register access after Close
var ErrSimulatorClosed = errors.New("simulator closed")

// VirtualMFRC522 simulates an MFRC522 at the register level.
type VirtualMFRC522 struct {
	injectedErr   error
	commands      map[byte]int
	piccCommands  map[byte]int
	forcedAck     *byte
	fifo          []byte
	cards         []*VirtualCard
	registerIO    int
	authCount     int
	stuckCollPos  int
	failAfter     int
	mu            syncutil.Mutex
	regs          [registerCount]byte
	version       byte
	powered       bool
	closed        bool
	corruptSAK    bool
	powerDownHang bool
	crcHang       bool
}

// piccResult is what the field returned for one transmitted frame.
type piccResult struct {
	data      []byte
	validBits byte
	collPos   int // 1-based level bit, 0 without collision, -1 outside the UID
	silent    bool
}

var silence = piccResult{silent: true}

// NewVirtualMFRC522 creates an unpowered chip with no card in the field.
func NewVirtualMFRC522() *VirtualMFRC522 {
	v := &VirtualMFRC522{
		version:      defaultChipVersion,
		commands:     make(map[byte]int),
		piccCommands: make(map[byte]int),
		failAfter:    -1,
	}
	v.resetRegisters()
	return v
}

// AddCard places a card in the field
func (v *VirtualMFRC522) AddCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = append(v.cards, card)
}

// SetCard replaces every card in the field with card
func (v *VirtualMFRC522) SetCard(card *VirtualCard) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = []*VirtualCard{card}
}

// RemoveAllCards empties the field
func (v *VirtualMFRC522) RemoveAllCards() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cards = nil
}

// SetVersion sets the value read from VersionReg
func (v *VirtualMFRC522) SetVersion(version byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version = version
	v.regs[regVersion] = version
}

// SetPowered marks the chip as already powered, so the next Reset reports
// that a soft reset is needed.
func (v *VirtualMFRC522) SetPowered(powered bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.powered = powered
}

// ForceAck makes every MIFARE ACK carry nibble instead of 0xA.
func (v *VirtualMFRC522) ForceAck(nibble byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := nibble & 0x0F
	v.forcedAck = &n
}

// CorruptSAKCRC flips the CRC_A of SELECT answers.
func (v *VirtualMFRC522) CorruptSAKCRC(corrupt bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptSAK = corrupt
}

// StickCollisionPosition makes every anti-collision frame report a
// collision at pos (1-32). Zero restores normal behavior.
func (v *VirtualMFRC522) StickCollisionPosition(pos int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stuckCollPos = pos
}

// HangPowerDown keeps the power-down bit of CommandReg set after reset.
func (v *VirtualMFRC522) HangPowerDown(hang bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.powerDownHang = hang
}

// HangCRC keeps the CRC coprocessor from ever signalling completion.
func (v *VirtualMFRC522) HangCRC(hang bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.crcHang = hang
}

// InjectTransportError makes register access fail with err after n more
// successful accesses.
func (v *VirtualMFRC522) InjectTransportError(err error, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.injectedErr = err
	v.failAfter = n
}

// ClearFaults removes every injected fault
func (v *VirtualMFRC522) ClearFaults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.forcedAck = nil
	v.corruptSAK = false
	v.stuckCollPos = 0
	v.powerDownHang = false
	v.crcHang = false
	v.injectedErr = nil
	v.failAfter = -1
}

// IOCount returns the number of register transfers since the last
// ResetCounters.
func (v *VirtualMFRC522) IOCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registerIO
}

// CommandCount returns how often a chip command was started.
func (v *VirtualMFRC522) CommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commands[cmd]
}

// PICCCommandCount returns how many transceived frames began with cmd.
func (v *VirtualMFRC522) PICCCommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.piccCommands[cmd]
}

// AuthCount returns the number of MFAuthent commands executed.
func (v *VirtualMFRC522) AuthCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.authCount
}

// ResetCounters zeroes all counters
func (v *VirtualMFRC522) ResetCounters() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.registerIO = 0
	v.authCount = 0
	v.commands = make(map[byte]int)
	v.piccCommands = make(map[byte]int)
}

// Register returns a register by index without counting as I/O.
func (v *VirtualMFRC522) Register(index byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[index&0x3F]
}

// WriteRegister implements the register transport
func (v *VirtualMFRC522) WriteRegister(addr, value byte) error {
	return v.WriteRegisters(addr, []byte{value})
}

// WriteRegisters implements the register transport. Every value is stored
// to the same register, which is how the FIFO is filled.
func (v *VirtualMFRC522) WriteRegisters(addr byte, values []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.access(); err != nil {
		return err
	}
	if addr&0x81 != 0 {
		return fmt.Errorf("invalid write address 0x%02X", addr)
	}
	for _, value := range values {
		v.writeReg(addr>>1, value)
	}
	return nil
}

// ReadRegister implements the register transport
func (v *VirtualMFRC522) ReadRegister(addr byte) (byte, error) {
	data, err := v.ReadRegisters(addr, 1, 0)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadRegisters implements the register transport
func (v *VirtualMFRC522) ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.access(); err != nil {
		return nil, err
	}
	if addr&0x81 != 0x80 {
		return nil, fmt.Errorf("invalid read address 0x%02X", addr)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = v.readReg((addr & 0x7E) >> 1)
	}
	if n > 0 && rxAlign&0x07 != 0 {
		out[0] &= byte(0xFF << (rxAlign & 0x07))
	}
	return out, nil
}

// Reset implements the register transport. The first call powers the chip
// up through the reset line; later calls report it is already powered.
func (v *VirtualMFRC522) Reset() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.access(); err != nil {
		return false, err
	}
	if v.powered {
		return false, nil
	}
	v.powered = true
	v.resetRegisters()
	return true, nil
}

// Close implements the register transport
func (v *VirtualMFRC522) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

func (v *VirtualMFRC522) access() error {
	if v.closed {
		return ErrSimulatorClosed
	}
	if v.failAfter == 0 && v.injectedErr != nil {
		return v.injectedErr
	}
	if v.failAfter > 0 {
		v.failAfter--
	}
	v.registerIO++
	return nil
}

// resetRegisters loads the reset values of datasheet §9.3.
func (v *VirtualMFRC522) resetRegisters() {
	v.regs = [registerCount]byte{}
	v.regs[regCommand] = 0x20
	v.regs[regComIEn] = 0x80
	v.regs[regComIrq] = 0x14
	v.regs[regControl] = 0x10
	v.regs[regColl] = collValuesAfter | collPosNotValid
	v.regs[regMode] = 0x3F
	v.regs[regTxControl] = 0x80
	v.regs[regRFCfg] = 0x48
	v.regs[regVersion] = v.version
	v.fifo = nil
}

func (v *VirtualMFRC522) writeReg(reg, value byte) {
	switch reg {
	case regCommand:
		v.regs[regCommand] = value & 0x3F
		v.execute(value & 0x0F)
	case regComIrq, regDivIrq:
		if value&0x80 != 0 {
			v.regs[reg] |= value & 0x7F
		} else {
			v.regs[reg] &^= value & 0x7F
		}
	case regFIFOLevel:
		if value&fifoFlush != 0 {
			v.fifo = nil
		}
	case regFIFOData:
		if len(v.fifo) < fifoSize {
			v.fifo = append(v.fifo, value)
		}
	case regBitFraming:
		v.regs[regBitFraming] = value
		if value&bitFramingStart != 0 && v.regs[regCommand]&0x0F == CmdTransceive {
			v.transceive()
		}
	case regStatus2:
		v.regs[regStatus2] = v.regs[regStatus2]&(value|^byte(status2Crypto1On))&0x0F | value&0xC0
	case regColl:
		v.regs[regColl] = v.regs[regColl]&^collValuesAfter | value&collValuesAfter
	case regError, regVersion, regCRCResultH, regCRCResultL:
		// read only
	default:
		v.regs[reg] = value
	}
}

func (v *VirtualMFRC522) readReg(reg byte) byte {
	switch reg {
	case regFIFOData:
		if len(v.fifo) == 0 {
			return 0
		}
		b := v.fifo[0]
		v.fifo = v.fifo[1:]
		return b
	case regFIFOLevel:
		return byte(len(v.fifo))
	case regCommand:
		if v.powerDownHang {
			return v.regs[regCommand] | commandPowerDown
		}
		return v.regs[regCommand]
	default:
		return v.regs[reg]
	}
}

func (v *VirtualMFRC522) execute(cmd byte) {
	switch cmd {
	case CmdIdle:
		return
	case CmdSoftReset:
		v.commands[cmd]++
		v.resetRegisters()
	case CmdCalcCRC:
		v.commands[cmd]++
		if v.crcHang {
			return
		}
		crc := frame.CRCA(v.fifo)
		v.regs[regCRCResultL] = crc[0]
		v.regs[regCRCResultH] = crc[1]
		v.regs[regDivIrq] |= divIrqCRC
	case CmdMFAuthent:
		v.commands[cmd]++
		v.mfAuthent()
	case CmdTransceive:
		// waits for StartSend
	default:
		v.commands[cmd]++
	}
}

// mfAuthent runs the MIFARE three pass authentication with the 12-byte
// FIFO content: auth command, block, key, UID.
func (v *VirtualMFRC522) mfAuthent() {
	data := v.fifo
	v.fifo = nil
	v.regs[regError] = 0
	v.authCount++
	v.regs[regCommand] &^= 0x0F

	card := v.activeCard()
	if len(data) != 12 || card == nil || !card.authenticate(data[0], int(data[1]), data[2:8], data[8:12]) {
		v.regs[regStatus2] &^= status2Crypto1On
		v.regs[regComIrq] |= irqTimer
		return
	}
	v.regs[regStatus2] |= status2Crypto1On
	v.regs[regComIrq] |= irqIdle
}

func (v *VirtualMFRC522) transceive() {
	v.commands[CmdTransceive]++
	data := v.fifo
	v.fifo = nil
	txLastBits := v.regs[regBitFraming] & 0x07
	v.regs[regError] = 0
	v.regs[regControl] &^= 0x07
	v.regs[regColl] = v.regs[regColl]&collValuesAfter | collPosNotValid

	result := v.exchange(data, txLastBits)
	if result.silent {
		v.regs[regComIrq] |= irqTx | irqTimer
		return
	}
	v.fifo = result.data
	v.regs[regControl] |= result.validBits & 0x07
	if result.collPos != 0 {
		v.regs[regError] |= errColl
		if result.collPos > 0 {
			v.regs[regColl] = v.regs[regColl]&collValuesAfter | byte(result.collPos&0x1F)
		}
	}
	v.regs[regComIrq] |= irqTx | irqRx
}

func (v *VirtualMFRC522) exchange(data []byte, txLastBits byte) piccResult {
	if len(data) == 0 {
		return silence
	}
	if card := v.activeCard(); card != nil && card.pendingWrite != noPendingWrite {
		return v.writeData(card, data)
	}
	v.piccCommands[data[0]]++
	if len(data) == 1 && txLastBits == 7 {
		switch data[0] {
		case PICCReqA:
			return v.request(false)
		case PICCWupA:
			return v.request(true)
		}
		return silence
	}

	switch data[0] {
	case PICCSelCL1:
		return v.anticollision(0, data)
	case PICCSelCL2:
		return v.anticollision(1, data)
	case PICCSelCL3:
		return v.anticollision(2, data)
	case PICCHltA:
		return v.halt(data)
	case PICCMFRead:
		return v.read(data)
	case PICCMFWrite:
		return v.write(data)
	default:
		return silence
	}
}

func (v *VirtualMFRC522) request(wakeUp bool) piccResult {
	var responders []*VirtualCard
	for _, card := range v.cards {
		if card.answersRequest(wakeUp) {
			card.reset()
			card.state = cardReady
			responders = append(responders, card)
		}
	}
	if len(responders) == 0 {
		return silence
	}
	result := piccResult{data: responders[0].atqa()}
	for _, card := range responders[1:] {
		if pos := firstDifferingBit(result.data, card.atqa(), 0); pos >= 0 {
			result.collPos = -1
			break
		}
	}
	return result
}

// anticollision answers an ANTICOLLISION or SELECT frame on cascade level n.
func (v *VirtualMFRC522) anticollision(n int, data []byte) piccResult {
	if len(data) < 2 {
		return silence
	}
	var candidates []*VirtualCard
	for _, card := range v.cards {
		if card.Present && card.state == cardReady && card.level == n {
			candidates = append(candidates, card)
		}
	}

	nvb := data[1]
	if nvb == 0x70 {
		return v.selectLevel(n, data, candidates)
	}

	known := (int(nvb>>4)-2)*8 + int(nvb&0x07)
	if known < 0 || known > 32 || len(data) < 2+(known+7)/8 {
		return silence
	}

	var streams [][5]byte
	for _, card := range candidates {
		lb := card.levelBytes(n)
		if prefixMatches(lb[:], data[2:], known) {
			streams = append(streams, lb)
		}
	}
	if len(streams) == 0 {
		return silence
	}

	collBit := -1
	for _, s := range streams[1:] {
		if pos := firstDifferingBit(streams[0][:], s[:], known); pos >= 0 && (collBit < 0 || pos < collBit) {
			collBit = pos
		}
	}
	if v.stuckCollPos > 0 {
		collBit = v.stuckCollPos - 1
	}

	first := known / 8
	resp := append([]byte(nil), streams[0][first:]...)
	resp[0] &= byte(0xFF << (known % 8))
	if collBit < 0 {
		return piccResult{data: resp}
	}

	// Bits from the collision on are undefined; they read as zero.
	last := collBit/8 - first
	if last < 0 {
		last = 0
	}
	resp = resp[:last+1]
	if collBit >= known {
		resp[last] &^= byte(0xFF << (collBit % 8))
	}
	result := piccResult{data: resp, collPos: collBit + 1}
	if collBit >= 32 {
		result.collPos = -1
	}
	return result
}

func (v *VirtualMFRC522) selectLevel(n int, data []byte, candidates []*VirtualCard) piccResult {
	if len(data) != 9 || !checkCRC(data) {
		return silence
	}
	var selected []*VirtualCard
	for _, card := range candidates {
		lb := card.levelBytes(n)
		if bytesEqual(lb[:], data[2:7]) {
			selected = append(selected, card)
		} else {
			card.state = cardIdle
		}
	}
	if len(selected) == 0 {
		return silence
	}
	for _, card := range selected {
		if n < card.levels()-1 {
			card.level = n + 1
		} else {
			card.state = cardActive
		}
	}
	resp := frame.AppendCRCA([]byte{selected[0].levelSAK(n)})
	if v.corruptSAK {
		resp[2] ^= 0xFF
	}
	return piccResult{data: resp}
}

func (v *VirtualMFRC522) halt(data []byte) piccResult {
	if len(data) != 4 || data[1] != 0x00 || !checkCRC(data) {
		return silence
	}
	if card := v.activeCard(); card != nil {
		card.reset()
		card.state = cardHalt
	}
	return silence
}

func (v *VirtualMFRC522) read(data []byte) piccResult {
	card := v.activeCard()
	if card == nil || len(data) != 4 || !checkCRC(data) {
		return silence
	}
	if v.regs[regStatus2]&status2Crypto1On == 0 {
		return v.nibble(mifareNak)
	}
	block, err := card.readBlock(int(data[1]))
	if err != nil {
		return v.nibble(mifareNak)
	}
	return piccResult{data: frame.AppendCRCA(block)}
}

func (v *VirtualMFRC522) write(data []byte) piccResult {
	card := v.activeCard()
	if card == nil || len(data) != 4 || !checkCRC(data) {
		return silence
	}
	if v.regs[regStatus2]&status2Crypto1On == 0 {
		return v.nibble(mifareNak)
	}
	if err := card.checkWritable(int(data[1])); err != nil {
		return v.nibble(mifareNak)
	}
	resp := v.ack()
	if resp.data[0] == mifareAck {
		card.pendingWrite = int(data[1])
	}
	return resp
}

func (v *VirtualMFRC522) writeData(card *VirtualCard, data []byte) piccResult {
	block := card.pendingWrite
	card.pendingWrite = noPendingWrite
	if len(data) != blockSize+2 || !checkCRC(data) {
		return v.nibble(mifareNak)
	}
	copy(card.Memory[block][:], data[:blockSize])
	return v.ack()
}

func (v *VirtualMFRC522) ack() piccResult {
	if v.forcedAck != nil {
		return v.nibble(*v.forcedAck)
	}
	return v.nibble(mifareAck)
}

func (*VirtualMFRC522) nibble(value byte) piccResult {
	return piccResult{data: []byte{value & 0x0F}, validBits: 4}
}

func (v *VirtualMFRC522) activeCard() *VirtualCard {
	for _, card := range v.cards {
		if card.Present && card.state == cardActive {
			return card
		}
	}
	return nil
}

func checkCRC(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	crc := frame.CRCA(data[:len(data)-2])
	return crc[0] == data[len(data)-2] && crc[1] == data[len(data)-1]
}

func bitAt(data []byte, i int) byte {
	return (data[i/8] >> (i % 8)) & 1
}

// prefixMatches reports whether the first n bits (LSB first) are equal.
func prefixMatches(a, b []byte, n int) bool {
	for i := range n {
		if bitAt(a, i) != bitAt(b, i) {
			return false
		}
	}
	return true
}

// firstDifferingBit returns the first bit index from start on where a and b
// differ, or -1.
func firstDifferingBit(a, b []byte, start int) int {
	n := min(len(a), len(b)) * 8
	for i := start; i < n; i++ {
		if bitAt(a, i) != bitAt(b, i) {
			return i
		}
	}
	return -1
}
