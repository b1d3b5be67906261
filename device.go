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

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// Device is an MFRC522 proximity coupling device driven through a register
// Transport.
//
// Thread Safety: every exported method holds the device mutex for the whole
// chip transaction, so calls are serialized. Serialization does not make a
// card session safe to share: a Select from one goroutine expires the UID,
// and with it the Mifare1K authentication cache, held by another. Drive one
// card session from one goroutine at a time.
type Device struct {
	transport Transport
	config    *DeviceConfig
	mu        syncutil.Mutex
	// session counts Select calls; a UID is valid while its session matches.
	session uint64
	closed  bool
}

// New creates a new MFRC522 device with the given transport. The chip is
// not touched until Init is called.
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	device := &Device{
		transport: transport,
		config:    DefaultDeviceConfig(),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Config returns a copy of the active configuration.
func (d *Device) Config() DeviceConfig {
	cfg := *d.config
	if cfg.AntennaGain != nil {
		gain := *cfg.AntennaGain
		cfg.AntennaGain = &gain
	}
	return cfg
}

// Init brings the chip up: reset, 25ms auto-restarting watchdog timer,
// 100% ASK, CRC_A preset 0x6363, antenna on.
func (d *Device) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}

	if err := d.reset(); err != nil {
		return err
	}

	version, err := d.readRegister(VersionReg)
	if err != nil {
		return err
	}
	if version == 0x00 || version == 0xFF {
		return newPCDError("init", ErrCommunication,
			fmt.Sprintf("no chip answering, VersionReg 0x%02X", version))
	}
	debugf("MFRC522 version 0x%02X", version)

	if err := d.writeRegisters(
		regValue{TModeReg, tModeAutoRestart},
		regValue{TPrescalerReg, tPrescalerLow},
		regValue{TReloadRegH, tReloadHigh},
		regValue{TReloadRegL, tReloadLow},
		regValue{TxASKReg, txASKForce100},
		regValue{ModeReg, modeCRCPreset},
	); err != nil {
		return err
	}

	if d.config.AntennaGain != nil {
		if err := d.setAntennaGain(*d.config.AntennaGain); err != nil {
			return err
		}
	}

	return d.setAntennaState(true)
}

// reset hard-resets the chip through the reset line, or soft-resets it when
// it is already powered, then waits for the power-down bit to clear.
func (d *Device) reset() error {
	hard, err := d.transport.Reset()
	if err != nil {
		return NewTransportError("reset", "", err)
	}
	if !hard {
		debugf("chip already powered, issuing soft reset")
		if err := d.writeRegister(CommandReg, byte(PCDSoftReset)); err != nil {
			return err
		}
	}

	retries := max(d.config.ResetRetries, 1)
	for attempt := range retries {
		if attempt > 0 {
			time.Sleep(d.config.ResetPollInterval)
		}
		cmd, err := d.readRegister(CommandReg)
		if err != nil {
			return err
		}
		if cmd&commandPowerDown == 0 {
			// A reset always drops the Crypto1 session.
			return d.clearRegisterBits(Status2Reg, status2MFCrypto1On)
		}
	}
	return newPCDError("reset", ErrTimeout, "power-down bit did not clear")
}

// SetAntennaState switches the antenna drivers on or off. Calling it with
// the current state does not touch the chip.
func (d *Device) SetAntennaState(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.setAntennaState(on)
}

func (d *Device) setAntennaState(on bool) error {
	value, err := d.readRegister(TxControlReg)
	if err != nil {
		return err
	}
	if on {
		if value&txControlAntennaBits == txControlAntennaBits {
			return nil
		}
		return d.writeRegister(TxControlReg, value|txControlAntennaBits)
	}
	if value&txControlAntennaBits == 0 {
		return nil
	}
	return d.writeRegister(TxControlReg, value&^txControlAntennaBits)
}

// AntennaState reports whether both antenna drivers are on.
func (d *Device) AntennaState(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return false, err
	}
	value, err := d.readRegister(TxControlReg)
	if err != nil {
		return false, err
	}
	return value&txControlAntennaBits == txControlAntennaBits, nil
}

// SetAntennaGain sets the receiver gain.
func (d *Device) SetAntennaGain(ctx context.Context, gain AntennaGain) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if byte(gain)&^rfCfgGainMask != 0 {
		return fmt.Errorf("%w: antenna gain 0x%02X", ErrInvalidParameter, byte(gain))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.setAntennaGain(gain)
}

func (d *Device) setAntennaGain(gain AntennaGain) error {
	value, err := d.readRegister(RFCfgReg)
	if err != nil {
		return err
	}
	return d.writeRegister(RFCfgReg, value&^rfCfgGainMask|byte(gain))
}

// AntennaGain returns the current receiver gain.
func (d *Device) AntennaGain(ctx context.Context) (AntennaGain, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	value, err := d.readRegister(RFCfgReg)
	if err != nil {
		return 0, err
	}
	return AntennaGain(value & rfCfgGainMask), nil
}

// Version returns the chip's VersionReg: 0x91 for v1.0, 0x92 for v2.0,
// 0x88 for the FM17522 clone.
func (d *Device) Version(ctx context.Context) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	return d.readRegister(VersionReg)
}

// Close switches the antenna off and releases the transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.session++

	if err := d.setAntennaState(false); err != nil {
		debugf("antenna off on close failed: %v", err)
	}
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

func (d *Device) checkOpen() error {
	if d.closed {
		return ErrTransportClosed
	}
	return nil
}

func (d *Device) writeRegister(reg Register, value byte) error {
	if err := d.transport.WriteRegister(reg.WriteAddress(), value); err != nil {
		return NewTransportError("write register", fmt.Sprintf("0x%02X", byte(reg)), err)
	}
	return nil
}

// regValue is one register write in a configuration sequence.
type regValue struct {
	reg   Register
	value byte
}

func (d *Device) writeRegisters(seq ...regValue) error {
	for _, rv := range seq {
		if err := d.writeRegister(rv.reg, rv.value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) readRegister(reg Register) (byte, error) {
	value, err := d.transport.ReadRegister(reg.ReadAddress())
	if err != nil {
		return 0, NewTransportError("read register", fmt.Sprintf("0x%02X", byte(reg)), err)
	}
	return value, nil
}

func (d *Device) writeFIFO(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := d.transport.WriteRegisters(FIFODataReg.WriteAddress(), data); err != nil {
		return NewTransportError("write FIFO", "", err)
	}
	return nil
}

func (d *Device) readFIFO(n int, rxAlign byte) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	data, err := d.transport.ReadRegisters(FIFODataReg.ReadAddress(), n, rxAlign)
	if err != nil {
		return nil, NewTransportError("read FIFO", "", err)
	}
	if len(data) != n {
		return nil, newPCDError("read FIFO", ErrCommunication,
			fmt.Sprintf("transport returned %d of %d bytes", len(data), n))
	}
	return data, nil
}

func (d *Device) setRegisterBits(reg Register, mask byte) error {
	value, err := d.readRegister(reg)
	if err != nil {
		return err
	}
	return d.writeRegister(reg, value|mask)
}

func (d *Device) clearRegisterBits(reg Register, mask byte) error {
	value, err := d.readRegister(reg)
	if err != nil {
		return err
	}
	return d.writeRegister(reg, value&^mask)
}
