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
	"fmt"
	"time"
)

// AntennaGain is the receiver gain stored in RFCfgReg bits 6..4.
type AntennaGain byte

const (
	AntennaGain18dB AntennaGain = 0x00 << 4
	AntennaGain23dB AntennaGain = 0x01 << 4
	AntennaGain33dB AntennaGain = 0x04 << 4
	AntennaGain38dB AntennaGain = 0x05 << 4 // chip default
	AntennaGain43dB AntennaGain = 0x06 << 4
	AntennaGain48dB AntennaGain = 0x07 << 4
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// PICCTimeout bounds a card transaction, on top of the chip's own
	// 25ms watchdog timer.
	PICCTimeout time.Duration
	// CRCTimeout bounds a CRC coprocessor round-trip.
	CRCTimeout time.Duration
	// ResetPollInterval is the delay between power-down checks after reset.
	ResetPollInterval time.Duration
	// ResetRetries is how many times the power-down bit is checked.
	ResetRetries int
	// AntennaGain is applied by Init when set; nil keeps the chip default.
	AntennaGain *AntennaGain
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		PICCTimeout:       250 * time.Millisecond,
		CRCTimeout:        100 * time.Millisecond,
		ResetPollInterval: 10 * time.Millisecond,
		ResetRetries:      3,
	}
}

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithConfig replaces the whole device configuration.
func WithConfig(config *DeviceConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return fmt.Errorf("%w: nil device config", ErrInvalidParameter)
		}
		if config.PICCTimeout <= 0 {
			return fmt.Errorf("%w: PICC timeout must be positive", ErrInvalidParameter)
		}
		if config.CRCTimeout <= 0 {
			return fmt.Errorf("%w: CRC timeout must be positive", ErrInvalidParameter)
		}
		cfg := *config
		if config.AntennaGain != nil {
			if err := checkAntennaGain(*config.AntennaGain); err != nil {
				return err
			}
			gain := *config.AntennaGain
			cfg.AntennaGain = &gain
		}
		d.config = &cfg
		return nil
	}
}

// WithPICCTimeout sets the software budget for card transactions
func WithPICCTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: PICC timeout must be positive", ErrInvalidParameter)
		}
		d.config.PICCTimeout = timeout
		return nil
	}
}

// WithCRCTimeout sets the budget for CRC coprocessor round-trips
func WithCRCTimeout(timeout time.Duration) Option {
	return func(d *Device) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: CRC timeout must be positive", ErrInvalidParameter)
		}
		d.config.CRCTimeout = timeout
		return nil
	}
}

// WithAntennaGain sets the receiver gain applied during Init
func WithAntennaGain(gain AntennaGain) Option {
	return func(d *Device) error {
		if err := checkAntennaGain(gain); err != nil {
			return err
		}
		d.config.AntennaGain = &gain
		return nil
	}
}

func checkAntennaGain(gain AntennaGain) error {
	if byte(gain)&^rfCfgGainMask != 0 {
		return fmt.Errorf("%w: antenna gain 0x%02X", ErrInvalidParameter, byte(gain))
	}
	return nil
}
