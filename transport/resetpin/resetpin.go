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

// Package resetpin drives the MFRC522 NRSTPD line through periph.io GPIO.
package resetpin

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// StartupDelay covers the oscillator start-up time after NRSTPD goes high.
const StartupDelay = 50 * time.Millisecond

// Line is the part of gpio.PinIO the reset line needs.
type Line interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	Out(l gpio.Level) error
}

// Pin is the reset line of one MFRC522. A low NRSTPD holds the chip in hard
// power-down; driving it high powers the chip up with registers at reset
// values.
type Pin struct {
	line   Line
	name   string
	settle time.Duration
	mu     sync.Mutex
	closed bool
}

// Open looks up a GPIO by name (e.g. "GPIO25") after initializing the
// periph host drivers.
func Open(name string) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("reset pin %s not found", name)
	}
	return New(name, p), nil
}

// New wraps an already opened line.
func New(name string, line Line) *Pin {
	return &Pin{line: line, name: name, settle: StartupDelay}
}

// SetStartupDelay overrides how long Reset waits after raising the line.
func (p *Pin) SetStartupDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle = d
}

// String returns the pin name.
func (p *Pin) String() string {
	return p.name
}

// Reset releases the chip from hard power-down. It returns true if the
// line was low and has been driven high, and false if the chip was
// already powered and needs a soft reset instead.
func (p *Pin) Reset() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, fmt.Errorf("reset pin %s is closed", p.name)
	}

	if err := p.line.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return false, fmt.Errorf("reset pin %s: input mode: %w", p.name, err)
	}
	if p.line.Read() == gpio.High {
		return false, nil
	}

	if err := p.line.Out(gpio.High); err != nil {
		return false, fmt.Errorf("reset pin %s: drive high: %w", p.name, err)
	}
	time.Sleep(p.settle)
	return true, nil
}

// Close drives the line low, putting the chip into hard power-down.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.line.Out(gpio.Low); err != nil {
		return fmt.Errorf("reset pin %s: drive low: %w", p.name, err)
	}
	return nil
}
