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

package testing

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// ErrBusGlitch is the transient error injected by JitteryTransport
var ErrBusGlitch = errors.New("simulated bus glitch")

// JitterConfig configures the behavior of JitteryTransport.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay before a transfer
	MaxLatency time.Duration
	// GlitchRate is the probability (0-1) that a transfer fails
	GlitchRate float64
	// GlitchBurst is how many consecutive transfers fail once a glitch hits
	GlitchBurst int
	// Seed makes the sequence reproducible when non-zero
	Seed uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  100 * time.Microsecond,
		GlitchRate:  0.01,
		GlitchBurst: 1,
	}
}

// JitteryTransport wraps a register transport to simulate a noisy SPI bus:
// long jumper wires, a shared bus, or a loose reset line. Transfers are
// delayed by a random latency and occasionally fail.
//
// This is useful for testing that transport failures surface as retryable
// errors and leave the engine usable for the next selection.
type JitteryTransport struct {
	backend   RegisterTransport
	rng       *rand.Rand
	config    JitterConfig
	remaining int
	glitches  int
	mu        syncutil.Mutex
}

// NewJitteryTransport wraps backend with jitter simulation.
func NewJitteryTransport(backend RegisterTransport, config JitterConfig) *JitteryTransport {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	if config.GlitchBurst < 1 {
		config.GlitchBurst = 1
	}
	return &JitteryTransport{
		backend: backend,
		config:  config,
		rng:     rng,
	}
}

// Glitches returns how many transfers failed so far
func (j *JitteryTransport) Glitches() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.glitches
}

// SetGlitchRate changes the failure probability, e.g. to calm the bus down
// for the verification part of a test.
func (j *JitteryTransport) SetGlitchRate(rate float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.config.GlitchRate = rate
	j.remaining = 0
}

func (j *JitteryTransport) disturb() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.config.MaxLatency > 0 {
		if delay := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if j.remaining == 0 && j.config.GlitchRate > 0 && j.rng.Float64() < j.config.GlitchRate {
		j.remaining = j.config.GlitchBurst
	}
	if j.remaining > 0 {
		j.remaining--
		j.glitches++
		return ErrBusGlitch
	}
	return nil
}

// WriteRegister implements the register transport
func (j *JitteryTransport) WriteRegister(addr, value byte) error {
	if err := j.disturb(); err != nil {
		return err
	}
	return j.backend.WriteRegister(addr, value) //nolint:wrapcheck // Pass-through wrapper
}

// WriteRegisters implements the register transport
func (j *JitteryTransport) WriteRegisters(addr byte, values []byte) error {
	if err := j.disturb(); err != nil {
		return err
	}
	return j.backend.WriteRegisters(addr, values) //nolint:wrapcheck // Pass-through wrapper
}

// ReadRegister implements the register transport
func (j *JitteryTransport) ReadRegister(addr byte) (byte, error) {
	if err := j.disturb(); err != nil {
		return 0, err
	}
	return j.backend.ReadRegister(addr) //nolint:wrapcheck // Pass-through wrapper
}

// ReadRegisters implements the register transport
func (j *JitteryTransport) ReadRegisters(addr byte, n int, rxAlign byte) ([]byte, error) {
	if err := j.disturb(); err != nil {
		return nil, err
	}
	return j.backend.ReadRegisters(addr, n, rxAlign) //nolint:wrapcheck // Pass-through wrapper
}

// Reset passes through without jitter; the reset line is not on the bus.
func (j *JitteryTransport) Reset() (bool, error) {
	return j.backend.Reset() //nolint:wrapcheck // Pass-through wrapper
}

// Close implements the register transport
func (j *JitteryTransport) Close() error {
	return j.backend.Close() //nolint:wrapcheck // Pass-through wrapper
}
