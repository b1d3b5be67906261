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

package polling

import (
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
)

// SleepRecoveryConfig configures automatic recovery after host sleep/wake.
// A suspended Pi often cuts power to the reader, which then comes back with
// the antenna off and every register at its reset value.
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before
	// treating as a fatal error. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := pollInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds polling configuration options
type Config struct {
	// DetectRetry controls how often a noisy selection is retried before
	// the poll cycle gives up. Nil uses rfid.DefaultRetryConfig.
	DetectRetry *rfid.RetryConfig
	// WriteRetry controls how often a failed write is retried on the
	// reselected card. Nil uses rfid.DefaultRetryConfig.
	WriteRetry *rfid.RetryConfig
	// PollInterval is the time between two REQA (or presence check) rounds
	PollInterval time.Duration
	// CardRemovalTimeout is how long a card may go unseen before
	// OnCardRemoved fires. It debounces a card wobbling at the field edge.
	CardRemovalTimeout time.Duration
	// MaxConsecutiveErrors is the number of failed poll cycles in a row that
	// trigger device recovery. Default: 3
	MaxConsecutiveErrors int
	// SleepRecovery configures automatic recovery after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         250 * time.Millisecond,
		CardRemovalTimeout:   600 * time.Millisecond,
		MaxConsecutiveErrors: 3,
		SleepRecovery:        DefaultSleepRecoveryConfig(),
	}
}
