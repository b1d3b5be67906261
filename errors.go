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
	"errors"
	"fmt"
)

// Protocol errors, all recoverable by starting a fresh selection
var (
	// ErrTimeout is returned when the chip signals no completion within the
	// transaction budget, for card transactions and CRC round-trips alike.
	ErrTimeout = errors.New("timeout waiting for chip")
	// ErrCollision is returned when more than one card answered a frame.
	// It is expected during anti-collision and only surfaces elsewhere.
	ErrCollision = errors.New("collision detected")
	// ErrCommunication covers parity, protocol and buffer overflow errors
	// as well as responses with an unexpected shape.
	ErrCommunication = errors.New("communication error")
	// ErrChecksum is returned when a card supplied CRC_A does not match.
	ErrChecksum = errors.New("CRC_A mismatch")
	// ErrProtocol is returned when anti-collision makes no progress.
	ErrProtocol = errors.New("protocol failure")
	// ErrWriteRejected is returned when a card does not ACK a write.
	ErrWriteRejected = errors.New("write rejected by card")
)

// Card and data errors, not retryable
var (
	ErrUnsupportedCard  = errors.New("unsupported card type")
	ErrCapacityExceeded = errors.New("data exceeds card capacity")
	ErrSerialization    = errors.New("object serialization failed")
	// ErrObjectType wraps ErrSerialization: the stored object could be read
	// but does not decode into the requested type.
	ErrObjectType = fmt.Errorf("%w: stored object has a different type", ErrSerialization)
	// ErrUIDExpired is returned when a UID from a superseded selection is used.
	ErrUIDExpired       = errors.New("UID belongs to a previous selection")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrTransportClosed  = errors.New("transport is closed")
)

// PCDError wraps a protocol error with the chip state that produced it.
type PCDError struct {
	Err      error
	Op       string
	Detail   string
	ErrorReg byte
}

func (e *PCDError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.ErrorReg != 0 {
		msg += fmt.Sprintf(" (ErrorReg 0x%02X)", e.ErrorReg)
	}
	return msg
}

func (e *PCDError) Unwrap() error {
	return e.Err
}

func newPCDError(op string, err error, detail string) *PCDError {
	return &PCDError{Op: op, Err: err, Detail: detail}
}

// TransportError wraps register transport failures with additional context
type TransportError struct {
	Err  error  // Underlying error
	Op   string // Operation that failed
	Port string // Port or device identifier
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error with consistent formatting
func NewTransportError(op, port string, err error) *TransportError {
	return &TransportError{Op: op, Port: port, Err: err}
}

// IsRetryable returns true if the operation may succeed after a fresh Select.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrUIDExpired),
		errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrUnsupportedCard),
		errors.Is(err, ErrSerialization):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCollision),
		errors.Is(err, ErrCommunication),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrWriteRejected):
		return true
	}

	var te *TransportError
	return errors.As(err, &te)
}
