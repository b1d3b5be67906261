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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: ErrTimeout, want: true},
		{name: "collision", err: ErrCollision, want: true},
		{name: "communication", err: ErrCommunication, want: true},
		{name: "checksum", err: ErrChecksum, want: true},
		{name: "protocol", err: ErrProtocol, want: true},
		{name: "write rejected", err: ErrWriteRejected, want: true},
		{name: "wrapped PCD error", err: newPCDError("select", ErrChecksum, "bad CRC"), want: true},
		{name: "transport error", err: NewTransportError("read register", "0x37", errors.New("EIO")), want: true},
		{name: "capacity", err: ErrCapacityExceeded, want: false},
		{name: "unsupported", err: ErrUnsupportedCard, want: false},
		{name: "serialization", err: ErrSerialization, want: false},
		{name: "object type", err: ErrObjectType, want: false},
		{name: "expired UID", err: ErrUIDExpired, want: false},
		{name: "invalid parameter", err: ErrInvalidParameter, want: false},
		{name: "closed", err: ErrTransportClosed, want: false},
		{
			name: "closed over transport",
			err:  NewTransportError("write register", "", ErrTransportClosed),
			want: false,
		},
		{name: "unknown", err: errors.New("other"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestPCDError(t *testing.T) {
	t.Parallel()

	err := &PCDError{Op: "Transceive", Err: ErrCommunication, ErrorReg: 0x02}
	assert.Equal(t, "Transceive: communication error (ErrorReg 0x02)", err.Error())
	assert.ErrorIs(t, err, ErrCommunication)

	detailed := newPCDError("read", ErrChecksum, "got 0000")
	assert.Equal(t, "read: CRC_A mismatch: got 0000", detailed.Error())

	wrapped := fmt.Errorf("read block 4: %w", detailed)
	var pcdErr *PCDError
	assert.ErrorAs(t, wrapped, &pcdErr)
	assert.Equal(t, "read", pcdErr.Op)
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	base := errors.New("device busy")
	err := NewTransportError("open", "/dev/spidev0.0", base)
	assert.Equal(t, "open /dev/spidev0.0: device busy", err.Error())
	assert.ErrorIs(t, err, base)

	noPort := NewTransportError("reset", "", base)
	assert.Equal(t, "reset: device busy", noPort.Error())
}

func TestErrObjectTypeWrapsSerialization(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrObjectType, ErrSerialization)
}
