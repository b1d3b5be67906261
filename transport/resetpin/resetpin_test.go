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

package resetpin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

type fakeLine struct {
	outErr error
	outs   []gpio.Level
	level  gpio.Level
	inputs int
}

func (f *fakeLine) In(gpio.Pull, gpio.Edge) error {
	f.inputs++
	return nil
}

func (f *fakeLine) Read() gpio.Level {
	return f.level
}

func (f *fakeLine) Out(l gpio.Level) error {
	if f.outErr != nil {
		return f.outErr
	}
	f.outs = append(f.outs, l)
	f.level = l
	return nil
}

func TestReset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    gpio.Level
		wantHard bool
		wantOuts []gpio.Level
	}{
		{name: "power down line is raised", level: gpio.Low, wantHard: true, wantOuts: []gpio.Level{gpio.High}},
		{name: "powered chip is left alone", level: gpio.High, wantHard: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			line := &fakeLine{level: tt.level}
			pin := New("GPIO25", line)
			pin.SetStartupDelay(0)

			hard, err := pin.Reset()
			require.NoError(t, err)
			assert.Equal(t, tt.wantHard, hard)
			assert.Equal(t, tt.wantOuts, line.outs)
			assert.Equal(t, 1, line.inputs)
		})
	}
}

func TestResetSecondCallIsSoft(t *testing.T) {
	t.Parallel()

	pin := New("GPIO25", &fakeLine{level: gpio.Low})
	pin.SetStartupDelay(0)

	hard, err := pin.Reset()
	require.NoError(t, err)
	assert.True(t, hard)

	hard, err = pin.Reset()
	require.NoError(t, err)
	assert.False(t, hard)
}

func TestResetOutError(t *testing.T) {
	t.Parallel()

	boom := errors.New("gpio busy")
	pin := New("GPIO25", &fakeLine{level: gpio.Low, outErr: boom})

	_, err := pin.Reset()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "GPIO25")
}

func TestClose(t *testing.T) {
	t.Parallel()

	line := &fakeLine{level: gpio.High}
	pin := New("GPIO25", line)

	require.NoError(t, pin.Close())
	require.NoError(t, pin.Close())
	assert.Equal(t, []gpio.Level{gpio.Low}, line.outs)

	_, err := pin.Reset()
	require.Error(t, err)
	assert.Equal(t, "GPIO25", pin.String())
}
