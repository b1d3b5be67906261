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

package frame

import "testing"

func TestCRCA(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want [2]byte
	}{
		{
			name: "empty data keeps preset",
			data: []byte{},
			want: [2]byte{0x63, 0x63},
		},
		{
			name: "HLTA",
			data: []byte{0x50, 0x00},
			want: [2]byte{0x57, 0xCD},
		},
		{
			name: "MIFARE read block 0",
			data: []byte{0x30, 0x00},
			want: [2]byte{0x02, 0xA8},
		},
		{
			name: "SAK MIFARE Classic 1K",
			data: []byte{0x08},
			want: [2]byte{0xB6, 0xDD},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CRCA(tt.data); got != tt.want {
				t.Errorf("CRCA() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestAppendCRCA(t *testing.T) {
	t.Parallel()
	framed := AppendCRCA([]byte{0x93, 0x70, 0x11, 0x22, 0x33, 0x44, 0x44})
	if len(framed) != 9 {
		t.Fatalf("AppendCRCA() length = %d, want 9", len(framed))
	}
	if got := CRCA(framed[:7]); got[0] != framed[7] || got[1] != framed[8] {
		t.Errorf("appended CRC %X does not match recomputed %X", framed[7:], got)
	}
}

func TestBCC(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		level []byte
		want  byte
	}{
		{name: "four byte UID", level: []byte{0x11, 0x22, 0x33, 0x44}, want: 0x44},
		{name: "cascade tag level", level: []byte{0x88, 0x04, 0xA1, 0xB2}, want: 0x88 ^ 0x04 ^ 0xA1 ^ 0xB2},
		{name: "all zero", level: []byte{0, 0, 0, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BCC(tt.level); got != tt.want {
				t.Errorf("BCC() = %#02x, want %#02x", got, tt.want)
			}
		})
	}
}
