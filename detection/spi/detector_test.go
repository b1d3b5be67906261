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

package spi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	list := write("list.json", `[{"device":"/dev/spidev0.0","reset_pin":"GPIO25"},{"device":"SPI1.0"}]`)
	single := write("single.json", `{"device":"/dev/spidev0.1","name":"door reader"}`)
	broken := write("broken.json", `{"device":`)
	missing := filepath.Join(dir, "missing.json")

	tests := []struct {
		name  string
		paths []string
		want  []string
	}{
		{name: "list", paths: []string{missing, list}, want: []string{"/dev/spidev0.0", "SPI1.0"}},
		{name: "single", paths: []string{single}, want: []string{"/dev/spidev0.1"}},
		{name: "malformed skipped", paths: []string{broken, single}, want: []string{"/dev/spidev0.1"}},
		{name: "none", paths: []string{missing}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, c := range loadConfigFile(tt.paths) {
				got = append(got, c.Device)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreateDeviceInfo(t *testing.T) {
	t.Parallel()

	info := createDeviceInfo(Config{
		Device:   "/dev/spidev0.0",
		ResetPin: "GPIO25",
		Metadata: map[string]string{"board": "crowpi"},
	})
	assert.Equal(t, "spi", info.Transport)
	assert.Equal(t, "/dev/spidev0.0", info.Path)
	assert.Equal(t, "SPI device at /dev/spidev0.0", info.Name)
	assert.Equal(t, "GPIO25", info.Metadata["reset_pin"])
	assert.Equal(t, "crowpi", info.Metadata["board"])
}

func TestGatherConfigs_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spi.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"device":"/dev/spidev9.0"},{"device":"/dev/spidev9.0"},{"device":""}]`), 0o600))
	t.Setenv(envDevice, "/dev/spidev9.0")

	d := &detector{configPaths: []string{path}}
	var count int
	for _, c := range d.gatherConfigs() {
		assert.NotEmpty(t, c.Device)
		if c.Device == "/dev/spidev9.0" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
