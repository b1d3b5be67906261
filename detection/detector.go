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

// Package detection finds MFRC522 readers on the host's SPI, I2C and
// serial buses. Bus specific detectors register themselves on import.
package detection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// Mode represents the level of invasiveness for device detection
type Mode int

const (
	// Passive mode only lists bus devices without talking to them
	Passive Mode = iota
	// Safe mode reads VersionReg, which leaves the chip untouched
	Safe
	// Full mode runs the complete initialization, resetting the chip
	Full
)

// Confidence represents the confidence level of device detection
type Confidence int

const (
	// Low confidence - a bus device exists but was not probed
	Low Confidence = iota
	// Medium confidence - answers with a version used by compatible clones
	Medium
	// High confidence - answers with a genuine MFRC522 version
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo represents a detected reader
type DeviceInfo struct {
	// Additional metadata (e.g., VID:PID for USB serial adapters)
	Metadata map[string]string
	// Transport type: "uart", "i2c", "spi"
	Transport string
	// Connection path as accepted by the transport's New
	Path string
	// Human-readable device name
	Name string
	// Version is the VersionReg value when the device was probed
	Version byte
	// Detection confidence level
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures the detection behavior
type Options struct {
	// USB VID:PID pairs to skip (e.g., ["1234:5678", "ABCD:EF01"])
	Blocklist []string
	// Device paths to explicitly ignore (e.g., ["/dev/ttyUSB0"])
	IgnorePaths []string
	// Which transports to check (empty = all)
	Transports []string
	// Cache TTL duration
	CacheTTL time.Duration
	// Maximum time to spend probing one device
	ProbeTimeout time.Duration
	// Detection invasiveness level
	Mode Mode
	// Enable result caching
	EnableCache bool
}

// DefaultOptions returns sensible default detection options
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		ProbeTimeout: 2 * time.Second,
		Blocklist:    DefaultBlocklist(),
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

// Detector interface for transport-specific device detection
type Detector interface {
	// Detect searches for devices using the given options
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	// Transport returns the transport type this detector handles
	Transport() string
}

var (
	// ErrNoDevicesFound indicates no readers were detected
	ErrNoDevicesFound = errors.New("no MFRC522 devices found")
	// ErrDetectionTimeout indicates detection timed out
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrNotMFRC522 indicates a device answered with an unknown version
	ErrNotMFRC522 = errors.New("device is not an MFRC522")
)

// versions maps VersionReg values to chip names. 0x91 and 0x92 are the
// NXP parts; the rest come from compatible clones.
var versions = map[byte]string{
	0x91: "MFRC522 v1.0",
	0x92: "MFRC522 v2.0",
	0x88: "FM17522",
	0xB2: "FM17522 (alt)",
	0x89: "FM17522E",
	0x12: "MFRC522 clone",
}

// ChipName names the chip behind a VersionReg value
func ChipName(version byte) (string, bool) {
	name, ok := versions[version]
	return name, ok
}

// Probe talks to the chip on an open transport and grades what answers.
// The transport is left open for the caller to close.
func Probe(ctx context.Context, transport rfid.Transport, mode Mode) (byte, Confidence, error) {
	device, err := rfid.New(transport)
	if err != nil {
		return 0, Low, err
	}

	// A single attempt; retrying on devices that are not readers only
	// delays detection.
	if mode == Full {
		if err := device.Init(ctx); err != nil {
			return 0, Low, err
		}
	}
	version, err := device.Version(ctx)
	if err != nil {
		return 0, Low, err
	}

	switch version {
	case 0x91, 0x92:
		return version, High, nil
	default:
		if _, ok := versions[version]; ok {
			return version, Medium, nil
		}
		return version, Low, fmt.Errorf("%w: VersionReg 0x%02X", ErrNotMFRC522, version)
	}
}

var (
	registry   []Detector
	registryMu syncutil.RWMutex
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if len(transports) == 0 {
		return slices.Clone(registry)
	}
	var filtered []Detector
	for _, d := range registry {
		if slices.Contains(transports, d.Transport()) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every registered detector in parallel and returns the
// devices found, best confidence first.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}

	results := make(chan detectionResult, len(detectors))
	for _, detector := range detectors {
		go func(d Detector) {
			results <- runSingleDetector(ctx, d, opts)
		}(detector)
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
			} else {
				devices = append(devices, res.devices...)
			}
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	// Devices win over errors from other detectors
	if len(devices) > 0 {
		slices.SortStableFunc(devices, func(a, b DeviceInfo) int {
			return int(b.Confidence) - int(a.Confidence)
		})
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runSingleDetector(ctx context.Context, detector Detector, opts *Options) detectionResult {
	if opts.EnableCache {
		if cached, found := getCached(detector.Transport(), opts.CacheTTL); found {
			// Cached entries were filtered with the options of their run
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := detector.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(detector.Transport(), devices)
		} else {
			// A reader that was unplugged must not linger until the TTL
			clearCacheForTransport(detector.Transport())
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices applies IgnorePaths and Blocklist to a device list
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}
	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ProbePath opens a transport with open, probes it and closes it again.
// It is the common tail of the bus detectors.
func ProbePath(
	ctx context.Context,
	opts *Options,
	info DeviceInfo,
	open func() (rfid.Transport, error),
) (DeviceInfo, bool) {
	if opts.Mode == Passive {
		info.Confidence = Low
		return info, true
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()

	transport, err := open()
	if err != nil {
		rfid.Debugf("detect: open %s: %v", info.Path, err)
		return info, false
	}
	defer func() { _ = transport.Close() }()

	version, confidence, err := Probe(probeCtx, transport, opts.Mode)
	if err != nil {
		rfid.Debugf("detect: probe %s: %v", info.Path, err)
		return info, false
	}
	info.Version = version
	info.Confidence = confidence
	if name, ok := ChipName(version); ok {
		info.Name = name
	}
	return info, true
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}
