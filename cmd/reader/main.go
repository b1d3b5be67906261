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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/detection"
	_ "github.com/Pi4J/pi4j-example-crowpi-sub000/detection/i2c"
	_ "github.com/Pi4J/pi4j-example-crowpi-sub000/detection/spi"
	_ "github.com/Pi4J/pi4j-example-crowpi-sub000/detection/uart"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/polling"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/i2c"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/resetpin"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/spi"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/transport/uart"
)

const (
	envPort     = "RFID_PORT"
	envResetPin = "RFID_RESET_PIN"

	writeTimeout  = 30 * time.Second
	detectTimeout = 10 * time.Second
)

// label is the object the reader stores on a card
type label struct {
	Written time.Time `cbor:"written"`
	Text    string    `cbor:"text"`
}

type config struct {
	transport string
	port      string
	resetPin  string
	writeText string
	logDir    string
	debug     bool
	stress    bool
	writeWait time.Duration
}

// Package-level flag variables
var (
	flagTransport string
	flagPort      string
	flagResetPin  string
	flagWriteText string
	flagLogDir    string
	flagDebug     bool
	flagStress    bool
)

func init() {
	flag.StringVar(&flagTransport, "transport", "",
		"Bus the reader is on: spi, i2c or uart (guessed from -port, auto-detected if both are empty)")
	flag.StringVar(&flagPort, "port", "", "SPI port, I2C bus[:addr] or serial device (env "+envPort+")")
	flag.StringVar(&flagResetPin, "reset", "", "GPIO driving the NRSTPD line, e.g. GPIO25 (env "+envResetPin+")")
	flag.StringVar(&flagWriteText, "write", "", "Text to write to the next card (exits after write)")
	flag.StringVar(&flagLogDir, "log", "", "Directory for a session log file")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagStress, "stress", false, "Run write/read/verify cycles on every card presented")
}

func parseConfig() *config {
	cfg := &config{
		transport: strings.ToLower(flagTransport),
		port:      flagPort,
		resetPin:  flagResetPin,
		writeText: flagWriteText,
		logDir:    flagLogDir,
		debug:     flagDebug,
		stress:    flagStress,
		writeWait: writeTimeout,
	}
	if cfg.port == "" {
		cfg.port = os.Getenv(envPort)
	}
	if cfg.resetPin == "" {
		cfg.resetPin = os.Getenv(envResetPin)
	}

	if cfg.debug {
		rfid.SetDebugEnabled(true)
	}
	return cfg
}

// transportKind picks the bus from the explicit flag or the port name.
// SPI is the default since most reader boards ship wired for it.
func transportKind(cfg *config) (string, error) {
	if cfg.transport != "" {
		switch cfg.transport {
		case "spi", "i2c", "uart":
			return cfg.transport, nil
		default:
			return "", fmt.Errorf("unsupported transport type: %s", cfg.transport)
		}
	}

	port := strings.ToLower(cfg.port)
	switch {
	case port == "", strings.Contains(port, "spi"):
		return "spi", nil
	case strings.Contains(port, "i2c"):
		return "i2c", nil
	default:
		return "uart", nil
	}
}

// autoDetect fills in the bus and port of the best reader found. Without a
// result the SPI default stays in place.
func autoDetect(cfg *config) {
	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()

	opts := detection.DefaultOptions()
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		rfid.Debugf("auto-detection found nothing: %v", err)
		return
	}
	best := devices[0]
	if cfg.debug {
		_, _ = fmt.Printf("Auto-detected %s\n", best)
	}
	cfg.transport, cfg.port = best.Transport, best.Path
	if cfg.resetPin == "" {
		cfg.resetPin = best.Metadata["reset_pin"]
	}
}

// openTransport opens the reset line, if any, and the bus the reader is on
func openTransport(cfg *config) (rfid.Transport, error) {
	if cfg.transport == "" && cfg.port == "" {
		autoDetect(cfg)
	}

	kind, err := transportKind(cfg)
	if err != nil {
		return nil, err
	}

	var reset *resetpin.Pin
	if cfg.resetPin != "" {
		reset, err = resetpin.Open(cfg.resetPin)
		if err != nil {
			return nil, err
		}
	}

	var transport rfid.Transport
	switch kind {
	case "spi":
		transport, err = spi.New(cfg.port, reset)
	case "i2c":
		transport, err = i2c.New(cfg.port, reset)
	default:
		transport, err = uart.New(cfg.port, reset)
	}
	if err != nil {
		if reset != nil {
			_ = reset.Close()
		}
		return nil, fmt.Errorf("failed to create %s transport: %w", strings.ToUpper(kind), err)
	}
	return transport, nil
}

type transportOpener func(*config) (rfid.Transport, error)

func connectToDevice(ctx context.Context, cfg *config, open transportOpener) (*rfid.Device, error) {
	transport, err := open(cfg)
	if err != nil {
		return nil, err
	}

	device, err := rfid.New(transport)
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := device.InitWithRetry(ctx, rfid.DefaultRetryConfig()); err != nil {
		_ = device.Close()
		return nil, fmt.Errorf("failed to initialize MFRC522: %w", err)
	}

	if cfg.debug {
		if version, err := device.Version(ctx); err == nil {
			_, _ = fmt.Printf("MFRC522 version: 0x%02X\n", version)
		}
	}
	return device, nil
}

// newSession wires a session whose recoverer can reopen the bus after the
// reader drops off it.
func newSession(device *rfid.Device, cfg *config, open transportOpener) *polling.Session {
	sessionConfig := polling.DefaultConfig()
	session := polling.NewSession(device, sessionConfig)
	session.SetRecoverer(polling.NewDefaultRecoverer(device, func() (*rfid.Device, error) {
		return connectToDevice(context.Background(), cfg, open)
	}, sessionConfig.SleepRecovery.RecoveryBackoff, sessionConfig.SleepRecovery.MaxRecoveryAttempts))
	return session
}

func describeCard(card rfid.Card) string {
	uid := card.UID()
	return fmt.Sprintf("UID=%s Type=%s Manufacturer=%s Capacity=%d",
		uid, card.Type(), uid.Manufacturer(), card.Capacity())
}

func runReadMode(ctx context.Context, session *polling.Session) error {
	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	_, _ = fmt.Println("Starting continuous card monitoring. Press Ctrl+C to stop...")

	session.SetOnCardDetected(func(card rfid.Card) error {
		_, _ = fmt.Printf("Card detected: %s\n", describeCard(card))

		obj, err := rfid.ReadObject[label](ctx, card)
		switch {
		case err == nil:
			_, _ = fmt.Printf("  Text: %q (written %s)\n", obj.Text, obj.Written.Format(time.RFC3339))
		case errors.Is(err, rfid.ErrObjectType):
			_, _ = fmt.Println("  Card holds an object of another type")
		default:
			// Blank or foreign cards are common, keep monitoring
			_, _ = fmt.Printf("  No readable object: %v\n", err)
		}
		return nil
	})
	session.SetOnCardRemoved(func() {
		_, _ = fmt.Println("Card removed - ready for next card...")
	})

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("polling stopped: %w", err)
	}
	return nil
}

func runWriteMode(ctx context.Context, session *polling.Session, cfg *config) error {
	if cfg.writeText == "" {
		return errors.New("writeText cannot be empty for write mode")
	}
	defer func() {
		if err := session.Close(); err != nil && cfg.debug {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	_, _ = fmt.Printf("Waiting for card to write text: %q\n", cfg.writeText)
	_, _ = fmt.Println("Please place a card near the reader...")

	obj := label{Text: cfg.writeText, Written: time.Now().UTC().Truncate(time.Second)}
	err := session.WriteToNextCard(ctx, ctx, cfg.writeWait, func(ctx context.Context, card rfid.Card) error {
		_, _ = fmt.Printf("Card detected: %s\n", describeCard(card))
		return rfid.WriteObject(ctx, card, obj)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Println("Write operation cancelled.")
		}
		return fmt.Errorf("write operation failed: %w", err)
	}

	_, _ = fmt.Printf("Successfully wrote text to card: %q\n", cfg.writeText)
	return nil
}

func run(ctx context.Context, cfg *config, open transportOpener) error {
	if cfg.logDir != "" {
		path, err := rfid.InitSessionLog(cfg.logDir)
		if err != nil {
			return err
		}
		_, _ = fmt.Printf("Session log: %s\n", path)
		defer func() {
			_ = rfid.CloseSessionLog()
		}()
	}

	device, err := connectToDevice(ctx, cfg, open)
	if err != nil {
		return err
	}
	session := newSession(device, cfg, open)
	defer func() {
		// The recoverer may have swapped in a reopened device
		if err := session.GetDevice().Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	switch {
	case cfg.writeText != "":
		return runWriteMode(ctx, session, cfg)
	case cfg.stress:
		return runStressTestMode(ctx, session, cfg.logDir)
	default:
		return runReadMode(ctx, session)
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg := parseConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, openTransport); err != nil {
		if errors.Is(err, context.Canceled) {
			_, _ = fmt.Print("\nShutting down gracefully...\n")
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
