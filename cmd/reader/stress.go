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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/polling"
)

// dumpLineBytes is one MIFARE block per crash report line
const dumpLineBytes = 16

// allTestChars is the complete pool of test characters for random generation.
// Combines ASCII, international, emoji, and edge case characters.
//
//nolint:gosmopolitan // Intentionally using non-Latin scripts for stress testing
var allTestChars = []rune(
	// ASCII printable
	"ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+[]{}|;:',.<>?/`~ " +
		// International - accented, Cyrillic, Greek, CJK
		"àáâãäåæçèéêëìíîïðñòóôõöøùúûüýþÿ" +
		"αβγδεζηθικλμνξοπρστυφχψω" +
		"абвгдеёжзийклмнопрстуфхцчшщъыьэюя" +
		"中文日本語한국어العربية" +
		// Emojis - 2-byte, 3-byte, and 4-byte UTF-8 sequences
		"🎮📱💻🔥⚡🚀🎯🏆🎲🃏" +
		// Edge cases - control chars, zero-width
		"\u0000\u001F\u007F\u0080\u00FF" +
		"\u200B\u200C\u200D\u00AD\u2028\u2029",
)

// StressTestResult holds the final result for a card test.
type StressTestResult struct {
	UID       string
	CardType  string
	CrashFile string
	Passed    int
	Failed    int
	Duration  time.Duration
	Success   bool
}

// CardTestState tracks the testing state for a single card.
type CardTestState struct {
	Started     time.Time
	UID         string
	CardType    rfid.CardType
	CurrentTest string
	OpLog       []LogEntry
	Capacity    int
	Passed      int
	Failed      int
}

// CrashReport contains all information for debugging a failure.
type CrashReport struct {
	Timestamp    time.Time  `json:"timestamp"`
	CardUID      string     `json:"card_uid"`
	CardType     string     `json:"card_type"`
	Manufacturer string     `json:"manufacturer"`
	Operation    string     `json:"operation"`
	Error        string     `json:"error"`
	ExpectedHex  string     `json:"expected_hex,omitempty"`
	ActualHex    string     `json:"actual_hex,omitempty"`
	TestSize     string     `json:"test_size"`
	RawCardDump  []string   `json:"raw_card_dump,omitempty"`
	OperationLog []LogEntry `json:"operation_log"`
	Capacity     int        `json:"capacity"`
}

// LogEntry represents a single operation in the log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	DataHex   string    `json:"data_hex,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
}

// testFailureInfo holds information about a test failure.
type testFailureInfo struct {
	err       error
	state     *CardTestState
	card      rfid.Card
	operation string
	expected  []byte
}

// stressTester runs the write/read/verify cycles and keeps the results
// until the card leaves the field.
type stressTester struct {
	reportDir string
	results   []*StressTestResult
	mu        syncutil.Mutex
}

func printStressTestBanner() {
	_, _ = fmt.Println("================================================================================")
	_, _ = fmt.Println("                       MFRC522 Card Stress Test Mode")
	_, _ = fmt.Println("================================================================================")
	_, _ = fmt.Println("Tests: tiny, medium, full (3 total per card)")
}

func runStressTestMode(ctx context.Context, session *polling.Session, reportDir string) error {
	printStressTestBanner()

	defer func() {
		if err := session.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()

	tester := &stressTester{reportDir: reportDir}
	session.SetOnCardDetected(func(card rfid.Card) error {
		printCardHeader(card)
		tester.record(tester.runForCard(ctx, card))
		return nil
	})
	session.SetOnCardRemoved(func() {
		_, _ = fmt.Println()
		printFinalSummary(tester.drain())
		_, _ = fmt.Println("\nCard removed - ready for next test...")
	})

	_, _ = fmt.Println("\nWaiting for card... (Press Ctrl+C to exit)")
	return session.Start(ctx)
}

func (st *stressTester) record(result *StressTestResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.results = append(st.results, result)
}

func (st *stressTester) drain() []*StressTestResult {
	st.mu.Lock()
	defer st.mu.Unlock()
	results := st.results
	st.results = nil
	return results
}

func printCardHeader(card rfid.Card) {
	_, _ = fmt.Println()
	_, _ = fmt.Println("--------------------------------------------------------------------------------")
	_, _ = fmt.Printf("[CARD] %s\n", describeCard(card))
	_, _ = fmt.Println("--------------------------------------------------------------------------------")
}

func (st *stressTester) runForCard(ctx context.Context, card rfid.Card) *StressTestResult {
	state := &CardTestState{
		UID:      card.UID().String(),
		CardType: card.Type(),
		Capacity: card.Capacity(),
		Started:  time.Now(),
		OpLog:    make([]LogEntry, 0, 16),
	}
	result := &StressTestResult{
		UID:      state.UID,
		CardType: string(state.CardType),
	}

	for _, size := range []testSize{testSizeTiny, testSizeMedium, testSizeFull} {
		state.CurrentTest = size.String()
		expected, err := runSingleTest(ctx, card, state, size)
		if err != nil {
			state.Failed++
			st.handleTestFailure(ctx, &testFailureInfo{
				card: card, state: state, operation: size.String(), err: err, expected: expected,
			}, result)
			break
		}
		state.Passed++
	}

	result.Passed = state.Passed
	result.Failed = state.Failed
	result.Duration = time.Since(state.Started)
	result.Success = state.Failed == 0

	printCardTestSummary(result)
	return result
}

func (s *CardTestState) logOp(op string, data []byte) *LogEntry {
	s.OpLog = append(s.OpLog, LogEntry{
		Timestamp: time.Now(),
		Operation: op,
		DataHex:   hex.EncodeToString(data),
	})
	return &s.OpLog[len(s.OpLog)-1]
}

// runSingleTest writes a label of the given size, reads it back and
// compares. It returns the encoded form written for the crash report.
func runSingleTest(ctx context.Context, card rfid.Card, state *CardTestState, size testSize) ([]byte, error) {
	written := time.Now().UTC().Truncate(time.Second)
	obj := label{
		Text:    generateTestText(size, card.Capacity(), written),
		Written: written,
	}
	encoded, err := rfid.EncodeObject(obj)
	if err != nil {
		return nil, err
	}

	_, _ = fmt.Printf("  [%s] Write (%d bytes stored)... ", size, len(encoded))
	entry := state.logOp("write_"+size.String(), encoded)
	if err := rfid.WriteObject(ctx, card, obj); err != nil {
		_, _ = fmt.Println("FAIL")
		entry.Error = err.Error()
		return encoded, fmt.Errorf("write failed: %w", err)
	}
	entry.Success = true
	_, _ = fmt.Print("OK  Read... ")

	entry = state.logOp("read_"+size.String(), nil)
	got, err := rfid.ReadObject[label](ctx, card)
	if err != nil {
		_, _ = fmt.Println("FAIL")
		entry.Error = err.Error()
		return encoded, fmt.Errorf("read failed: %w", err)
	}
	entry.Success = true
	_, _ = fmt.Print("OK  Verify... ")

	entry = state.logOp("verify_"+size.String(), nil)
	if err := verifyLabel(obj, got); err != nil {
		_, _ = fmt.Println("FAIL")
		entry.Error = err.Error()
		return encoded, err
	}
	entry.Success = true
	_, _ = fmt.Println("OK")
	return encoded, nil
}

func (st *stressTester) handleTestFailure(ctx context.Context, info *testFailureInfo, result *StressTestResult) {
	_, _ = fmt.Printf("\n  [!] FAILURE at %s test: %v\n", info.state.CurrentTest, info.err)

	if info.card.UID().Manufacturer() == rfid.ManufacturerUnknown {
		_, _ = fmt.Println("  [!] Unknown manufacturer - possibly a clone card")
	}

	rawDump, err := info.card.ReadBytes(ctx)
	if err != nil {
		rfid.Debugf("card dump failed: %v", err)
	}

	report := createCrashReport(info, rawDump)
	filename, writeErr := writeCrashReportToFile(st.reportDir, report)
	if writeErr != nil {
		_, _ = fmt.Printf("  [!] Failed to write crash report: %v\n", writeErr)
		return
	}
	_, _ = fmt.Printf("  Creating crash report... %s\n", filename)
	result.CrashFile = filename
}

// testSize represents the three test sizes per cycle
type testSize int

const (
	testSizeTiny   testSize = iota // 1-4 bytes of text
	testSizeMedium                 // half the largest label that fits
	testSizeFull                   // the largest label that fits
)

func (s testSize) String() string {
	switch s {
	case testSizeTiny:
		return "tiny"
	case testSizeMedium:
		return "medium"
	case testSizeFull:
		return "full"
	default:
		return "unknown"
	}
}

// generateTestText creates random text for the given size. Full and medium
// are measured on the stored form, so compression is taken into account.
func generateTestText(size testSize, capacity int, written time.Time) string {
	if size == testSizeTiny {
		return generateRandomText(randomInt(1, 4))
	}

	// Random text barely compresses; a pool of capacity bytes is always enough
	pool := []rune(generateRandomText(capacity))
	n := maxFittingRunes(pool, capacity, written)
	if size == testSizeMedium {
		n /= 2
	}
	return string(pool[:max(n, 1)])
}

// maxFittingRunes returns the longest prefix of pool whose label encodes
// within capacity.
func maxFittingRunes(pool []rune, capacity int, written time.Time) int {
	fits := func(n int) bool {
		data, err := rfid.EncodeObject(label{Text: string(pool[:n]), Written: written})
		return err == nil && len(data) <= capacity
	}

	low, high := 0, len(pool)
	for low < high {
		mid := (low + high + 1) / 2
		if fits(mid) {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low
}

// generateRandomText creates random text from the full character pool up to maxBytes
func generateRandomText(maxBytes int) string {
	result := make([]rune, 0, maxBytes/2)
	currentBytes := 0

	for currentBytes < maxBytes {
		char := allTestChars[randomInt(0, len(allTestChars)-1)]
		charBytes := len(string(char))
		if currentBytes+charBytes > maxBytes {
			break
		}
		result = append(result, char)
		currentBytes += charBytes
	}
	return string(result)
}

// randomInt returns a random int in [low, high] inclusive
func randomInt(low, high int) int {
	if low >= high {
		return low
	}
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := int(b[0]&0x7F)<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	return low + (n % (high - low + 1))
}

func verifyLabel(expected, actual label) error {
	if expected.Text != actual.Text {
		return fmt.Errorf("text mismatch: expected %q, got %q", expected.Text, actual.Text)
	}
	if !expected.Written.Equal(actual.Written) {
		return fmt.Errorf("timestamp mismatch: expected %s, got %s", expected.Written, actual.Written)
	}
	return nil
}

func createCrashReport(info *testFailureInfo, rawDump []byte) *CrashReport {
	report := &CrashReport{
		Timestamp:    time.Now(),
		CardUID:      info.state.UID,
		CardType:     string(info.state.CardType),
		Manufacturer: string(info.card.UID().Manufacturer()),
		Operation:    info.operation,
		TestSize:     info.state.CurrentTest,
		Error:        info.err.Error(),
		OperationLog: info.state.OpLog,
		Capacity:     info.state.Capacity,
	}
	if len(info.expected) > 0 {
		report.ExpectedHex = formatHexString(info.expected)
	}
	if len(rawDump) > 0 {
		if n := len(info.expected); n > 0 && n <= len(rawDump) {
			report.ActualHex = formatHexString(rawDump[:n])
		}
		report.RawCardDump = formatHexDump(rawDump)
	}
	return report
}

func writeCrashReportToFile(dir string, report *CrashReport) (string, error) {
	timestamp := report.Timestamp.Format("20060102_150405")
	filename := fmt.Sprintf("stress_test_crash_%s_%s.json", report.CardUID, timestamp)
	filename = filepath.Join(dir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal crash report: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write crash report: %w", err)
	}
	return filename, nil
}

func formatHexString(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// formatHexDump renders the store one block per line, offsets counted in
// store bytes since trailer blocks are not part of it.
func formatHexDump(data []byte) []string {
	lines := make([]string, 0, (len(data)+dumpLineBytes-1)/dumpLineBytes)
	for i := 0; i < len(data); i += dumpLineBytes {
		end := min(i+dumpLineBytes, len(data))
		lines = append(lines, fmt.Sprintf("%03X: % X", i, data[i:end]))
	}
	return lines
}

func printCardTestSummary(result *StressTestResult) {
	status := "PASS"
	if !result.Success {
		status = "FAIL"
	}
	_, _ = fmt.Printf("\n  [%s] %s - %d/3 tests passed - %s\n",
		status, result.UID, result.Passed, result.Duration.Round(100*time.Millisecond))
}

func printFinalSummary(results []*StressTestResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Println("================================================================================")
	_, _ = fmt.Println("                              STRESS TEST SUMMARY")
	_, _ = fmt.Println("================================================================================")

	var passCount, failCount, crashCount int
	_, _ = fmt.Printf("Cards tested: %d\n", len(results))
	for _, r := range results {
		var status string
		switch {
		case r.Success:
			status = "PASS"
			passCount++
		default:
			status = "FAIL"
			failCount++
			if r.CrashFile != "" {
				crashCount++
			}
		}
		_, _ = fmt.Printf("  [%s] %s (%s) - %d/3 tests\n", status, r.UID, r.CardType, r.Passed)
	}

	_, _ = fmt.Printf("\nOverall: %d PASS, %d FAIL\n", passCount, failCount)
	if crashCount > 0 {
		_, _ = fmt.Printf("Crash reports written: %d\n", crashCount)
	}
	_, _ = fmt.Println("================================================================================")
}
