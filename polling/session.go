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
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	rfid "github.com/Pi4J/pi4j-example-crowpi-sub000"
	"github.com/Pi4J/pi4j-example-crowpi-sub000/internal/syncutil"
)

// ErrWriteTimeout is returned by WriteToNextCard when no card shows up in time
var ErrWriteTimeout = errors.New("timeout waiting for card")

// Metrics tracks operational counters of a Session
type Metrics struct {
	PollCycles      int64         // Total number of polling cycles
	PollErrors      int64         // Number of polling errors
	CardsDetected   int64         // Number of cards detected
	CallbackErrors  int64         // Number of callback errors
	Recoveries      int64         // Number of successful device recoveries
	LastPollLatency time.Duration // Duration of last polling operation
}

// Session handles continuous card monitoring with state machine.
//
// A detected card is handed to OnCardDetected and halted afterwards, so
// REQA no longer sees it. While it stays in the field every poll wakes it
// with WUPA, reselects it by UID and halts it again; a card that goes
// unseen for CardRemovalTimeout is reported through OnCardRemoved.
type Session struct {
	OnCardDetected    func(card rfid.Card) error
	OnCardRemoved     func()
	config            *Config
	device            *rfid.Device
	recoverer         DeviceRecoverer
	current           *rfid.UID
	pauseChan         chan struct{}
	resumeChan        chan struct{}
	ackChan           chan struct{}
	state             CardState
	consecutiveErrors int
	stateMutex        syncutil.RWMutex
	writeMutex        syncutil.Mutex
	pollCycles        atomic.Int64
	pollErrors        atomic.Int64
	cardsDetected     atomic.Int64
	callbackErrors    atomic.Int64
	recoveries        atomic.Int64
	lastPollLatency   atomic.Int64
	closed            atomic.Bool
	isPaused          atomic.Bool
}

// NewSession creates a new card monitoring session. The device must be
// initialized. Recovery re-initializes the same device; use SetRecoverer
// to reopen the transport instead.
func NewSession(device *rfid.Device, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		device: device,
		config: config,
		recoverer: NewDefaultRecoverer(device, nil,
			config.SleepRecovery.RecoveryBackoff, config.SleepRecovery.MaxRecoveryAttempts),
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
}

// SetRecoverer replaces the recovery strategy.
func (s *Session) SetRecoverer(r DeviceRecoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// SetOnCardDetected sets the callback for when a card is detected.
func (s *Session) SetOnCardDetected(callback func(rfid.Card) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardDetected = callback
}

// SetOnCardRemoved sets the callback for when a card is removed.
func (s *Session) SetOnCardRemoved(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnCardRemoved = callback
}

// GetState returns the current card state
func (s *Session) GetState() CardState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// GetDevice returns the device in use, which changes after a recovery
// that reopened the transport.
func (s *Session) GetDevice() *rfid.Device {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.device
}

// Metrics returns current operational metrics
func (s *Session) Metrics() Metrics {
	return Metrics{
		PollCycles:      s.pollCycles.Load(),
		PollErrors:      s.pollErrors.Load(),
		CardsDetected:   s.cardsDetected.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastPollLatency: time.Duration(s.lastPollLatency.Load()),
	}
}

// Start polls until ctx is done, a callback fails or the device cannot be
// recovered. It blocks; run it in its own goroutine.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return rfid.ErrTransportClosed
	}
	return s.runPollingLoop(ctx)
}

// Close cleans up the monitor resources. It does not close the device.
func (s *Session) Close() error {
	// Mark session as closed to prevent timer callbacks from executing
	s.closed.Store(true)

	s.stateMutex.Lock()
	if s.state.RemovalTimer != nil {
		safeTimerStop(s.state.RemovalTimer)
		s.state.RemovalTimer = nil
	}
	s.stateMutex.Unlock()

	s.isPaused.Store(false)
	select {
	case <-s.pauseChan:
	default:
	}
	select {
	case <-s.resumeChan:
	default:
	}
	return nil
}

// Pause temporarily stops the polling loop
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		// Non-blocking send for when no loop is running
		select {
		case s.pauseChan <- struct{}{}:
		default:
		}
	}
}

// Resume restarts the polling loop after a pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// pauseWithAck pauses polling and waits for the loop to acknowledge
func (s *Session) pauseWithAck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !s.isPaused.CompareAndSwap(false, true) {
		return nil // already paused
	}

	select {
	case s.pauseChan <- struct{}{}:
		ackTimeout := time.NewTimer(s.config.PollInterval + 100*time.Millisecond)
		defer ackTimeout.Stop()

		select {
		case <-s.ackChan:
			return nil
		case <-ackTimeout.C:
			// No polling loop running, the pause flag is enough
			return nil
		case <-ctx.Done():
			s.isPaused.Store(false)
			return ctx.Err()
		}
	case <-ctx.Done():
		s.isPaused.Store(false)
		return ctx.Err()
	default:
		return nil
	}
}

// WriteToNextCard waits for the next card and runs writeFn on it while
// polling is paused. sessionCtx controls session lifetime, writeCtx
// controls the write operation. Retryable write failures are retried on a
// reselected card under Config.WriteRetry.
func (s *Session) WriteToNextCard(
	sessionCtx context.Context,
	writeCtx context.Context,
	timeout time.Duration,
	writeFn func(context.Context, rfid.Card) error,
) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.pauseWithAck(sessionCtx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	timeoutCtx, cancel := context.WithTimeout(sessionCtx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	device := s.GetDevice()
	for {
		uid, err := device.DetectCard(timeoutCtx, s.config.DetectRetry)
		switch {
		case err == nil && uid != nil:
			return s.executeWrite(writeCtx, device, uid, writeFn)
		case err != nil && timeoutCtx.Err() == nil:
			return fmt.Errorf("card detection failed: %w", err)
		}

		select {
		case <-ticker.C:
		case <-timeoutCtx.Done():
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return ErrWriteTimeout
			}
			return timeoutCtx.Err()
		}
	}
}

// WriteToCurrentCard reselects the card the session is tracking and runs
// writeFn on it while polling is paused.
func (s *Session) WriteToCurrentCard(
	sessionCtx context.Context,
	writeCtx context.Context,
	writeFn func(context.Context, rfid.Card) error,
) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.pauseWithAck(sessionCtx); err != nil {
		return fmt.Errorf("failed to pause polling: %w", err)
	}
	defer s.Resume()

	// The writer owns the card; hold the removal timer until it is done
	s.stateMutex.Lock()
	uid := s.current
	if uid != nil {
		s.state.TransitionToReading()
	}
	s.stateMutex.Unlock()
	if uid == nil {
		return ErrNoCardInPoll
	}
	defer func() {
		s.stateMutex.Lock()
		if s.state.Present {
			s.state.TransitionToDetected(s.config.CardRemovalTimeout, s.handleCardRemoval)
		}
		s.stateMutex.Unlock()
	}()

	device := s.GetDevice()
	fresh, err := device.Reselect(writeCtx, uid)
	if err != nil {
		return fmt.Errorf("card left the field: %w", err)
	}
	return s.executeWrite(writeCtx, device, fresh, writeFn)
}

// executeWrite wraps uid in a card and runs writeFn, reselecting the card
// between attempts. The card is halted after every attempt.
func (s *Session) executeWrite(
	ctx context.Context,
	device *rfid.Device,
	uid *rfid.UID,
	writeFn func(context.Context, rfid.Card) error,
) error {
	attempt := 0
	return rfid.RetryWithConfig(ctx, s.config.WriteRetry, func() error {
		attempt++
		if attempt > 1 {
			fresh, err := device.Reselect(ctx, uid)
			if err != nil {
				return err
			}
			uid = fresh
		}
		card, err := device.CreateCard(uid)
		if err != nil {
			return fmt.Errorf("failed to create card: %w", err)
		}
		writeErr := writeFn(ctx, card)
		if err := card.Close(ctx); err != nil {
			rfid.Debugf("closing card %s after write: %v", uid, err)
		}
		return writeErr
	})
}

// runPollingLoop polls every PollInterval until ctx is done
func (s *Session) runPollingLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	lastPoll := time.Now()
	for {
		resumed, err := s.handleContextAndPause(ctx)
		if err != nil {
			return err
		}
		if resumed {
			lastPoll = time.Now()
		}

		if s.config.SleepRecovery.DetectSleep(time.Since(lastPoll), s.config.PollInterval) {
			rfid.Debugf("poll gap of %v, assuming host sleep", time.Since(lastPoll))
			if err := s.recover(ctx); err != nil {
				return err
			}
		}

		if err := s.executeSinglePollingCycle(ctx); err != nil {
			return err
		}
		lastPoll = time.Now()

		resumed, err = s.waitForNextPollOrPause(ctx, ticker)
		if err != nil {
			return err
		}
		if resumed {
			lastPoll = time.Now()
		}
	}
}

// executeSinglePollingCycle runs a presence check for a tracked card, or a
// detection round otherwise.
func (s *Session) executeSinglePollingCycle(ctx context.Context) error {
	start := time.Now()
	device := s.GetDevice()

	s.stateMutex.RLock()
	tracked := s.current
	s.stateMutex.RUnlock()

	var err error
	if tracked != nil {
		err = s.checkPresence(ctx, device, tracked)
	} else {
		var uid *rfid.UID
		uid, err = s.performSinglePoll(ctx, device)
		if err == nil {
			if cbErr := s.processDetection(ctx, device, uid); cbErr != nil {
				return fmt.Errorf("callback error during polling: %w", cbErr)
			}
		}
	}

	s.pollCycles.Add(1)
	s.lastPollLatency.Store(int64(time.Since(start)))

	if err != nil && !errors.Is(err, ErrNoCardInPoll) {
		return s.handlePollingError(ctx, err)
	}
	s.consecutiveErrors = 0
	return nil
}

// performSinglePoll runs one REQA round and selects the answering card
func (s *Session) performSinglePoll(ctx context.Context, device *rfid.Device) (*rfid.UID, error) {
	uid, err := device.DetectCard(ctx, s.config.DetectRetry)
	if err != nil {
		return nil, fmt.Errorf("card detection failed: %w", err)
	}
	if uid == nil {
		return nil, ErrNoCardInPoll
	}
	return uid, nil
}

// checkPresence reselects the tracked card and halts it again. A card that
// does not answer is left to the removal timer.
func (s *Session) checkPresence(ctx context.Context, device *rfid.Device, uid *rfid.UID) error {
	fresh, err := device.Reselect(ctx, uid)
	if err != nil {
		if isDeviceError(err) || ctx.Err() != nil {
			return err
		}
		rfid.Debugf("card %s not seen: %v", uid, err)
		return nil
	}
	if err := device.HaltA(ctx); err != nil {
		rfid.Debugf("halt after presence check: %v", err)
	}

	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.current != nil && s.state.Present {
		s.current = fresh
		s.state.TransitionToDetected(s.config.CardRemovalTimeout, s.handleCardRemoval)
	}
	return nil
}

// processDetection hands a freshly selected card to OnCardDetected, halts
// it and starts tracking it. Unsupported cards are halted and ignored.
func (s *Session) processDetection(ctx context.Context, device *rfid.Device, uid *rfid.UID) error {
	card, err := device.CreateCard(uid)
	if err != nil {
		rfid.Debugf("ignoring card %s: %v", uid, err)
		if err := device.HaltA(ctx); err != nil {
			rfid.Debugf("halt of ignored card: %v", err)
		}
		return nil
	}
	s.cardsDetected.Add(1)

	// Suspend any removal timer while the callback owns the card
	s.stateMutex.Lock()
	s.state.TransitionToReading()
	onDetected := s.OnCardDetected
	s.stateMutex.Unlock()

	var cbErr error
	if onDetected != nil {
		cbErr = s.safeCallCallback(onDetected, card, "OnCardDetected")
	}
	if err := card.Close(ctx); err != nil {
		rfid.Debugf("closing card %s: %v", uid, err)
	}

	s.stateMutex.Lock()
	s.state.Present = true
	s.state.LastUID = uid.String()
	s.state.LastType = string(card.Type())
	s.current = uid
	s.state.TransitionToDetected(s.config.CardRemovalTimeout, s.handleCardRemoval)
	s.stateMutex.Unlock()

	if cbErr != nil {
		s.callbackErrors.Add(1)
		return cbErr
	}
	return nil
}

// handlePollingError decides whether a failed cycle ends the loop. Card
// level failures are ignored; device failures drop the tracked card and
// trigger recovery after MaxConsecutiveErrors.
func (s *Session) handlePollingError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil // the loop sees ctx next
	}
	if errors.Is(err, rfid.ErrTransportClosed) {
		return err
	}

	s.pollErrors.Add(1)
	if !isDeviceError(err) {
		rfid.Debugf("poll cycle failed: %v", err)
		return nil
	}

	s.consecutiveErrors++
	rfid.Debugf("device error %d/%d: %v", s.consecutiveErrors, s.config.MaxConsecutiveErrors, err)
	s.handleCardRemoval()
	if s.consecutiveErrors < max(s.config.MaxConsecutiveErrors, 1) {
		return nil
	}
	s.consecutiveErrors = 0
	return s.recover(ctx)
}

// recover re-initializes or reopens the device through the recoverer
func (s *Session) recover(ctx context.Context) error {
	s.stateMutex.RLock()
	recoverer := s.recoverer
	s.stateMutex.RUnlock()

	if err := recoverer.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("device recovery failed: %w", err)
	}
	s.recoveries.Add(1)

	s.stateMutex.Lock()
	s.device = recoverer.GetDevice()
	s.stateMutex.Unlock()

	// The chip was reset; whatever was in the field has to be detected again
	s.handleCardRemoval()
	return nil
}

// isDeviceError reports failures of the reader itself rather than of the
// card exchange
func isDeviceError(err error) bool {
	var te *rfid.TransportError
	return errors.As(err, &te) || errors.Is(err, rfid.ErrTransportClosed)
}

// waitForNextPollOrPause waits for the next poll interval or handles pause signals
func (s *Session) waitForNextPollOrPause(ctx context.Context, ticker *time.Ticker) (bool, error) {
	select {
	case <-ticker.C:
		return false, nil
	case <-s.pauseChan:
		return true, s.handlePauseSignal(ctx)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (s *Session) handlePauseSignal(ctx context.Context) error {
	select {
	case s.ackChan <- struct{}{}:
	default:
	}
	return s.waitForResume(ctx)
}

func (s *Session) handleContextAndPause(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.pauseChan:
		return true, s.handlePauseSignal(ctx)
	default:
		return false, nil
	}
}

func (s *Session) waitForResume(ctx context.Context) error {
	select {
	case <-s.resumeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleCardRemoval handles card removal state changes
func (s *Session) handleCardRemoval() {
	// Bail out if session is closed to prevent timer callbacks from executing after cleanup
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	// A callback owns the card; a stale timer must not report it removed
	if s.state.DetectionState == StateReading {
		s.stateMutex.Unlock()
		return
	}
	wasPresent := s.state.Present
	if wasPresent {
		s.state.TransitionToIdle()
	}
	s.current = nil
	onRemoved := s.OnCardRemoved
	s.stateMutex.Unlock()

	// Call callback outside the lock to avoid potential deadlocks
	if wasPresent && onRemoved != nil {
		onRemoved()
	}
}

// safeCallCallback executes a callback with panic recovery
func (*Session) safeCallCallback(
	callback func(rfid.Card) error,
	card rfid.Card,
	callbackName string,
) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", callbackName, r)
			}
		}()
		callbackErr = callback(card)
	}()
	if callbackErr != nil {
		return fmt.Errorf("%s callback failed: %w", callbackName, callbackErr)
	}
	return nil
}
