// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the on-device model session across its life.
//
// Exactly one Manager exists per application run. It is the only
// component that holds the session handle; everything else borrows it
// through Active() for the duration of a single operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianScribe/services/runtime"
)

// Phase is the lifecycle state of the managed session.
type Phase string

const (
	// PhaseChecking is the initial state before the first probe.
	PhaseChecking Phase = "checking"

	// PhaseNeedsGesture means the runtime is usable but setup has not
	// been triggered by the user yet.
	PhaseNeedsGesture Phase = "needs-gesture"

	// PhaseDownloading means BeginSetup is in flight.
	PhaseDownloading Phase = "downloading"

	// PhaseReady means a live session is held.
	PhaseReady Phase = "ready"

	// PhaseUnavailable means the probe found no usable runtime.
	PhaseUnavailable Phase = "unavailable"

	// PhaseError means the last setup attempt failed. A fresh
	// BeginSetup is the only way out; there is no automatic retry.
	PhaseError Phase = "error"
)

// ErrSetupUnavailable rejects BeginSetup when the last probe reported
// no usable runtime.
var ErrSetupUnavailable = errors.New("on-device model is unavailable")

// Snapshot is an observer-visible copy of the manager state. The
// session handle itself is deliberately absent.
type Snapshot struct {
	Phase         Phase
	Progress      float64
	StatusMessage string
	Tier          runtime.Tier
}

// Observer receives state snapshots after every transition and
// progress update. Called without internal locks held; must not call
// back into the Manager's mutating methods.
type Observer func(Snapshot)

// Manager is the session lifecycle state machine.
//
// Invariant: the active session is non-nil iff phase == PhaseReady,
// and every transition away from ready clears it first.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
type Manager struct {
	rt       runtime.Runtime
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	phase    Phase
	progress float64
	status   string
	tier     runtime.Tier
	active   runtime.Session

	// epoch invalidates an in-flight BeginSetup when Destroy runs
	// underneath it: the setup continuation must not resurrect a
	// session the user just tore down.
	epoch uint64
}

// NewManager creates a Manager in PhaseChecking. The observer may be
// nil.
func NewManager(rt runtime.Runtime, observer Observer) *Manager {
	return &Manager{
		rt:       rt,
		logger:   slog.Default(),
		observer: observer,
		phase:    PhaseChecking,
		status:   "Checking on-device model availability",
	}
}

// Probe queries the capability tier and settles the initial phase:
// a usable tier lands in PhaseNeedsGesture, TierUnavailable in
// PhaseUnavailable. Re-probing is allowed in any non-busy phase and
// refreshes the cached tier.
func (m *Manager) Probe(ctx context.Context) runtime.Tier {
	tier := m.rt.CheckAvailability(ctx)

	m.mu.Lock()
	m.tier = tier
	if m.phase == PhaseChecking || m.phase == PhaseUnavailable || m.phase == PhaseNeedsGesture {
		if tier == runtime.TierUnavailable {
			m.phase = PhaseUnavailable
			m.status = "On-device model unavailable; manual mode only"
		} else {
			m.phase = PhaseNeedsGesture
			m.status = "On-device model available; setup required"
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("Capability probe completed", "tier", string(tier))
	m.notify(snap)
	return tier
}

// BeginSetup creates the session, blocking until the model is
// downloaded and warmed.
//
// Re-entrant calls while already downloading or ready are no-ops:
// only one ready transition ever results from overlapping calls.
// Failure lands in PhaseError with the underlying message; the
// manager never retries on its own.
func (m *Manager) BeginSetup(ctx context.Context) error {
	m.mu.Lock()
	switch m.phase {
	case PhaseDownloading, PhaseReady:
		m.mu.Unlock()
		return nil
	case PhaseUnavailable:
		if m.tier == runtime.TierUnavailable {
			m.mu.Unlock()
			return ErrSetupUnavailable
		}
	}
	m.phase = PhaseDownloading
	m.progress = 0
	m.status = "Preparing on-device model"
	epoch := m.epoch
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	sess, err := m.rt.CreateSession(ctx, m.reportProgress)

	m.mu.Lock()
	if m.epoch != epoch {
		// Destroy intervened and already settled the phase; the fresh
		// session is unwanted, tear it straight back down.
		m.mu.Unlock()
		m.logger.Info("Session setup superseded by destroy")
		if sess != nil {
			if derr := sess.Destroy(ctx); derr != nil {
				m.logger.Warn("Discarding superseded session failed", "error", derr)
			}
		}
		return nil
	}
	if err != nil {
		m.active = nil
		m.phase = PhaseError
		m.status = fmt.Sprintf("Model setup failed: %v", err)
		snap = m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Error("Session setup failed", "error", err)
		m.notify(snap)
		return fmt.Errorf("model setup failed: %w", err)
	}
	m.active = sess
	m.phase = PhaseReady
	m.progress = 1
	m.status = "On-device model ready"
	snap = m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("Session ready")
	m.notify(snap)
	return nil
}

// Destroy tears down the session, best-effort.
//
// The session handle is cleared and the phase forced back to
// PhaseNeedsGesture before the underlying destroy is attempted, so a
// failing destroy can never leave the manager stuck. Destroy failures
// are logged, not propagated.
func (m *Manager) Destroy(ctx context.Context) {
	m.mu.Lock()
	sess := m.active
	m.active = nil
	m.epoch++
	m.phase = PhaseNeedsGesture
	m.progress = 0
	m.status = "On-device model available; setup required"
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	if sess == nil {
		return
	}
	if err := sess.Destroy(ctx); err != nil {
		m.logger.Warn("Session destroy failed", "error", err)
	}
}

// Active returns the live session, or nil unless phase == PhaseReady.
// Callers must not retain the handle past a single operation.
func (m *Manager) Active() runtime.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseReady {
		return nil
	}
	return m.active
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// reportProgress is the out-of-band progress channel handed to the
// runtime during setup. Reported progress is monotone: late or
// duplicate events never move the value backward.
func (m *Manager) reportProgress(fraction float64) {
	m.mu.Lock()
	if m.phase != PhaseDownloading {
		m.mu.Unlock()
		return
	}
	if fraction > m.progress {
		m.progress = fraction
	}
	m.status = fmt.Sprintf("Downloading model… %d%%", int(m.progress*100))
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:         m.phase,
		Progress:      m.progress,
		StatusMessage: m.status,
		Tier:          m.tier,
	}
}

func (m *Manager) notify(snap Snapshot) {
	if m.observer != nil {
		m.observer(snap)
	}
}
