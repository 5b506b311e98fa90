// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import "sync"

// Mode selects between the model-backed and manual pipelines.
type Mode string

const (
	ModeAI     Mode = "ai"
	ModeManual Mode = "manual"
)

// SelectMode is the pure mode decision: ai only when capability is
// ready and the user has not overridden to manual.
func SelectMode(capabilityReady, manualOverride bool) Mode {
	if capabilityReady && !manualOverride {
		return ModeAI
	}
	return ModeManual
}

// ModeState tracks the manual-override flag across capability
// changes.
//
// Policy: losing capability latches the override, so capability
// returning later does not silently flip the user back into AI mode.
// Only an explicit SetManualOverride(false) re-enables it.
//
// # Thread Safety
//
// ModeState is safe for concurrent use.
type ModeState struct {
	mu             sync.Mutex
	manualOverride bool
	wasReady       bool
}

// NewModeState creates a ModeState, both fields typically restored
// from the note store. wasReady must carry the capability state seen
// by the previous run: a CLI process probes once per invocation, so
// the loss transition the latch watches for usually spans restarts.
func NewModeState(manualOverride, wasReady bool) *ModeState {
	return &ModeState{manualOverride: manualOverride, wasReady: wasReady}
}

// ObserveCapability records a capability change. A ready-to-not-ready
// transition latches the manual override; the return value reports
// whether that happened, so the caller can persist the flipped flag.
func (m *ModeState) ObserveCapability(ready bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	latched := m.wasReady && !ready && !m.manualOverride
	if latched {
		m.manualOverride = true
	}
	m.wasReady = ready
	return latched
}

// SetManualOverride is the explicit user action toggling manual mode.
func (m *ModeState) SetManualOverride(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manualOverride = enabled
}

// ManualOverride returns the current override flag.
func (m *ModeState) ManualOverride() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manualOverride
}

// Effective resolves the mode for the given capability state.
func (m *ModeState) Effective(capabilityReady bool) Mode {
	return SelectMode(capabilityReady, m.ManualOverride())
}
