// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Scribe is a clinician voice-note tool: it transcribes dictated
// audio with an on-device model, proofreads it, composes a
// four-section clinical summary, and stores everything locally.
// Nothing ever leaves the machine.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/config"
	"github.com/AleutianAI/AleutianScribe/pkg/logging"
	"github.com/AleutianAI/AleutianScribe/services/notes"
	"github.com/AleutianAI/AleutianScribe/services/runtime"
	"github.com/AleutianAI/AleutianScribe/services/session"
	"github.com/AleutianAI/AleutianScribe/services/tasks"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Local-only clinician voice notes",
	Long: `Scribe records clinical voice notes and turns them into structured
four-section summaries using an on-device model. All inference and
storage is local; there is no cloud fallback.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(setupCmd, teardownCmd, doctorCmd, noteCmd, modeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires the long-lived components for one command invocation.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	store    *notes.Store
	rt       *runtime.OllamaRuntime
	sessions *session.Manager
	tasks    *tasks.Orchestrator
	mode     *tasks.ModeState
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir(),
		Service: "scribe",
	})
	slog.SetDefault(logger.Logger)

	store, err := notes.OpenStore(notes.DefaultStoreConfig(cfg.NotesDir()))
	if err != nil {
		logger.Close()
		return nil, err
	}

	rt, err := runtime.NewOllamaRuntime(runtime.Config{
		BaseURL: cfg.RuntimeURL,
		Model:   cfg.Model,
	})
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}

	override, err := store.LoadManualOverride()
	if err != nil {
		logger.Warn("mode override unreadable, defaulting to ai", "error", err)
		override = false
	}
	lastCapable, err := store.LoadLastCapable()
	if err != nil {
		logger.Warn("capability state unreadable", "error", err)
		lastCapable = false
	}

	sessions := session.NewManager(rt, printSessionState)
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		rt:       rt,
		sessions: sessions,
		tasks:    tasks.NewOrchestrator(sessions),
		mode:     tasks.NewModeState(override, lastCapable),
	}, nil
}

// observeCapability feeds a probe result into the mode latch and
// persists both the observation and, when the latch fires, the flipped
// override. Without persistence the loss transition would be invisible
// to the next invocation.
func (a *app) observeCapability(capable bool) {
	if a.mode.ObserveCapability(capable) {
		fmt.Println("On-device model lost; staying in manual mode until 'scribe mode ai'.")
		if err := a.store.SaveManualOverride(true); err != nil {
			a.logger.Warn("persisting latched mode override", "error", err)
		}
	}
	if err := a.store.SaveLastCapable(capable); err != nil {
		a.logger.Warn("persisting capability state", "error", err)
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing note store", "error", err)
	}
	a.logger.Close()
}

// printSessionState is the session observer: download progress and
// phase changes go straight to the terminal.
func printSessionState(snap session.Snapshot) {
	if snap.Phase == session.PhaseDownloading {
		fmt.Printf("\r%s", snap.StatusMessage)
		return
	}
	fmt.Printf("\r%s\n", snap.StatusMessage)
}
