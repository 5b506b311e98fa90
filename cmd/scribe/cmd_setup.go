// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/services/runtime"
	"github.com/AleutianAI/AleutianScribe/services/session"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Download and warm the on-device model",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tier := a.sessions.Probe(ctx)
		if tier == runtime.TierUnavailable {
			return fmt.Errorf("no on-device runtime found at %s; manual mode remains available", a.cfg.RuntimeURL)
		}

		if err := a.sessions.BeginSetup(ctx); err != nil {
			return err
		}
		fmt.Println("Model ready. Transcription, proofreading and summaries are now on-device.")
		return nil
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Unload the on-device model",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		tier := a.sessions.Probe(ctx)
		if !tier.Ready() {
			fmt.Println("No loaded model to tear down.")
			return nil
		}
		// A fresh process never holds a live session handle; recreate
		// then destroy so the runtime actually unloads the model.
		if err := a.sessions.BeginSetup(ctx); err != nil {
			return err
		}
		a.sessions.Destroy(ctx)
		if a.sessions.Snapshot().Phase != session.PhaseNeedsGesture {
			return fmt.Errorf("teardown left session in unexpected state")
		}
		fmt.Println("Model unloaded.")
		return nil
	},
}
