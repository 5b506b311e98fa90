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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/services/runtime"
)

var modeCmd = &cobra.Command{
	Use:   "mode [ai|manual]",
	Short: "Show or set the processing mode",
	Long: `Without arguments, prints the effective mode. 'scribe mode manual'
forces the deterministic template pipeline; 'scribe mode ai' re-enables
the on-device model. Losing the runtime latches manual mode until you
explicitly switch back.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		// Observe first: the user's explicit choice below must win
		// over a latch firing on this same probe.
		tier := a.sessions.Probe(context.Background())
		capable := tier != runtime.TierUnavailable
		a.observeCapability(capable)

		if len(args) == 1 {
			switch args[0] {
			case "ai":
				a.mode.SetManualOverride(false)
			case "manual":
				a.mode.SetManualOverride(true)
			default:
				return fmt.Errorf("unknown mode %q (want ai or manual)", args[0])
			}
			if err := a.store.SaveManualOverride(a.mode.ManualOverride()); err != nil {
				return err
			}
		}
		fmt.Printf("Capability:     %s\n", tier)
		fmt.Printf("Override:       manual=%v\n", a.mode.ManualOverride())
		fmt.Printf("Effective mode: %s\n", a.mode.Effective(capable))
		return nil
	},
}
