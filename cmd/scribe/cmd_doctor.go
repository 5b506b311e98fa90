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

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report on-device model availability and parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		tier := a.sessions.Probe(ctx)
		capable := tier != runtime.TierUnavailable
		a.observeCapability(capable)

		fmt.Printf("Runtime:        %s\n", a.cfg.RuntimeURL)
		fmt.Printf("Model:          %s\n", a.cfg.Model)
		fmt.Printf("Availability:   %s\n", tier)
		fmt.Printf("Effective mode: %s\n", a.mode.Effective(capable))

		if tier == runtime.TierUnavailable {
			fmt.Println("\nNo local runtime answered. Manual mode covers proofreading")
			fmt.Println("and summaries; transcription needs the model.")
			return nil
		}

		if params := a.rt.FetchModelParameters(ctx); params != nil {
			fmt.Printf("Family:         %s\n", params.Family)
			fmt.Printf("Parameters:     %s\n", params.ParameterSize)
			fmt.Printf("Quantization:   %s\n", params.Quantization)
			if params.ContextLength > 0 {
				fmt.Printf("Context length: %d\n", params.ContextLength)
			}
		}
		if tier == runtime.TierAfterDownload {
			fmt.Println("\nModel not downloaded yet. Run 'scribe setup'.")
		}
		return nil
	},
}
