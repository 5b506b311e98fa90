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

import (
	"strings"

	"github.com/AleutianAI/AleutianScribe/services/notes"
)

// Manual-mode fallback: pure, synchronous text transforms with no
// model, no timeout, and no failure path.
//
// The sentence-selection policy below (first three segments feed the
// subjective section, and so on) is a fixed behavioral contract.
// Changing it silently changes what users see in every note written
// in manual mode, so treat any adjustment as a breaking change.

// Placeholder strings substituted when no segment is available for a
// section.
const (
	PlaceholderSubjective = "No subjective information recorded."
	PlaceholderObjective  = "No objective findings recorded."
	PlaceholderAssessment = "Assessment pending clinician review."
	PlaceholderPlan       = "Plan to be determined."
)

// maxSegments caps how many leading segments feed the summary.
const maxSegments = 6

// ComposeSummaryManual derives a four-section summary from a
// transcript without the model.
//
// Segmentation splits on line breaks and terminal punctuation and
// keeps up to six leading segments: the first three fill subjective,
// the fourth and fifth objective, assessment references the first
// segment, and the sixth fills plan. Empty slots get the fixed
// placeholders. Never fails; empty input yields all placeholders.
func ComposeSummaryManual(text string) notes.Summary {
	segments := splitSegments(text)

	summary := notes.Summary{
		Subjective: PlaceholderSubjective,
		Objective:  PlaceholderObjective,
		Assessment: PlaceholderAssessment,
		Plan:       PlaceholderPlan,
	}
	if len(segments) > 0 {
		summary.Subjective = joinRange(segments, 0, 3)
		summary.Assessment = "Assessment based on: " + segments[0]
	}
	if len(segments) > 3 {
		summary.Objective = joinRange(segments, 3, 5)
	}
	if len(segments) > 5 {
		summary.Plan = segments[5]
	}
	return summary
}

// ProofreadManual is the manual-mode stand-in for Proofread: a pure
// whitespace tidy that neither adds nor removes content.
func ProofreadManual(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSegments breaks text into sentence-ish segments on line breaks
// and terminal punctuation, keeping at most maxSegments leading ones.
// Terminal punctuation stays attached to its segment.
func splitSegments(text string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		seg := strings.TrimSpace(current.String())
		current.Reset()
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	for _, r := range text {
		switch r {
		case '\n', '\r':
			flush()
		case '.', '!', '?':
			current.WriteRune(r)
			flush()
		default:
			current.WriteRune(r)
		}
		if len(segments) == maxSegments {
			return segments
		}
	}
	flush()
	if len(segments) > maxSegments {
		segments = segments[:maxSegments]
	}
	return segments
}

func joinRange(segments []string, from, to int) string {
	if to > len(segments) {
		to = len(segments)
	}
	return strings.Join(segments[from:to], " ")
}
