// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notes holds the clinical note model and its local store.
package notes

import (
	"strings"
	"time"
)

// Summary is the four-section structured clinical note. It is always
// derived from a transcript (by the model or the manual heuristic),
// never accepted as free text outside these sections.
type Summary struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// IsZero reports whether no section has content.
func (s Summary) IsZero() bool {
	return s.Subjective == "" && s.Objective == "" && s.Assessment == "" && s.Plan == ""
}

// Markdown renders the summary in the fixed section order.
func (s Summary) Markdown() string {
	var b strings.Builder
	sections := []struct {
		title, body string
	}{
		{"Subjective", s.Subjective},
		{"Objective", s.Objective},
		{"Assessment", s.Assessment},
		{"Plan", s.Plan},
	}
	for _, sec := range sections {
		b.WriteString("## ")
		b.WriteString(sec.title)
		b.WriteString("\n\n")
		b.WriteString(sec.body)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// AudioRef points at the recorded clip backing a note. The payload is
// opaque; only the declared metadata is ever inspected.
type AudioRef struct {
	Path       string `json:"path"`
	MIMEType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// Note is one persisted clinical voice note.
type Note struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Transcript        string    `json:"transcript"`
	CleanedTranscript string    `json:"cleaned_transcript"`
	Summary           Summary   `json:"summary"`
	Audio             *AudioRef `json:"audio,omitempty"`
}

// BestTranscript returns the cleaned transcript when present, falling
// back to the raw one.
func (n *Note) BestTranscript() string {
	if n.CleanedTranscript != "" {
		return n.CleanedTranscript
	}
	return n.Transcript
}
