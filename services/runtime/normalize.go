// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runtime

// Response and progress normalization for Ollama-compatible servers.
//
// Different local inference servers (ollama, llama.cpp server, LM
// Studio) agree on the rough wire shape but disagree on field names:
// generated text arrives as "response", "content", "text", or nested
// under "message". Download progress arrives either as a direct
// fraction or as a completed/total byte pair. Everything is funneled
// through these two helpers so the rest of the adapter never branches
// on shape.

// outputFields lists the known top-level text fields, in preference
// order.
var outputFields = []string{"response", "content", "text", "output"}

// extractText pulls generated text out of a decoded response object.
// Returns false when no recognized field is present.
func extractText(raw map[string]any) (string, bool) {
	for _, field := range outputFields {
		if s, ok := raw[field].(string); ok {
			return s, true
		}
	}
	// Chat-style shape: {"message": {"role": ..., "content": ...}}
	if msg, ok := raw["message"].(map[string]any); ok {
		if s, ok := msg["content"].(string); ok {
			return s, true
		}
	}
	return "", false
}

// normalizeResult converts a decoded response object into the
// canonical Result. Missing text fields normalize to empty text
// rather than an error; the caller decides whether empty is fatal.
func normalizeResult(raw map[string]any) Result {
	text, _ := extractText(raw)
	done := true
	if d, ok := raw["done"].(bool); ok {
		done = d
	}
	return Result{Text: text, Done: done}
}

// normalizeProgress converts any of the observed progress shapes to a
// fraction in [0,1].
//
// Shapes, in precedence order:
//   - direct fraction: {"progress": 0.42}
//   - byte pair: {"completed": 1234, "total": 5678}
//
// A pair with zero or unknown total normalizes to 0; a lone "success"
// status normalizes to 1. Values are clamped to [0,1] since servers
// occasionally report completed > total during layer verification.
func normalizeProgress(raw map[string]any) (float64, bool) {
	if f, ok := asFloat(raw["progress"]); ok {
		return clamp01(f), true
	}
	total, okTotal := asFloat(raw["total"])
	completed, okCompleted := asFloat(raw["completed"])
	if okTotal && okCompleted && total > 0 {
		return clamp01(completed / total), true
	}
	if status, ok := raw["status"].(string); ok && status == "success" {
		return 1, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
