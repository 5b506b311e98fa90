// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runtime adapts a local inference server to the canonical
// on-device model contract used by the rest of Scribe.
//
// The adapter boundary normalizes everything the host runtime is loose
// about: availability tiers, download progress event shapes, and the
// duck-typed output field names different servers use for generated
// text. Code above this package only ever sees Tier, Result, and the
// Session interface.
package runtime

import "context"

// Tier is the coarse availability classification reported by a probe.
type Tier string

const (
	// TierReadily means the model is downloaded and can serve now.
	TierReadily Tier = "readily"

	// TierAfterDownload means the runtime is up but the model needs
	// to be pulled before a session can be created.
	TierAfterDownload Tier = "after-download"

	// TierDownloading means a model download is already in flight.
	TierDownloading Tier = "downloading"

	// TierUnavailable means no usable runtime was found. This is the
	// degraded answer for every probe failure: availability checks
	// are advisory and never surface an error.
	TierUnavailable Tier = "unavailable"
)

// Ready reports whether the tier allows immediate session creation.
func (t Tier) Ready() bool { return t == TierReadily }

// ModelParams describes the active model, best-effort.
type ModelParams struct {
	Model         string `json:"model"`
	Family        string `json:"family"`
	ParameterSize string `json:"parameter_size"`
	Quantization  string `json:"quantization"`
	ContextLength int    `json:"context_length"`
}

// GenerateOptions are per-request generation parameters. Nil fields
// fall back to adapter defaults.
type GenerateOptions struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Result is the canonical output of a generation request. Streaming
// requests deliver a sequence of Results; Done is set on the final one.
type Result struct {
	Text string
	Done bool
}

// ProgressFunc observes download progress as a fraction in [0,1].
// Invoked from the goroutine driving the download; must not block.
type ProgressFunc func(fraction float64)

// ChunkFunc receives incremental Results during streaming generation.
// Returning a non-nil error stops the stream and fails the request
// with that error.
type ChunkFunc func(chunk Result) error

// Runtime is the host AI runtime boundary: availability probing plus
// a session factory. Implementations must be safe for concurrent use.
type Runtime interface {
	// CheckAvailability performs a single round trip to the host
	// runtime. Any host-side failure degrades to TierUnavailable.
	CheckAvailability(ctx context.Context) Tier

	// FetchModelParameters returns metadata for the configured model,
	// or nil if the runtime cannot supply it. Best-effort only.
	FetchModelParameters(ctx context.Context) *ModelParams

	// CreateSession downloads the model if necessary, reporting
	// progress through onProgress (which may be nil), and returns a
	// warmed session. The returned session is valid until Destroy.
	CreateSession(ctx context.Context, onProgress ProgressFunc) (Session, error)
}

// Session is a stateful handle to a loaded model serving sequential
// generation requests.
type Session interface {
	// Generate performs a single-shot generation request.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Result, error)

	// GenerateStream performs a streaming generation request,
	// delivering chunks to onChunk until the final Done chunk.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk ChunkFunc) error

	// Destroy unloads the model and invalidates the session.
	// In-flight requests observe destruction as an abort, not a hang.
	Destroy(ctx context.Context) error
}
