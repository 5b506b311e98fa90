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

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scribe.runtime.ollama")

// ErrSessionDestroyed is the cause observed by requests in flight when
// their session is destroyed, and the rejection for requests issued
// after destruction.
var ErrSessionDestroyed = errors.New("session destroyed")

// maxStreamLineBytes bounds a single NDJSON line from the runtime.
const maxStreamLineBytes = 1 << 20

// Config holds OllamaRuntime configuration.
type Config struct {
	// BaseURL is the runtime server URL (e.g., "http://localhost:11434").
	BaseURL string

	// Model is the model identifier to probe, pull, and serve.
	Model string

	// Timeout bounds a single HTTP exchange. Default: 5 minutes,
	// long enough for model loading.
	Timeout time.Duration
}

// OllamaRuntime adapts an Ollama-compatible HTTP server to the
// Runtime contract.
//
// # Thread Safety
//
// OllamaRuntime is safe for concurrent use.
type OllamaRuntime struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger

	// pulling guards the downloading tier: set while a pull is in
	// flight so concurrent probes report TierDownloading.
	pulling atomic.Bool
}

// NewOllamaRuntime creates a runtime adapter for the given server.
func NewOllamaRuntime(cfg Config) (*OllamaRuntime, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("runtime base URL not set")
	}
	if cfg.Model == "" {
		return nil, errors.New("runtime model not set")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	slog.Info("Initializing runtime adapter",
		"base_url", cfg.BaseURL, "model", cfg.Model)
	return &OllamaRuntime{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		logger:     slog.Default(),
	}, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckAvailability implements Runtime.
//
// One GET to /api/tags. Server unreachable or any decode failure
// degrades to TierUnavailable; the probe never returns an error.
func (o *OllamaRuntime) CheckAvailability(ctx context.Context) Tier {
	ctx, span := tracer.Start(ctx, "OllamaRuntime.CheckAvailability")
	defer span.End()

	if o.pulling.Load() {
		return TierDownloading
	}

	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		span.RecordError(err)
		return TierUnavailable
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Debug("Availability probe failed", "error", err)
		return TierUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return TierUnavailable
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		o.logger.Debug("Availability probe returned malformed body", "error", err)
		return TierUnavailable
	}

	for _, m := range tags.Models {
		if m.Name == o.model || m.Name == o.model+":latest" {
			span.SetAttributes(attribute.String("runtime.tier", string(TierReadily)))
			return TierReadily
		}
	}
	span.SetAttributes(attribute.String("runtime.tier", string(TierAfterDownload)))
	return TierAfterDownload
}

type ollamaShowResponse struct {
	Details struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
	ModelInfo map[string]any `json:"model_info"`
}

// FetchModelParameters implements Runtime. Nil on any failure.
func (o *OllamaRuntime) FetchModelParameters(ctx context.Context) *ModelParams {
	ctx, span := tracer.Start(ctx, "OllamaRuntime.FetchModelParameters")
	defer span.End()

	body, err := json.Marshal(map[string]string{"model": o.model})
	if err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/show", bytes.NewBuffer(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.logger.Debug("Model parameter fetch failed", "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var show ollamaShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return nil
	}

	params := &ModelParams{
		Model:         o.model,
		Family:        show.Details.Family,
		ParameterSize: show.Details.ParameterSize,
		Quantization:  show.Details.QuantizationLevel,
	}
	// Context length lives under a family-prefixed key, e.g.
	// "llama.context_length". Take the first match.
	for key, value := range show.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if f, ok := asFloat(value); ok {
				params.ContextLength = int(f)
				break
			}
		}
	}
	return params
}

// CreateSession implements Runtime.
//
// Pulls the model (streaming progress through onProgress), warms it
// with a minimal generation so the first real request does not pay
// load latency, and returns the live session. Only one download runs
// at a time; a concurrent CreateSession fails fast.
func (o *OllamaRuntime) CreateSession(ctx context.Context, onProgress ProgressFunc) (Session, error) {
	ctx, span := tracer.Start(ctx, "OllamaRuntime.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.String("runtime.model", o.model))

	if !o.pulling.CompareAndSwap(false, true) {
		return nil, errors.New("model download already in progress")
	}
	defer o.pulling.Store(false)

	start := time.Now()
	if err := o.pullModel(ctx, onProgress); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("pulling model %s: %w", o.model, err)
	}

	if err := o.warmModel(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("warming model %s: %w", o.model, err)
	}

	o.logger.Info("Session created",
		"model", o.model,
		"setup_duration", time.Since(start))

	lifeCtx, cancel := context.WithCancelCause(context.Background())
	return &ollamaSession{
		runtime: o,
		lifeCtx: lifeCtx,
		cancel:  cancel,
	}, nil
}

// pullModel streams /api/pull, forwarding normalized progress.
func (o *OllamaRuntime) pullModel(ctx context.Context, onProgress ProgressFunc) error {
	body, err := json.Marshal(map[string]any{"model": o.model, "stream": true})
	if err != nil {
		return fmt.Errorf("marshaling pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/pull", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if msg, ok := raw["error"].(string); ok && msg != "" {
			return fmt.Errorf("runtime reported pull error: %s", msg)
		}
		if fraction, ok := normalizeProgress(raw); ok && onProgress != nil {
			onProgress(fraction)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pull stream: %w", err)
	}
	return nil
}

// warmModel loads the model into memory with an infinite keep_alive.
func (o *OllamaRuntime) warmModel(ctx context.Context) error {
	payload := map[string]any{
		"model":      o.model,
		"prompt":     "ping",
		"stream":     false,
		"keep_alive": "-1",
	}
	raw, err := o.postGenerate(ctx, payload)
	if err != nil {
		return err
	}
	_ = raw // warmup output is discarded, we only want the load
	return nil
}

// postGenerate issues a non-streaming /api/generate exchange and
// decodes the body into a raw object for normalization.
func (o *OllamaRuntime) postGenerate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending generate request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") &&
				strings.Contains(errResp.Error, "not found") {
				return nil, fmt.Errorf("model '%s' not found on runtime", o.model)
			}
		}
		return nil, fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var raw map[string]any
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("parsing generate response: %w", err)
	}
	return raw, nil
}

// buildOptions constructs the options map from GenerateOptions.
func buildOptions(opts GenerateOptions) map[string]any {
	options := make(map[string]any)
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	} else {
		options["temperature"] = float32(0.2)
	}
	if opts.TopK != nil {
		options["top_k"] = *opts.TopK
	} else {
		options["top_k"] = 20
	}
	if opts.TopP != nil {
		options["top_p"] = *opts.TopP
	} else {
		options["top_p"] = float32(0.9)
	}
	if opts.MaxTokens != nil {
		options["num_predict"] = *opts.MaxTokens
	}
	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}
	return options
}

// ollamaSession is the live model handle returned by CreateSession.
//
// lifeCtx is cancelled (with ErrSessionDestroyed) on Destroy so that
// in-flight requests observe destruction as an abort rather than
// hanging on the HTTP exchange.
type ollamaSession struct {
	runtime *OllamaRuntime
	lifeCtx context.Context
	cancel  context.CancelCauseFunc

	destroyOnce sync.Once
}

// requestContext derives a per-request context that is additionally
// cancelled when the session is destroyed.
func (s *ollamaSession) requestContext(ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(s.lifeCtx, func() {
		cancel(ErrSessionDestroyed)
	})
	return reqCtx, func() {
		stop()
		cancel(nil)
	}
}

func (s *ollamaSession) destroyed() bool {
	return s.lifeCtx.Err() != nil
}

// Generate implements Session.
func (s *ollamaSession) Generate(ctx context.Context, prompt string, opts GenerateOptions) (Result, error) {
	ctx, span := tracer.Start(ctx, "OllamaSession.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("runtime.model", s.runtime.model))

	if s.destroyed() {
		return Result{}, ErrSessionDestroyed
	}
	reqCtx, release := s.requestContext(ctx)
	defer release()

	payload := map[string]any{
		"model":      s.runtime.model,
		"prompt":     prompt,
		"stream":     false,
		"keep_alive": "-1",
		"options":    buildOptions(opts),
	}
	raw, err := s.runtime.postGenerate(reqCtx, payload)
	if err != nil {
		if cause := context.Cause(reqCtx); errors.Is(cause, ErrSessionDestroyed) {
			return Result{}, ErrSessionDestroyed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return normalizeResult(raw), nil
}

// GenerateStream implements Session.
func (s *ollamaSession) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onChunk ChunkFunc) error {
	ctx, span := tracer.Start(ctx, "OllamaSession.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("runtime.model", s.runtime.model))

	if s.destroyed() {
		return ErrSessionDestroyed
	}
	reqCtx, release := s.requestContext(ctx)
	defer release()

	body, err := json.Marshal(map[string]any{
		"model":      s.runtime.model,
		"prompt":     prompt,
		"stream":     true,
		"keep_alive": "-1",
		"options":    buildOptions(opts),
	})
	if err != nil {
		return fmt.Errorf("marshaling generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, "POST", s.runtime.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.runtime.httpClient.Do(req)
	if err != nil {
		if cause := context.Cause(reqCtx); errors.Is(cause, ErrSessionDestroyed) {
			return ErrSessionDestroyed
		}
		span.RecordError(err)
		return fmt.Errorf("sending generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if msg, ok := raw["error"].(string); ok && msg != "" {
			return fmt.Errorf("runtime reported generate error: %s", msg)
		}
		chunk := normalizeResult(raw)
		if err := onChunk(chunk); err != nil {
			return err
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if cause := context.Cause(reqCtx); errors.Is(cause, ErrSessionDestroyed) {
			return ErrSessionDestroyed
		}
		return fmt.Errorf("reading generate stream: %w", err)
	}
	// Stream ended without a done chunk; treat as complete.
	return nil
}

// Destroy implements Session.
//
// Cancels the session lifetime first so in-flight requests abort,
// then asks the runtime to unload the model. Idempotent.
func (s *ollamaSession) Destroy(ctx context.Context) error {
	var err error
	s.destroyOnce.Do(func() {
		s.cancel(ErrSessionDestroyed)
		s.runtime.logger.Info("Destroying session", "model", s.runtime.model)
		payload := map[string]any{
			"model":      s.runtime.model,
			"prompt":     "",
			"stream":     false,
			"keep_alive": "0",
		}
		if _, unloadErr := s.runtime.postGenerate(ctx, payload); unloadErr != nil {
			err = fmt.Errorf("unloading model: %w", unloadErr)
		}
	})
	return err
}
