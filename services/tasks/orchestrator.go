// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks sequences the clinical operations (transcribe,
// proofread, compose-summary) against the request executor, and
// provides the deterministic manual fallback used when no model
// session is available.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScribe/services/executor"
	"github.com/AleutianAI/AleutianScribe/services/notes"
	"github.com/AleutianAI/AleutianScribe/services/runtime"
	"github.com/AleutianAI/AleutianScribe/services/session"
)

var tracer = otel.Tracer("scribe.tasks")

// MaxClipBytes is the audio size budget for transcription. The
// boundary is inclusive: a clip of exactly MaxClipBytes is accepted.
const MaxClipBytes = 1_000_000

// Timeout budgets per operation, enforced by racing the request
// against the deadline. The deadline also cancels the underlying
// request through the executor's context, so a timed-out request
// never lingers on the session.
const (
	transcribeTimeout = 20 * time.Second
	proofreadTimeout  = 15 * time.Second
	summaryTimeout    = 20 * time.Second
)

// ErrTimeout marks an operation that exceeded its budget. Distinct
// from ErrAborted: a timeout is surfaced to the user with a retry
// message, a cancellation is not an error at all.
var ErrTimeout = errors.New("operation timed out")

// ErrPrecondition marks input rejected before any model work begins.
var ErrPrecondition = errors.New("precondition violation")

// ErrNoSession rejects AI operations when no ready session exists.
var ErrNoSession = errors.New("no active model session")

// Clip is the finalized audio recording handed over by the audio
// collaborator. The payload is opaque; only size and declared type
// are validated here.
type Clip struct {
	MIMEType   string
	Data       []byte
	DurationMs int64
}

// Orchestrator runs the clinical operations. One instance per
// application run; each operation owns its call site so requests at
// different operations may overlap while a repeated request at the
// same operation supersedes its predecessor.
type Orchestrator struct {
	sessions *session.Manager
	logger   *slog.Logger

	transcribeSite *executor.CallSite
	proofreadSite  *executor.CallSite
	sectionSites   map[Section]*executor.CallSite

	// Budgets are fixed in production; fields so tests can shrink them.
	transcribeBudget time.Duration
	proofreadBudget  time.Duration
	summaryBudget    time.Duration
}

// NewOrchestrator wires an orchestrator to the session manager.
func NewOrchestrator(sessions *session.Manager) *Orchestrator {
	sectionSites := make(map[Section]*executor.CallSite, len(Sections))
	for _, sec := range Sections {
		sectionSites[sec] = executor.NewCallSite("summary " + string(sec))
	}
	return &Orchestrator{
		sessions:         sessions,
		logger:           slog.Default(),
		transcribeSite:   executor.NewCallSite("transcription"),
		proofreadSite:    executor.NewCallSite("proofreading"),
		sectionSites:     sectionSites,
		transcribeBudget: transcribeTimeout,
		proofreadBudget:  proofreadTimeout,
		summaryBudget:    summaryTimeout,
	}
}

// StopTranscribe aborts the in-flight transcription, if any.
func (o *Orchestrator) StopTranscribe() { o.transcribeSite.Stop() }

// StopProofread aborts the in-flight proofread, if any.
func (o *Orchestrator) StopProofread() { o.proofreadSite.Stop() }

// StopSummary aborts all in-flight summary section requests.
func (o *Orchestrator) StopSummary() {
	for _, site := range o.sectionSites {
		site.Stop()
	}
}

// Transcribe converts exactly one audio clip into text.
//
// Precondition checks (clip count, size budget) are raised
// synchronously before any model call. Budget: 20s.
func (o *Orchestrator) Transcribe(ctx context.Context, clips []Clip) (string, error) {
	return o.transcribe(ctx, clips, nil)
}

// TranscribeStream is Transcribe with incremental output: each text
// chunk is forwarded to onToken as it arrives.
func (o *Orchestrator) TranscribeStream(ctx context.Context, clips []Clip, onToken func(string)) (string, error) {
	return o.transcribe(ctx, clips, onToken)
}

func (o *Orchestrator) transcribe(ctx context.Context, clips []Clip, onToken func(string)) (string, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Transcribe")
	defer span.End()

	if len(clips) != 1 {
		return "", fmt.Errorf("%w: exactly one audio clip per note is supported, got %d", ErrPrecondition, len(clips))
	}
	clip := clips[0]
	if len(clip.Data) > MaxClipBytes {
		return "", fmt.Errorf("%w: audio clip is %d bytes, limit is %d", ErrPrecondition, len(clip.Data), MaxClipBytes)
	}

	sess := o.sessions.Active()
	if sess == nil {
		return "", ErrNoSession
	}

	opCtx, cancel := context.WithTimeoutCause(ctx, o.transcribeBudget, ErrTimeout)
	defer cancel()

	prompt := transcribePrompt(clip)
	var text string
	var err error
	if onToken == nil {
		var result runtime.Result
		result, err = o.transcribeSite.Execute(opCtx, sess, prompt, runtime.GenerateOptions{})
		text = result.Text
	} else {
		var b strings.Builder
		err = o.transcribeSite.ExecuteStream(opCtx, sess, prompt, runtime.GenerateOptions{},
			func(chunk runtime.Result) error {
				b.WriteString(chunk.Text)
				onToken(chunk.Text)
				return nil
			})
		text = b.String()
	}
	if err != nil {
		return "", o.finishErr(opCtx, "Transcription", err)
	}
	return strings.TrimSpace(text), nil
}

// Proofread expands clinical shorthand and cleans up grammar.
// Budget: 15s. The no-new-facts property is a prompt-level contract.
func (o *Orchestrator) Proofread(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Proofread")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no transcript to proofread", ErrPrecondition)
	}

	sess := o.sessions.Active()
	if sess == nil {
		return "", ErrNoSession
	}

	opCtx, cancel := context.WithTimeoutCause(ctx, o.proofreadBudget, ErrTimeout)
	defer cancel()

	result, err := o.proofreadSite.Execute(opCtx, sess, proofreadPrompt(text), runtime.GenerateOptions{})
	if err != nil {
		return "", o.finishErr(opCtx, "Proofreading", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// ComposeSummary generates the four-section summary with four
// parallel section requests. All four must succeed; there is no
// partial result. Budget: 20s for the whole fan-out.
func (o *Orchestrator) ComposeSummary(ctx context.Context, text string) (notes.Summary, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.ComposeSummary")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return notes.Summary{}, fmt.Errorf("%w: no transcript to summarize", ErrPrecondition)
	}

	sess := o.sessions.Active()
	if sess == nil {
		return notes.Summary{}, ErrNoSession
	}

	opCtx, cancel := context.WithTimeoutCause(ctx, o.summaryBudget, ErrTimeout)
	defer cancel()

	sections := make(map[Section]string, len(Sections))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(opCtx)
	for _, sec := range Sections {
		sec := sec
		g.Go(func() error {
			result, err := o.sectionSites[sec].Execute(gctx, sess, sectionPrompt(sec, text), runtime.GenerateOptions{})
			if err != nil {
				return err
			}
			mu.Lock()
			sections[sec] = strings.TrimSpace(result.Text)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return notes.Summary{}, o.finishErr(opCtx, "Summary composition", err)
	}

	return notes.Summary{
		Subjective: sections[SectionSubjective],
		Objective:  sections[SectionObjective],
		Assessment: sections[SectionAssessment],
		Plan:       sections[SectionPlan],
	}, nil
}

// finishErr converts an execution failure into the single error the
// UI layer shows. Cancellation stays distinguishable (ErrAborted),
// timeout carries its fixed retry message, and everything else is
// wrapped with the operation name.
func (o *Orchestrator) finishErr(opCtx context.Context, op string, err error) error {
	timedOut := errors.Is(context.Cause(opCtx), ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
	switch {
	case timedOut:
		o.logger.Warn("Operation timed out", "operation", op)
		return fmt.Errorf("%s timed out. Please retry: %w", op, ErrTimeout)
	case errors.Is(err, executor.ErrAborted):
		o.logger.Debug("Operation cancelled", "operation", op)
		return fmt.Errorf("%s cancelled: %w", op, executor.ErrAborted)
	default:
		o.logger.Error("Operation failed", "operation", op, "error", err)
		return fmt.Errorf("%s failed: %w", op, err)
	}
}
