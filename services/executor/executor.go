// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor issues generation requests against a session with
// per-call-site cancellation.
//
// A CallSite corresponds to one logical entry point (the transcribe
// action, the proofread action, ...). It holds at most one live
// cancellation controller: starting a new request through the same
// site supersedes, and aborts, any request still in flight there, so
// two generations can never race on the same session from one entry
// point. Distinct call sites are independent and may overlap.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianScribe/services/runtime"
)

// ErrAborted is the outcome of a request cancelled by Stop or by a
// superseding request at the same call site. Callers distinguish it
// from model failure with errors.Is; it must never be presented as an
// error requiring retry.
var ErrAborted = errors.New("request aborted")

// CallSite serializes requests for one logical entry point.
//
// # Thread Safety
//
// CallSite is safe for concurrent use.
type CallSite struct {
	label string

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	seq    uint64
}

// NewCallSite creates a call site. The label appears in error
// messages.
func NewCallSite(label string) *CallSite {
	return &CallSite{label: label}
}

// begin supersedes any in-flight request and installs a fresh
// controller. The returned release detaches the controller unless a
// newer request has already replaced it.
func (c *CallSite) begin(ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancelCause(ctx)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel(ErrAborted)
	}
	c.cancel = cancel
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.seq == seq {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel(nil)
	}
	return reqCtx, release
}

// Stop aborts the in-flight request at this call site, if any.
func (c *CallSite) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel(ErrAborted)
		c.cancel = nil
	}
}

// Execute runs a single-shot generation request through this call
// site. An aborted request returns an error satisfying
// errors.Is(err, ErrAborted).
func (c *CallSite) Execute(ctx context.Context, sess runtime.Session, prompt string, opts runtime.GenerateOptions) (runtime.Result, error) {
	reqCtx, release := c.begin(ctx)
	defer release()

	result, err := sess.Generate(reqCtx, prompt, opts)
	if err != nil {
		return runtime.Result{}, c.classify(reqCtx, err)
	}
	return result, nil
}

// ExecuteStream runs a streaming generation request through this call
// site, forwarding chunks to onChunk.
func (c *CallSite) ExecuteStream(ctx context.Context, sess runtime.Session, prompt string, opts runtime.GenerateOptions, onChunk runtime.ChunkFunc) error {
	reqCtx, release := c.begin(ctx)
	defer release()

	if err := sess.GenerateStream(reqCtx, prompt, opts, onChunk); err != nil {
		return c.classify(reqCtx, err)
	}
	return nil
}

// classify separates cancellation from genuine failure. The
// underlying transport reports a cancelled request as a generic
// context error; the request context's cause says why it died.
func (c *CallSite) classify(reqCtx context.Context, err error) error {
	cause := context.Cause(reqCtx)
	switch {
	case errors.Is(cause, ErrAborted):
		return fmt.Errorf("%s: %w", c.label, ErrAborted)
	case errors.Is(err, runtime.ErrSessionDestroyed):
		return fmt.Errorf("%s: %w", c.label, ErrAborted)
	case cause != nil && errors.Is(cause, context.DeadlineExceeded):
		// Timeout budgets are owned by the task layer; surface the
		// deadline so it can attach its own message.
		return fmt.Errorf("%s: %w", c.label, context.DeadlineExceeded)
	default:
		return fmt.Errorf("%s: %w", c.label, err)
	}
}
