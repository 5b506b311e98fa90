// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tasks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianScribe/services/executor"
	"github.com/AleutianAI/AleutianScribe/services/runtime"
	"github.com/AleutianAI/AleutianScribe/services/session"
)

// scriptedSession answers prompts through a reply function, with an
// optional delay so timeout and cancellation paths can be exercised.
type scriptedSession struct {
	reply func(prompt string) (string, error)
	delay time.Duration

	mu        sync.Mutex
	prompts   []string
	cancelled atomic.Bool
}

func (s *scriptedSession) record(prompt string) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
}

func (s *scriptedSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scriptedSession) Generate(ctx context.Context, prompt string, opts runtime.GenerateOptions) (runtime.Result, error) {
	s.record(prompt)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			s.cancelled.Store(true)
			return runtime.Result{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	text, err := s.reply(prompt)
	if err != nil {
		return runtime.Result{}, err
	}
	return runtime.Result{Text: text, Done: true}, nil
}

func (s *scriptedSession) GenerateStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, onChunk runtime.ChunkFunc) error {
	s.record(prompt)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			s.cancelled.Store(true)
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
	text, err := s.reply(prompt)
	if err != nil {
		return err
	}
	if err := onChunk(runtime.Result{Text: text}); err != nil {
		return err
	}
	return onChunk(runtime.Result{Done: true})
}

func (s *scriptedSession) Destroy(ctx context.Context) error { return nil }

type stubRuntime struct {
	sess runtime.Session
}

func (r *stubRuntime) CheckAvailability(ctx context.Context) runtime.Tier {
	return runtime.TierReadily
}

func (r *stubRuntime) FetchModelParameters(ctx context.Context) *runtime.ModelParams { return nil }

func (r *stubRuntime) CreateSession(ctx context.Context, onProgress runtime.ProgressFunc) (runtime.Session, error) {
	return r.sess, nil
}

// newReadyOrchestrator builds an orchestrator whose session manager
// already holds the given session.
func newReadyOrchestrator(t *testing.T, sess runtime.Session) *Orchestrator {
	t.Helper()
	mgr := session.NewManager(&stubRuntime{sess: sess}, nil)
	mgr.Probe(context.Background())
	if err := mgr.BeginSetup(context.Background()); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	return NewOrchestrator(mgr)
}

func echoSession() *scriptedSession {
	return &scriptedSession{reply: func(prompt string) (string, error) {
		return "transcribed text", nil
	}}
}

func TestTranscribe_ClipSizeBoundary(t *testing.T) {
	t.Parallel()

	sess := echoSession()
	o := newReadyOrchestrator(t, sess)

	atLimit := Clip{MIMEType: "audio/webm", Data: bytes.Repeat([]byte{0}, MaxClipBytes)}
	if _, err := o.Transcribe(context.Background(), []Clip{atLimit}); err != nil {
		t.Fatalf("clip at exactly %d bytes should be accepted: %v", MaxClipBytes, err)
	}

	over := Clip{MIMEType: "audio/webm", Data: bytes.Repeat([]byte{0}, MaxClipBytes+1)}
	calls := sess.callCount()
	_, err := o.Transcribe(context.Background(), []Clip{over})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("error = %v, want ErrPrecondition", err)
	}
	if sess.callCount() != calls {
		t.Error("oversized clip must be rejected before any model call")
	}
}

func TestTranscribe_ExactlyOneClip(t *testing.T) {
	t.Parallel()

	sess := echoSession()
	o := newReadyOrchestrator(t, sess)

	clip := Clip{MIMEType: "audio/webm", Data: []byte("x")}
	for _, clips := range [][]Clip{nil, {clip, clip}} {
		if _, err := o.Transcribe(context.Background(), clips); !errors.Is(err, ErrPrecondition) {
			t.Errorf("clips=%d: error = %v, want ErrPrecondition", len(clips), err)
		}
	}
	if sess.callCount() != 0 {
		t.Error("clip count violations must not reach the model")
	}
}

func TestTranscribe_NoSession(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager(&stubRuntime{sess: echoSession()}, nil)
	mgr.Probe(context.Background())
	o := NewOrchestrator(mgr) // no BeginSetup

	_, err := o.Transcribe(context.Background(), []Clip{{Data: []byte("x")}})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("error = %v, want ErrNoSession", err)
	}
}

func TestTranscribe_TimeoutCancelsUnderlyingRequest(t *testing.T) {
	t.Parallel()

	sess := echoSession()
	sess.delay = 500 * time.Millisecond
	o := newReadyOrchestrator(t, sess)
	o.transcribeBudget = 20 * time.Millisecond

	_, err := o.Transcribe(context.Background(), []Clip{{Data: []byte("x")}})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), "timed out. Please retry") {
		t.Errorf("timeout message missing retry hint: %q", err)
	}
	if errors.Is(err, executor.ErrAborted) {
		t.Error("timeout must be distinguishable from cancellation")
	}
	if !sess.cancelled.Load() {
		t.Error("the underlying request must be cancelled on timeout, not abandoned")
	}
}

func TestTranscribe_StopIsCancellationNotFailure(t *testing.T) {
	t.Parallel()

	sess := echoSession()
	sess.delay = 5 * time.Second
	o := newReadyOrchestrator(t, sess)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Transcribe(context.Background(), []Clip{{Data: []byte("x")}})
		errCh <- err
	}()
	deadline := time.After(2 * time.Second)
	for sess.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("request never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	o.StopTranscribe()
	err := <-errCh
	if !errors.Is(err, executor.ErrAborted) {
		t.Fatalf("error = %v, want ErrAborted", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("user stop must not look like a timeout")
	}
}

func TestTranscribeStream_AccumulatesTokens(t *testing.T) {
	t.Parallel()

	o := newReadyOrchestrator(t, echoSession())

	var streamed strings.Builder
	text, err := o.TranscribeStream(context.Background(), []Clip{{Data: []byte("x")}},
		func(token string) { streamed.WriteString(token) })
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}
	if text != "transcribed text" {
		t.Errorf("text = %q", text)
	}
	if streamed.String() != "transcribed text" {
		t.Errorf("streamed = %q", streamed.String())
	}
}

func TestProofread_EmptyTranscript(t *testing.T) {
	t.Parallel()

	o := newReadyOrchestrator(t, echoSession())
	if _, err := o.Proofread(context.Background(), "   "); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("error = %v, want ErrPrecondition", err)
	}
}

func TestProofread_WrapsFailureWithOperation(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{reply: func(string) (string, error) {
		return "", errors.New("model rejected input")
	}}
	o := newReadyOrchestrator(t, sess)

	_, err := o.Proofread(context.Background(), "pt has hx of copd")
	if err == nil || !strings.Contains(err.Error(), "Proofreading failed") {
		t.Fatalf("error = %v, want operation prefix", err)
	}
	if !strings.Contains(err.Error(), "model rejected input") {
		t.Errorf("underlying reason missing from %q", err)
	}
}

func TestComposeSummary_FourSections(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "SUBJECTIVE"):
			return "subj text", nil
		case strings.Contains(prompt, "OBJECTIVE"):
			return "obj text", nil
		case strings.Contains(prompt, "ASSESSMENT"):
			return "assess text", nil
		case strings.Contains(prompt, "PLAN"):
			return "plan text", nil
		}
		return "", errors.New("unexpected prompt")
	}}
	o := newReadyOrchestrator(t, sess)

	summary, err := o.ComposeSummary(context.Background(), "patient has a cough")
	if err != nil {
		t.Fatalf("ComposeSummary: %v", err)
	}
	if summary.Subjective != "subj text" || summary.Objective != "obj text" ||
		summary.Assessment != "assess text" || summary.Plan != "plan text" {
		t.Errorf("summary = %+v", summary)
	}
	if sess.callCount() != 4 {
		t.Errorf("expected 4 section requests, got %d", sess.callCount())
	}
}

func TestComposeSummary_AllOrNothing(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "PLAN") {
			return "", errors.New("plan generation failed")
		}
		return "fine", nil
	}}
	o := newReadyOrchestrator(t, sess)

	summary, err := o.ComposeSummary(context.Background(), "patient has a cough")
	if err == nil {
		t.Fatal("one failed section must fail the whole operation")
	}
	if !strings.Contains(err.Error(), "Summary composition failed") {
		t.Errorf("error = %v, want operation prefix", err)
	}
	if !summary.IsZero() {
		t.Errorf("no partial summary allowed, got %+v", summary)
	}
}

func TestComposeSummary_EmptyTranscript(t *testing.T) {
	t.Parallel()

	o := newReadyOrchestrator(t, echoSession())
	if _, err := o.ComposeSummary(context.Background(), ""); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("error = %v, want ErrPrecondition", err)
	}
}
