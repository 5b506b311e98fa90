// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianScribe/services/runtime"
)

type fakeSession struct {
	destroyErr   error
	destroyCalls atomic.Int32
}

func (f *fakeSession) Generate(ctx context.Context, prompt string, opts runtime.GenerateOptions) (runtime.Result, error) {
	return runtime.Result{Text: "ok", Done: true}, nil
}

func (f *fakeSession) GenerateStream(ctx context.Context, prompt string, opts runtime.GenerateOptions, onChunk runtime.ChunkFunc) error {
	return onChunk(runtime.Result{Text: "ok", Done: true})
}

func (f *fakeSession) Destroy(ctx context.Context) error {
	f.destroyCalls.Add(1)
	return f.destroyErr
}

type fakeRuntime struct {
	tier        runtime.Tier
	createErr   error
	sess        *fakeSession
	progress    []float64
	block       chan struct{}
	createCalls atomic.Int32
}

func (f *fakeRuntime) CheckAvailability(ctx context.Context) runtime.Tier { return f.tier }

func (f *fakeRuntime) FetchModelParameters(ctx context.Context) *runtime.ModelParams { return nil }

func (f *fakeRuntime) CreateSession(ctx context.Context, onProgress runtime.ProgressFunc) (runtime.Session, error) {
	f.createCalls.Add(1)
	if onProgress != nil {
		for _, p := range f.progress {
			onProgress(p)
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.sess, nil
}

// recorder collects observer snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func TestProbe_TierToPhaseMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tier runtime.Tier
		want Phase
	}{
		{runtime.TierReadily, PhaseNeedsGesture},
		{runtime.TierAfterDownload, PhaseNeedsGesture},
		{runtime.TierDownloading, PhaseNeedsGesture},
		{runtime.TierUnavailable, PhaseUnavailable},
	}
	for _, c := range cases {
		m := NewManager(&fakeRuntime{tier: c.tier}, nil)
		m.Probe(context.Background())
		if got := m.Snapshot().Phase; got != c.want {
			t.Errorf("tier %s: phase = %s, want %s", c.tier, got, c.want)
		}
	}
}

func TestBeginSetup_Success(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{tier: runtime.TierReadily, sess: &fakeSession{}}
	m := NewManager(rt, nil)
	m.Probe(context.Background())

	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	snap := m.Snapshot()
	if snap.Phase != PhaseReady {
		t.Errorf("phase = %s, want ready", snap.Phase)
	}
	if snap.Progress != 1 {
		t.Errorf("progress = %v, want 1", snap.Progress)
	}
	if m.Active() == nil {
		t.Error("Active() should return the session when ready")
	}
}

func TestBeginSetup_ConcurrentCallsCreateOneSession(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{
		tier:  runtime.TierAfterDownload,
		sess:  &fakeSession{},
		block: make(chan struct{}),
	}
	m := NewManager(rt, nil)
	m.Probe(context.Background())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.BeginSetup(context.Background())
		}()
	}

	// Wait until one call is inside CreateSession; the other must
	// have observed PhaseDownloading and returned without a second
	// create.
	deadline := time.After(2 * time.Second)
	for rt.createCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("CreateSession never called")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(rt.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("BeginSetup[%d]: %v", i, err)
		}
	}
	if calls := rt.createCalls.Load(); calls != 1 {
		t.Fatalf("CreateSession called %d times, want 1", calls)
	}
	if m.Snapshot().Phase != PhaseReady {
		t.Errorf("phase = %s, want ready", m.Snapshot().Phase)
	}
}

func TestBeginSetup_NoopWhenReady(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{tier: runtime.TierReadily, sess: &fakeSession{}}
	m := NewManager(rt, nil)
	m.Probe(context.Background())

	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("first BeginSetup: %v", err)
	}
	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("repeat BeginSetup: %v", err)
	}
	if calls := rt.createCalls.Load(); calls != 1 {
		t.Errorf("CreateSession called %d times, want 1", calls)
	}
}

func TestBeginSetup_FailureLandsInErrorPhase(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{tier: runtime.TierReadily, createErr: errors.New("out of disk")}
	m := NewManager(rt, nil)
	m.Probe(context.Background())

	err := m.BeginSetup(context.Background())
	if err == nil || !strings.Contains(err.Error(), "out of disk") {
		t.Fatalf("error = %v, want underlying message surfaced", err)
	}
	snap := m.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("phase = %s, want error", snap.Phase)
	}
	if m.Active() != nil {
		t.Error("Active() must be nil outside ready")
	}

	// No automatic retry happened.
	if calls := rt.createCalls.Load(); calls != 1 {
		t.Errorf("CreateSession called %d times, want 1", calls)
	}

	// A fresh explicit BeginSetup is the way out of the error phase.
	rt.createErr = nil
	rt.sess = &fakeSession{}
	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("retry BeginSetup: %v", err)
	}
	if m.Snapshot().Phase != PhaseReady {
		t.Errorf("phase = %s, want ready after retry", m.Snapshot().Phase)
	}
}

func TestBeginSetup_RejectedWhenUnavailable(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeRuntime{tier: runtime.TierUnavailable}, nil)
	m.Probe(context.Background())

	if err := m.BeginSetup(context.Background()); !errors.Is(err, ErrSetupUnavailable) {
		t.Fatalf("error = %v, want ErrSetupUnavailable", err)
	}
}

func TestDestroy_ForcesNeedsGestureEvenOnFailure(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{destroyErr: errors.New("runtime gone")}
	rt := &fakeRuntime{tier: runtime.TierReadily, sess: sess}
	m := NewManager(rt, nil)
	m.Probe(context.Background())
	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}

	m.Destroy(context.Background())

	if got := m.Snapshot().Phase; got != PhaseNeedsGesture {
		t.Errorf("phase = %s, want needs-gesture despite destroy failure", got)
	}
	if m.Active() != nil {
		t.Error("Active() must be nil after Destroy")
	}
	if sess.destroyCalls.Load() != 1 {
		t.Errorf("underlying destroy called %d times, want 1", sess.destroyCalls.Load())
	}
}

func TestDestroy_DuringSetupDiscardsTheNewSession(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	rt := &fakeRuntime{
		tier:  runtime.TierAfterDownload,
		sess:  sess,
		block: make(chan struct{}),
	}
	m := NewManager(rt, nil)
	m.Probe(context.Background())

	setupErr := make(chan error, 1)
	go func() {
		setupErr <- m.BeginSetup(context.Background())
	}()
	deadline := time.After(2 * time.Second)
	for rt.createCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("CreateSession never called")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Destroy underneath the in-flight setup, then let it finish.
	m.Destroy(context.Background())
	close(rt.block)

	if err := <-setupErr; err != nil {
		t.Fatalf("superseded BeginSetup: %v", err)
	}
	if got := m.Snapshot().Phase; got != PhaseNeedsGesture {
		t.Errorf("phase = %s, want needs-gesture after destroy won", got)
	}
	if m.Active() != nil {
		t.Error("destroy must not be overridden by the setup continuation")
	}
	if calls := sess.destroyCalls.Load(); calls != 1 {
		t.Errorf("discarded session destroy calls = %d, want 1", calls)
	}
}

func TestDestroy_WithoutSessionIsHarmless(t *testing.T) {
	t.Parallel()

	m := NewManager(&fakeRuntime{tier: runtime.TierReadily}, nil)
	m.Probe(context.Background())
	m.Destroy(context.Background())
	if got := m.Snapshot().Phase; got != PhaseNeedsGesture {
		t.Errorf("phase = %s, want needs-gesture", got)
	}
}

func TestProgress_MonotoneDespiteOutOfOrderEvents(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	rt := &fakeRuntime{
		tier:     runtime.TierAfterDownload,
		sess:     &fakeSession{},
		progress: []float64{0.1, 0.5, 0.3, 0.5, 0.9},
	}
	m := NewManager(rt, rec.observe)
	m.Probe(context.Background())
	if err := m.BeginSetup(context.Background()); err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}

	last := 0.0
	for _, snap := range rec.all() {
		if snap.Progress < last {
			t.Fatalf("progress went backward: %v after %v", snap.Progress, last)
		}
		last = snap.Progress
	}
	if last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
}
