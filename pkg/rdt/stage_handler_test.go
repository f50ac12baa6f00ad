// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"errors"
	"testing"
	"time"
)

// dummyStage waits for a delay or until being canceled.
type dummyStage struct {
	delay time.Duration
	err   error
}

func (ds *dummyStage) handle(ctx context.Context, state *stageState) {
	select {
	case <-time.After(ds.delay):
		state.stageError = ds.err
		state.seq++
	case <-ctx.Done():
		state.stageError = ctx.Err()
	}
}

func TestStageHandler(t *testing.T) {
	var hooks []string
	hook := func(name string) func(*stageHandler, *stageState) error {
		return func(*stageHandler, *stageState) error {
			hooks = append(hooks, name)
			return nil
		}
	}

	sh := newStageHandler(context.Background(), []stageSetup{
		{stage: &dummyStage{delay: 10 * time.Millisecond}, preHook: hook("pre0"), postHook: hook("post0")},
		{stage: &dummyStage{delay: 10 * time.Millisecond}, postHook: hook("post1")},
	}, nil, stageConfig{})

	errChan := make(chan error)
	go func() { errChan <- sh.wait() }()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	if sh.state.seq != 2 {
		t.Fatalf("state was passed through %d stages instead of 2", sh.state.seq)
	}
	if len(hooks) != 3 || hooks[0] != "pre0" || hooks[1] != "post0" || hooks[2] != "post1" {
		t.Fatalf("unexpected hook order %v", hooks)
	}
	if sh.stage() != 1 {
		t.Fatalf("last stage is %d", sh.stage())
	}
}

func TestStageHandlerError(t *testing.T) {
	stageErr := errors.New("stage failed")

	sh := newStageHandler(context.Background(), []stageSetup{
		{stage: &dummyStage{delay: 10 * time.Millisecond, err: stageErr}},
		{stage: &dummyStage{delay: 10 * time.Millisecond}},
	}, nil, stageConfig{})

	if err := sh.wait(); !errors.Is(err, stageErr) {
		t.Fatalf("expected stage error, got %v", err)
	}
	if sh.stage() != 0 {
		t.Fatalf("failed in stage %d instead of 0", sh.stage())
	}
}

func TestStageHandlerHookError(t *testing.T) {
	hookErr := errors.New("hook failed")

	sh := newStageHandler(context.Background(), []stageSetup{
		{
			stage:   &dummyStage{delay: 10 * time.Millisecond},
			preHook: func(*stageHandler, *stageState) error { return hookErr },
		},
	}, nil, stageConfig{})

	if err := sh.wait(); !errors.Is(err, hookErr) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if sh.state.seq != 0 {
		t.Fatal("stage was executed despite a failing pre hook")
	}
}

func TestStageHandlerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sh := newStageHandler(ctx, []stageSetup{
		{stage: &dummyStage{delay: time.Minute}},
	}, nil, stageConfig{})

	time.Sleep(10 * time.Millisecond)
	cancel()

	errChan := make(chan error)
	go func() { errChan <- sh.wait() }()

	select {
	case err := <-errChan:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled stage, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}
