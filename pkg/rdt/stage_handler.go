// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package rdt

import (
	"context"
	"sync"

	"github.com/rdtfs/rdtfs-go/pkg/transport"
)

// stageSetup wraps a stage with two possible hooks (pre and post) to be used within the stageHandler.
type stageSetup struct {
	// stage to be executed.
	stage stage

	// preHook will be executed before starting the stage, if not nil.
	preHook func(*stageHandler, *stageState) error
	// postHook will be executed after a finished stage, if not nil.
	postHook func(*stageHandler, *stageState) error
}

// stageHandler executes a sequence of stages and passes the stageState from one stage to another. Errors might
// be propagated back through the wait method.
type stageHandler struct {
	stages []stageSetup
	state  *stageState

	currentStage      int
	currentStageMutex sync.RWMutex

	errChan chan error
	ctx     context.Context
	cancel  context.CancelFunc
}

// newStageHandler for a slice of stages, a Link and a stageConfig. The stages are started immediately.
func newStageHandler(ctx context.Context, stages []stageSetup, link transport.Link, config stageConfig) (sh *stageHandler) {
	sh = &stageHandler{
		stages: stages,
		state: &stageState{
			config: config,
			link:   link,
		},

		currentStage: -1,

		errChan: make(chan error, 1),
	}
	sh.ctx, sh.cancel = context.WithCancel(ctx)

	go sh.handler()

	return
}

func (sh *stageHandler) handler() {
	defer close(sh.errChan)
	defer sh.cancel()

	for i := 0; i < len(sh.stages); i++ {
		sh.currentStageMutex.Lock()
		sh.currentStage = i
		sh.currentStageMutex.Unlock()

		setup := sh.stages[i]

		if setup.preHook != nil {
			if err := setup.preHook(sh, sh.state); err != nil {
				sh.errChan <- err
				return
			}
		}

		setup.stage.handle(sh.ctx, sh.state)
		if err := sh.state.stageError; err != nil {
			sh.errChan <- err
			return
		}

		if setup.postHook != nil {
			if err := setup.postHook(sh, sh.state); err != nil {
				sh.errChan <- err
				return
			}
		}
	}
}

// wait until all stages are finished and return their error. The state is safe to read afterwards.
func (sh *stageHandler) wait() error {
	return <-sh.errChan
}

// stage returns the index of the currently running stage, the last executed stage after finishing, or -1.
func (sh *stageHandler) stage() int {
	sh.currentStageMutex.RLock()
	defer sh.currentStageMutex.RUnlock()

	return sh.currentStage
}

