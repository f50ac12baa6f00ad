// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cron runs housekeeping tasks of the daemon, e.g., purging expired history records, in fixed intervals.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultResolution is the tick of a Cron created by New.
const DefaultResolution = time.Second

type job struct {
	task     func(context.Context)
	interval time.Duration
	next     time.Time
	runs     uint64
	running  bool
}

// Cron executes registered tasks in their intervals. A task is never executed concurrently to itself; a due run is
// skipped while the previous one is still active.
type Cron struct {
	resolution time.Duration

	jobs  map[string]*job
	mutex sync.Mutex
	tasks sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates and starts a Cron with the DefaultResolution.
func New() *Cron {
	return NewWithResolution(DefaultResolution)
}

// NewWithResolution creates and starts a Cron which checks its jobs every resolution.
func NewWithResolution(resolution time.Duration) *Cron {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cron{
		resolution: resolution,
		jobs:       make(map[string]*job),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go c.loop()

	return c
}

func (c *Cron) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case now := <-ticker.C:
			c.fire(now)
		}
	}
}

func (c *Cron) fire(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for name, j := range c.jobs {
		if j.next.After(now) {
			continue
		}

		for !j.next.After(now) {
			j.next = j.next.Add(j.interval)
		}

		if j.running {
			log.WithField("job", name).Warn("Cron skips job, previous run is still active")
			continue
		}

		c.start(name, j)

		log.WithFields(log.Fields{
			"job":        name,
			"interval":   j.interval,
			"next_event": j.next,
		}).Debug("Cron executed job")
	}
}

// start runs a job in its own goroutine. The mutex must be held.
func (c *Cron) start(name string, j *job) {
	j.running = true
	j.runs++

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()

		j.task(c.ctx)

		c.mutex.Lock()
		j.running = false
		c.mutex.Unlock()
	}()
}

// Register a task by its name and interval. The interval must not be shorter than the Cron's resolution. The first
// execution happens one interval after registration.
func (c *Cron) Register(name string, task func(context.Context), interval time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.jobs[name]; exists {
		return fmt.Errorf("a job named %s is already registered", name)
	}
	if interval < c.resolution {
		return fmt.Errorf("interval %v is shorter than the resolution %v", interval, c.resolution)
	}

	c.jobs[name] = &job{
		task:     task,
		interval: interval,
		next:     time.Now().Add(interval),
	}
	return nil
}

// Unregister a task by its name. An active run is not interrupted.
func (c *Cron) Unregister(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.jobs, name)
}

// Trigger executes a registered task now, independent of its interval.
func (c *Cron) Trigger(name string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	j, exists := c.jobs[name]
	if !exists {
		return fmt.Errorf("no job named %s", name)
	}
	if j.running {
		return fmt.Errorf("job %s is still running", name)
	}

	c.start(name, j)
	return nil
}

// Runs returns how often a task was started.
func (c *Cron) Runs(name string) uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if j, exists := c.jobs[name]; exists {
		return j.runs
	}
	return 0
}

// Jobs lists the registered job names, sorted.
func (c *Cron) Jobs() (names []string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for name := range c.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

// Stop this Cron, cancel the context passed to the tasks and wait for active runs to return. Stop must only be called
// once.
func (c *Cron) Stop() {
	c.cancel()
	<-c.done
	c.tasks.Wait()
}
