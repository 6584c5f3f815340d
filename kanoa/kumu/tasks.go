/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
	"github.com/kowabunga-cloud/kanoa/kanoa/store"
)

const (
	TaskEventBufferSize = 16
)

// StatusEvent notifies subscribers of an instance status change.
type StatusEvent struct {
	InstanceID string       `json:"id"`
	Status     store.Status `json:"status"`
	Deleted    bool         `json:"deleted,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type subscriber struct {
	id string
	ch chan StatusEvent
}

// TaskRegistry tracks background workflows keyed by instance id and fans
// status events out to subscribers.
type TaskRegistry struct {
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	subMu   sync.RWMutex
	subs    map[int]subscriber
	nextSub int
}

func NewTaskRegistry() *TaskRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRegistry{
		base:   ctx,
		cancel: cancel,
		tasks:  map[string]*task{},
		subs:   map[int]subscriber{},
	}
}

// Spawn runs fn in the background under a cancellable context. Only one
// task may run per id.
func (r *TaskRegistry) Spawn(id string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrTasksShutdown
	}
	if _, ok := r.tasks[id]; ok {
		return errors.Annotate(ErrTaskRunning, id)
	}

	ctx, cancel := context.WithCancel(r.base)
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[id] = t
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.tasks, id)
			r.mu.Unlock()
			cancel()
			close(t.done)
		}()
		fn(ctx)
	}()

	return nil
}

// Cancel asks the task for id to stop and returns a channel closed once it
// did. It returns nil when no task runs for id.
func (r *TaskRegistry) Cancel(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	klog.Debugf("Cancelling background task for %s", id)
	t.cancel()
	return t.done
}

// Wait blocks until the task for id is over or ctx ends.
func (r *TaskRegistry) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAndWait cancels the task for id, if any, and waits for it to stop.
func (r *TaskRegistry) CancelAndWait(ctx context.Context, id string) error {
	done := r.Cancel(id)
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TaskRegistry) IsRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

func (r *TaskRegistry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Subscribe registers for status events of instance id, or of every
// instance when id is empty. The returned function unsubscribes and closes
// the channel.
func (r *TaskRegistry) Subscribe(id string) (<-chan StatusEvent, func()) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	key := r.nextSub
	r.nextSub++
	ch := make(chan StatusEvent, TaskEventBufferSize)
	r.subs[key] = subscriber{
		id: id,
		ch: ch,
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			delete(r.subs, key)
			close(ch)
		})
	}
}

// Publish hands ev to every matching subscriber. Slow subscribers miss
// events rather than block the publisher.
func (r *TaskRegistry) Publish(ev StatusEvent) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, s := range r.subs {
		if s.id != "" && s.id != ev.InstanceID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			klog.Warningf("Dropping status event of %s for a slow subscriber", ev.InstanceID)
		}
	}
}

// Shutdown cancels every task and waits for them until ctx ends.
func (r *TaskRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
