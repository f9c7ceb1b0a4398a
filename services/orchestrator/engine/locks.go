// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
)

// threadLocks serializes turns per thread id.
//
// Slots are reference counted and removed when no turn holds or waits on
// them, so the map does not grow with the number of threads ever seen.
type threadLocks struct {
	mu    sync.Mutex
	slots map[string]*threadSlot
}

type threadSlot struct {
	sem  chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{slots: make(map[string]*threadSlot)}
}

// acquire blocks until the thread is free or ctx is done. The returned
// function releases the thread and must be called exactly once.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[threadID]
	if !ok {
		slot = &threadSlot{sem: make(chan struct{}, 1)}
		l.slots[threadID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return func() {
			<-slot.sem
			l.release(threadID, slot)
		}, nil
	case <-ctx.Done():
		l.release(threadID, slot)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) release(threadID string, slot *threadSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, threadID)
	}
}

// size returns the number of live slots.
func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
