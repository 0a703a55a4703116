// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"sync"
	"time"
)

// Notifier is the long-poll broadcast primitive. Waiters do not learn the
// new status; they re-read storage after waking. Every waiter parked on the
// same auth_req_id must wake on a notification.
type Notifier interface {
	// WaitForStatusChange parks until a notification for the id arrives,
	// the timeout passes or the context is canceled. Returns true only for
	// a notification.
	WaitForStatusChange(ctx context.Context, authReqID string, timeout time.Duration) bool

	// NotifyStatusChange wakes every waiter parked on the id.
	NotifyStatusChange(authReqID string)
}

// MemoryNotifier is the single-process notifier: a per-id subscriber list
// under one mutex.
type MemoryNotifier struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// NewMemoryNotifier builds an in-memory notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{waiters: make(map[string][]chan struct{})}
}

// WaitForStatusChange implements Notifier.
func (n *MemoryNotifier) WaitForStatusChange(ctx context.Context, authReqID string, timeout time.Duration) bool {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.waiters[authReqID] = append(n.waiters[authReqID], ch)
	n.mu.Unlock()
	defer n.unsubscribe(authReqID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// NotifyStatusChange implements Notifier. The send never blocks: each
// subscriber channel is buffered and a waiter only needs one wakeup.
func (n *MemoryNotifier) NotifyStatusChange(authReqID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.waiters[authReqID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *MemoryNotifier) unsubscribe(authReqID string, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.waiters[authReqID]
	for i, c := range subs {
		if c == ch {
			n.waiters[authReqID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(n.waiters[authReqID]) == 0 {
		delete(n.waiters, authReqID)
	}
}

var _ Notifier = (*MemoryNotifier)(nil)
