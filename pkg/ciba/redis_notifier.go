// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
)

// RedisNotifier broadcasts status changes over Redis pub/sub so long-polls
// parked on one instance wake on decisions routed to another.
type RedisNotifier struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisNotifier builds a notifier over an existing Redis client. The key
// prefix should match the storage prefix so deployments stay namespaced.
func NewRedisNotifier(client redis.UniversalClient, keyPrefix string) *RedisNotifier {
	return &RedisNotifier{client: client, keyPrefix: keyPrefix}
}

func (n *RedisNotifier) channel(authReqID string) string {
	return n.keyPrefix + "bc:notify:" + authReqID
}

// WaitForStatusChange implements Notifier.
func (n *RedisNotifier) WaitForStatusChange(ctx context.Context, authReqID string, timeout time.Duration) bool {
	sub := n.client.Subscribe(ctx, n.channel(authReqID))
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation; a publish before this point
	// would be lost, and the caller re-reads storage after the timeout
	// anyway.
	if _, err := sub.Receive(ctx); err != nil {
		logger.Warnw("backchannel pub/sub subscribe failed", "auth_req_id", authReqID, "error", err)
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case _, ok := <-sub.Channel():
		return ok
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// NotifyStatusChange implements Notifier.
func (n *RedisNotifier) NotifyStatusChange(authReqID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.client.Publish(ctx, n.channel(authReqID), "1").Err(); err != nil {
		logger.Warnw("failed to publish backchannel status change", "auth_req_id", authReqID, "error", err)
	}
}

var _ Notifier = (*RedisNotifier)(nil)
