// SPDX-FileCopyrightText: Copyright 2026 Lighthouse Authors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lighthouse-oidc/lighthouse/pkg/logger"
	"github.com/lighthouse-oidc/lighthouse/pkg/networking"
)

// Notification delivery defaults.
const (
	// DefaultMaxDeliveryTries bounds retries; delivery is best-effort and
	// idempotent through the stable auth_req_id, never exactly-once.
	DefaultMaxDeliveryTries = 3

	// DefaultInitialRetryInterval seeds the exponential backoff.
	DefaultInitialRetryInterval = 500 * time.Millisecond
)

// NotificationDeliveryService posts a notification payload to a client's
// registered endpoint with bearer authorization.
type NotificationDeliveryService interface {
	Send(ctx context.Context, endpoint, bearer string, payload any, mode string) error
}

// HTTPDeliveryService delivers notifications over the SSRF-guarded client
// with bounded exponential-backoff retries.
type HTTPDeliveryService struct {
	client          *networking.Client
	maxTries        uint
	initialInterval time.Duration
}

// DeliveryOption configures an HTTPDeliveryService.
type DeliveryOption func(*HTTPDeliveryService)

// WithMaxDeliveryTries sets the total attempt bound, the first attempt
// included.
func WithMaxDeliveryTries(n uint) DeliveryOption {
	return func(s *HTTPDeliveryService) {
		s.maxTries = n
	}
}

// WithInitialRetryInterval sets the first retry delay.
func WithInitialRetryInterval(d time.Duration) DeliveryOption {
	return func(s *HTTPDeliveryService) {
		s.initialInterval = d
	}
}

// NewHTTPDeliveryService builds the delivery service over the given client.
func NewHTTPDeliveryService(client *networking.Client, opts ...DeliveryOption) *HTTPDeliveryService {
	s := &HTTPDeliveryService{
		client:          client,
		maxTries:        DefaultMaxDeliveryTries,
		initialInterval: DefaultInitialRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts the payload. Any 2xx status is success; 4xx statuses are
// permanent (the endpoint understood and refused), everything else retries
// until the attempt bound.
func (s *HTTPDeliveryService) Send(ctx context.Context, endpoint, bearer string, payload any, mode string) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.initialInterval
	expBackoff.MaxInterval = 60 * s.initialInterval
	expBackoff.Reset()

	operation := func() (struct{}, error) {
		status, err := s.client.PostJSON(ctx, endpoint, bearer, payload)
		if err != nil {
			return struct{}{}, err
		}
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			return struct{}{}, nil
		}
		statusErr := fmt.Errorf("notification endpoint returned status %d", status)
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			return struct{}{}, backoff.Permanent(statusErr)
		}
		return struct{}{}, statusErr
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(_ error, duration time.Duration) {
			logger.Debugf("Retrying %s notification after %v", mode, duration)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", mode, err)
	}
	return nil
}

var _ NotificationDeliveryService = (*HTTPDeliveryService)(nil)
