// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"

	"github.com/moneyrudh/healio/internal/model"
)

// Health is the backend's health report.
type Health struct {
	Status    string         `json:"status"`
	Timestamp model.WireTime `json:"timestamp,omitempty"`
}

// Healthy reports whether the backend considers itself operational.
func (h *Health) Healthy() bool {
	return h.Status == "healthy"
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
