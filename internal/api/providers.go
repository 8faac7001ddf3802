// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"

	"github.com/moneyrudh/healio/internal/model"
)

// ListProviders returns the backend's provider roster.
func (c *Client) ListProviders(ctx context.Context) ([]model.Provider, error) {
	var providers []model.Provider
	if err := c.getJSON(ctx, "/api/providers", nil, &providers); err != nil {
		return nil, err
	}
	return providers, nil
}
