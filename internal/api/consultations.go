// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/moneyrudh/healio/internal/model"
)

// NewConsultation is the backend's reply to a consultation creation: the
// stored session plus the assistant's opening prompt for the first section.
type NewConsultation struct {
	Session        model.ConsultationSession `json:"consultation"`
	InitialMessage string                    `json:"initial_message"`
}

// createConsultationRequest is the wire shape of a session creation.
type createConsultationRequest struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
}

// GetConsultation fetches a consultation session by id.
func (c *Client) GetConsultation(ctx context.Context, id string) (*model.ConsultationSession, error) {
	query := url.Values{"id": {id}}

	var session model.ConsultationSession
	if err := c.getJSON(ctx, "/api/consultations", query, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListConsultations returns a patient's consultations, newest first.
func (c *Client) ListConsultations(ctx context.Context, patientID string) ([]model.ConsultationSession, error) {
	query := url.Values{"patient_id": {patientID}}

	var sessions []model.ConsultationSession
	if err := c.getJSON(ctx, "/api/consultations", query, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateConsultation opens a new consultation session for the given patient
// and provider. The backend seeds the session at the first section and
// returns the assistant's opening prompt alongside the stored record.
func (c *Client) CreateConsultation(ctx context.Context, patientID, providerID string) (*NewConsultation, error) {
	req := createConsultationRequest{PatientID: patientID, ProviderID: providerID}

	var created NewConsultation
	if err := c.postJSON(ctx, "/api/consultations", &req, &created, http.StatusCreated); err != nil {
		return nil, err
	}
	return &created, nil
}
