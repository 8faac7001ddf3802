// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/moneyrudh/healio/internal/model"
)

// DefaultPatientPageSize matches the backend's pagination default.
const DefaultPatientPageSize = 100

// CreatePatientRequest is the payload for registering a patient. Name and
// DOB are required; the backend assigns the id and medical record number.
type CreatePatientRequest struct {
	Name string `json:"name"`
	DOB  string `json:"dob"`

	// OtherInfo is merged into the patient record as extra columns.
	OtherInfo map[string]any `json:"other_info,omitempty"`
}

// Validate checks the request client-side so obviously bad input never
// reaches the wire.
func (r *CreatePatientRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: patient name is required", ErrBadRequest)
	}
	if strings.TrimSpace(r.DOB) == "" {
		return fmt.Errorf("%w: date of birth is required", ErrBadRequest)
	}
	return nil
}

// ListPatients returns a page of patients. A limit of zero or less uses the
// backend default page size.
func (c *Client) ListPatients(ctx context.Context, limit, offset int) ([]model.Patient, error) {
	if limit <= 0 {
		limit = DefaultPatientPageSize
	}
	if offset < 0 {
		offset = 0
	}
	query := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}

	var patients []model.Patient
	if err := c.getJSON(ctx, "/api/patients", query, &patients); err != nil {
		return nil, err
	}
	return patients, nil
}

// GetPatient fetches a patient by id.
func (c *Client) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	query := url.Values{"id": {id}}

	var patient model.Patient
	if err := c.getJSON(ctx, "/api/patients", query, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// GetPatientByMRN fetches a patient by medical record number.
func (c *Client) GetPatientByMRN(ctx context.Context, mrn string) (*model.Patient, error) {
	query := url.Values{"mrn": {mrn}}

	var patient model.Patient
	if err := c.getJSON(ctx, "/api/patients", query, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// CreatePatient registers a new patient and returns the stored record.
func (c *Client) CreatePatient(ctx context.Context, req CreatePatientRequest) (*model.Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var patient model.Patient
	if err := c.postJSON(ctx, "/api/patients", &req, &patient, http.StatusCreated); err != nil {
		return nil, err
	}
	return &patient, nil
}
