// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moneyrudh/healio/internal/model"
)

// =============================================================================
// PATIENT ENDPOINT TESTS
// =============================================================================

func TestListPatientsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "25" || q.Get("offset") != "50" {
			t.Errorf("pagination params = limit=%s offset=%s", q.Get("limit"), q.Get("offset"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": "p1", "name": "Ada Lovelace", "dob": "1815-12-10", "medical_record_number": "MRN-001"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	patients, err := client.ListPatients(context.Background(), 25, 50)
	if err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
	if len(patients) != 1 {
		t.Fatalf("len(patients) = %d", len(patients))
	}
	if patients[0].MRN != "MRN-001" {
		t.Errorf("MRN = %q", patients[0].MRN)
	}
}

func TestListPatientsDefaultLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %s, expected backend default 100", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if _, err := client.ListPatients(context.Background(), 0, -1); err != nil {
		t.Fatalf("ListPatients: %v", err)
	}
}

func TestGetPatientByMRN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("mrn"); got != "MRN-042" {
			t.Errorf("mrn = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "p42", "name": "Grace Hopper", "dob": "1906-12-09", "medical_record_number": "MRN-042"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	patient, err := client.GetPatientByMRN(context.Background(), "MRN-042")
	if err != nil {
		t.Fatalf("GetPatientByMRN: %v", err)
	}
	if patient.ID != "p42" {
		t.Errorf("ID = %q", patient.ID)
	}
}

func TestCreatePatient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req CreatePatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Name != "Ada Lovelace" || req.DOB != "1815-12-10" {
			t.Errorf("payload = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "p-new", "name": "Ada Lovelace", "dob": "1815-12-10", "medical_record_number": "MRN-777"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	patient, err := client.CreatePatient(context.Background(), CreatePatientRequest{
		Name: "Ada Lovelace",
		DOB:  "1815-12-10",
	})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if patient.ID != "p-new" || patient.MRN != "MRN-777" {
		t.Errorf("created patient = %+v", patient)
	}
}

func TestCreatePatientValidation(t *testing.T) {
	client := NewClient("http://example.invalid")

	tests := []struct {
		name string
		req  CreatePatientRequest
	}{
		{name: "missing name", req: CreatePatientRequest{DOB: "1990-01-01"}},
		{name: "blank name", req: CreatePatientRequest{Name: "   ", DOB: "1990-01-01"}},
		{name: "missing dob", req: CreatePatientRequest{Name: "Someone"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.CreatePatient(context.Background(), tc.req)
			if !errors.Is(err, ErrBadRequest) {
				t.Errorf("expected ErrBadRequest before any request, got %v", err)
			}
		})
	}
}

// =============================================================================
// CONSULTATION ENDPOINT TESTS
// =============================================================================

func TestCreateConsultation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.PatientID != "p1" || req.ProviderID != "dr1" {
			t.Errorf("payload = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"consultation": {
				"id": "c-new",
				"patient_id": "p1",
				"provider_id": "dr1",
				"status": "in_progress",
				"current_section": "chief_complaint",
				"session_date": "2025-03-02T09:00:00Z"
			},
			"initial_message": "What brings the patient in today?"
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	created, err := client.CreateConsultation(context.Background(), "p1", "dr1")
	if err != nil {
		t.Fatalf("CreateConsultation: %v", err)
	}
	if created.Session.ID != "c-new" {
		t.Errorf("session id = %q", created.Session.ID)
	}
	if created.Session.CurrentSection != model.FirstSection() {
		t.Errorf("section = %q, expected first section", created.Session.CurrentSection)
	}
	if !created.Session.Active() {
		t.Error("new session should be active")
	}
	if created.InitialMessage == "" {
		t.Error("initial message missing")
	}
}

func TestListConsultations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("patient_id"); got != "p1" {
			t.Errorf("patient_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "c2", "patient_id": "p1", "status": "in_progress", "current_section": "plan"},
			{"id": "c1", "patient_id": "p1", "status": "completed", "current_section": "complete"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	sessions, err := client.ListConsultations(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListConsultations: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d", len(sessions))
	}
	if !sessions[0].Active() {
		t.Error("in-progress session should be active")
	}
	if sessions[1].Active() {
		t.Error("completed session should not be active")
	}
}

func TestGetConsultationNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Consultation not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.GetConsultation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
