// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownSection is returned when a wire value names no known protocol
// section.
var ErrUnknownSection = errors.New("unknown consultation section")

// ============================================================================
// WIRE TIMESTAMPS
// ============================================================================

// wireTimeLayouts are the timestamp formats the backend has been observed to
// emit. Serialization middleware rewrites stored ISO timestamps into RFC 1123
// GMT strings, while raw rows keep RFC 3339, so the client accepts both.
var wireTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// WireTime is a timestamp that unmarshals from any layout the backend emits
// and marshals back as RFC 3339.
type WireTime struct {
	time.Time
}

// UnmarshalJSON accepts null, empty, and any known layout.
func (t *WireTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", raw)
}

// MarshalJSON emits RFC 3339, or null for the zero value.
func (t WireTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// ============================================================================
// SESSION RESOURCES
// ============================================================================

// Patient is the server's patient record.
type Patient struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	DOB       string   `json:"dob"`
	MRN       string   `json:"medical_record_number"`
	CreatedAt WireTime `json:"created_at,omitempty"`
	UpdatedAt WireTime `json:"updated_at,omitempty"`
}

// Provider is one entry from the server's provider roster.
type Provider struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
}

// SessionStatus reflects whether a consultation is still accepting turns.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
)

// ConsultationSession is the server-owned session record. The client keeps a
// local copy refreshed from fetches and stream events; the server copy is
// authoritative.
type ConsultationSession struct {
	ID             string        `json:"id"`
	PatientID      string        `json:"patient_id"`
	ProviderID     string        `json:"provider_id"`
	SessionDate    WireTime      `json:"session_date"`
	Status         SessionStatus `json:"status"`
	CurrentSection Section       `json:"current_section"`
	CreatedAt      WireTime      `json:"created_at,omitempty"`
	UpdatedAt      WireTime      `json:"updated_at,omitempty"`
}

// Active reports whether the session still accepts chat turns.
func (s *ConsultationSession) Active() bool {
	return s.Status != StatusCompleted && !s.CurrentSection.Terminal()
}

// ============================================================================
// STRUCTURED SUMMARY
// ============================================================================

// SummarySection is one rendered section of the final structured note.
// Bullet formats carry Items; paragraph format carries Content.
type SummarySection struct {
	Section Section       `json:"section"`
	Title   string        `json:"title"`
	Format  SummaryFormat `json:"format"`
	Items   []string      `json:"items,omitempty"`
	Content string        `json:"content,omitempty"`
}

// Summary is the complete structured note for a finished consultation.
type Summary struct {
	ConsultationID string           `json:"consultation_id"`
	PatientName    string           `json:"patient_name,omitempty"`
	GeneratedAt    WireTime         `json:"generated_at,omitempty"`
	Sections       []SummarySection `json:"sections"`
}
