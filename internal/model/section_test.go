// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"testing"
)

func TestSectionOrder(t *testing.T) {
	if len(SectionOrder) != 12 {
		t.Fatalf("expected 12 sections, got %d", len(SectionOrder))
	}
	if SectionOrder[0] != SectionChiefComplaint {
		t.Errorf("first section = %s, want %s", SectionOrder[0], SectionChiefComplaint)
	}
	if SectionOrder[len(SectionOrder)-1] != SectionComplete {
		t.Errorf("last section = %s, want %s", SectionOrder[len(SectionOrder)-1], SectionComplete)
	}
	for i, s := range SectionOrder {
		if s.Index() != i {
			t.Errorf("section %s index = %d, want %d", s, s.Index(), i)
		}
		if !s.Valid() {
			t.Errorf("section %s reported invalid", s)
		}
	}
}

func TestSectionNext(t *testing.T) {
	if next := SectionChiefComplaint.Next(); next != SectionHistory {
		t.Errorf("Next(chief_complaint) = %s, want %s", next, SectionHistory)
	}
	if next := SectionNotes.Next(); next != SectionComplete {
		t.Errorf("Next(notes) = %s, want %s", next, SectionComplete)
	}
	if next := SectionComplete.Next(); next != SectionComplete {
		t.Errorf("Next(complete) = %s, want complete (terminal)", next)
	}
	if next := Section("bogus").Next(); next != Section("bogus") {
		t.Errorf("Next(bogus) = %s, want bogus unchanged", next)
	}
}

func TestParseSection(t *testing.T) {
	s, err := ParseSection("vital_signs")
	if err != nil {
		t.Fatalf("ParseSection(vital_signs) error: %v", err)
	}
	if s != SectionVitalSigns {
		t.Errorf("parsed %s, want vital_signs", s)
	}

	_, err = ParseSection("biometrics")
	if err == nil {
		t.Fatal("expected error for unknown section")
	}
	if !errors.Is(err, ErrUnknownSection) {
		t.Errorf("error = %v, want ErrUnknownSection", err)
	}
}

func TestSectionTerminal(t *testing.T) {
	if SectionChiefComplaint.Terminal() {
		t.Error("chief_complaint should not be terminal")
	}
	if !SectionComplete.Terminal() {
		t.Error("complete should be terminal")
	}
}

func TestSectionUnknownTitle(t *testing.T) {
	if got := Section("future_section").Title(); got != "future_section" {
		t.Errorf("unknown section title = %q, want raw value", got)
	}
	if got := Section("future_section").Index(); got != -1 {
		t.Errorf("unknown section index = %d, want -1", got)
	}
}

func TestSectionFormat(t *testing.T) {
	tests := []struct {
		section Section
		want    SummaryFormat
	}{
		{SectionChiefComplaint, FormatNumberedBullet},
		{SectionAssessment, FormatNumberedBullet},
		{SectionPlan, FormatNumberedBullet},
		{SectionMedications, FormatNumberedBullet},
		{SectionVitalSigns, FormatBullet},
		{SectionPhysical, FormatBullet},
		{SectionObjective, FormatBullet},
		{SectionHistory, FormatParagraph},
		{SectionSubjective, FormatParagraph},
		{SectionNotes, FormatParagraph},
		{SectionDoubts, FormatParagraph},
	}
	for _, tt := range tests {
		if got := tt.section.Format(); got != tt.want {
			t.Errorf("Format(%s) = %s, want %s", tt.section, got, tt.want)
		}
	}
}

func TestSectionTracker(t *testing.T) {
	tracker := NewSectionTracker()
	if tracker.Current() != SectionChiefComplaint {
		t.Fatalf("new tracker at %s, want chief_complaint", tracker.Current())
	}

	if !tracker.Set(SectionHistory) {
		t.Error("Set to new section should report a change")
	}
	if tracker.Set(SectionHistory) {
		t.Error("Set to same section should be a no-op")
	}
	if tracker.Current() != SectionHistory {
		t.Errorf("tracker at %s, want history", tracker.Current())
	}

	// Backward moves are applied; the server is authoritative.
	if !tracker.Set(SectionChiefComplaint) {
		t.Error("backward Set should still report a change")
	}
	if tracker.Current() != SectionChiefComplaint {
		t.Errorf("tracker at %s after backward move, want chief_complaint", tracker.Current())
	}

	tracker.Set(SectionComplete)
	if !tracker.Complete() {
		t.Error("tracker should report complete at terminal section")
	}

	tracker.Reset()
	if tracker.Current() != SectionChiefComplaint {
		t.Errorf("tracker at %s after reset, want chief_complaint", tracker.Current())
	}
	if tracker.Complete() {
		t.Error("reset tracker should not be complete")
	}
}
