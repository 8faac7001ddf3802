// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"log"
	"sync"
)

// ============================================================================
// CONSULTATION SECTIONS
// ============================================================================

// Section identifies one stage of the consultation protocol. Values match
// the wire format used by the server in session payloads and stream events.
type Section string

const (
	SectionChiefComplaint Section = "chief_complaint"
	SectionHistory        Section = "history"
	SectionSubjective     Section = "subjective"
	SectionVitalSigns     Section = "vital_signs"
	SectionPhysical       Section = "physical"
	SectionObjective      Section = "objective"
	SectionAssessment     Section = "assessment"
	SectionPlan           Section = "plan"
	SectionDoubts         Section = "doubts"
	SectionMedications    Section = "medications"
	SectionNotes          Section = "notes"
	SectionComplete       Section = "complete"
)

// SectionOrder is the canonical protocol order. The server walks this list
// front to back; "complete" is terminal and accepts no further input.
var SectionOrder = []Section{
	SectionChiefComplaint,
	SectionHistory,
	SectionSubjective,
	SectionVitalSigns,
	SectionPhysical,
	SectionObjective,
	SectionAssessment,
	SectionPlan,
	SectionDoubts,
	SectionMedications,
	SectionNotes,
	SectionComplete,
}

// sectionIndex maps each section to its position in SectionOrder.
var sectionIndex = func() map[Section]int {
	m := make(map[Section]int, len(SectionOrder))
	for i, s := range SectionOrder {
		m[s] = i
	}
	return m
}()

// sectionTitles are the human-readable display names, keyed by wire value.
var sectionTitles = map[Section]string{
	SectionChiefComplaint: "Chief Complaint",
	SectionHistory:        "History of Present Illness",
	SectionSubjective:     "Subjective",
	SectionVitalSigns:     "Vital Signs",
	SectionPhysical:       "Physical Examination",
	SectionObjective:      "Objective",
	SectionAssessment:     "Assessment",
	SectionPlan:           "Plan",
	SectionDoubts:         "Doubts",
	SectionMedications:    "Medications",
	SectionNotes:          "Additional Notes",
	SectionComplete:       "Complete",
}

// FirstSection returns the section every new consultation starts in.
func FirstSection() Section { return SectionChiefComplaint }

// Valid reports whether s is a known protocol section.
func (s Section) Valid() bool {
	_, ok := sectionIndex[s]
	return ok
}

// Terminal reports whether the consultation is finished once s is reached.
func (s Section) Terminal() bool { return s == SectionComplete }

// Index returns the position of s in the protocol order, or -1 for unknown
// sections so callers can detect drift without a second lookup.
func (s Section) Index() int {
	i, ok := sectionIndex[s]
	if !ok {
		return -1
	}
	return i
}

// Title returns the display name for s. Unknown sections fall back to the
// raw wire value so a newer server never renders as an empty string.
func (s Section) Title() string {
	if t, ok := sectionTitles[s]; ok {
		return t
	}
	return string(s)
}

// Next returns the section after s in protocol order. The terminal section
// and unknown sections return themselves.
func (s Section) Next() Section {
	i, ok := sectionIndex[s]
	if !ok || i+1 >= len(SectionOrder) {
		return s
	}
	return SectionOrder[i+1]
}

// ParseSection validates a raw wire value. Unknown values return
// ErrUnknownSection wrapped with the offending input.
func ParseSection(raw string) (Section, error) {
	s := Section(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSection, raw)
	}
	return s, nil
}

// ============================================================================
// SUMMARY FORMATS
// ============================================================================

// SummaryFormat describes how a section's content is rendered in the
// structured note.
type SummaryFormat string

const (
	FormatNumberedBullet SummaryFormat = "numbered_bullet"
	FormatBullet         SummaryFormat = "bullet"
	FormatParagraph      SummaryFormat = "paragraph"
)

// sectionFormats mirrors the server's rendering table. Sections without an
// entry render as paragraphs.
var sectionFormats = map[Section]SummaryFormat{
	SectionChiefComplaint: FormatNumberedBullet,
	SectionHistory:        FormatParagraph,
	SectionSubjective:     FormatParagraph,
	SectionVitalSigns:     FormatBullet,
	SectionPhysical:       FormatBullet,
	SectionObjective:      FormatBullet,
	SectionAssessment:     FormatNumberedBullet,
	SectionPlan:           FormatNumberedBullet,
	SectionMedications:    FormatNumberedBullet,
	SectionNotes:          FormatParagraph,
}

// Format returns the note rendering style for s.
func (s Section) Format() SummaryFormat {
	if f, ok := sectionFormats[s]; ok {
		return f
	}
	return FormatParagraph
}

// ============================================================================
// SECTION TRACKER
// ============================================================================

// SectionTracker holds the client's view of the current protocol section.
// The server owns the real cursor; the tracker just mirrors what the last
// event or session fetch reported. Safe for concurrent use.
type SectionTracker struct {
	mu      sync.Mutex
	current Section
}

// NewSectionTracker starts at the first protocol section.
func NewSectionTracker() *SectionTracker {
	return &SectionTracker{current: FirstSection()}
}

// Current returns the tracked section.
func (t *SectionTracker) Current() Section {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Set moves the tracker to s and reports whether anything changed. Setting
// the current section again is a no-op. Backward moves are applied as given
// (the server is authoritative) but logged, since they normally indicate a
// stale client or a server-side correction.
func (t *SectionTracker) Set(s Section) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == t.current {
		return false
	}
	if ni, ci := s.Index(), t.current.Index(); ni >= 0 && ci >= 0 && ni < ci {
		log.Printf("section tracker: backward transition %s -> %s", t.current, s)
	}
	t.current = s
	return true
}

// Complete reports whether the tracker has reached the terminal section.
func (t *SectionTracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Terminal()
}

// Reset returns the tracker to the first protocol section.
func (t *SectionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = FirstSection()
}
