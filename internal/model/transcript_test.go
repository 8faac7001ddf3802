// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"testing"
)

func TestMessageContentVariants(t *testing.T) {
	text := TextContent("blood pressure is elevated")
	if text.Kind != ContentText {
		t.Errorf("kind = %s, want text", text.Kind)
	}
	if len(text.Sources) != 0 {
		t.Error("plain text content should carry no sources")
	}

	sources := []Source{{Title: "Hypertension management", PMCID: "PMC123", Authors: "Smith J"}}
	rag := RAGContent("per recent guidance", sources)
	if rag.Kind != ContentRAG {
		t.Errorf("kind = %s, want rag", rag.Kind)
	}
	if len(rag.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(rag.Sources))
	}

	// Empty source list degrades to plain text.
	degraded := RAGContent("no citations found", nil)
	if degraded.Kind != ContentText {
		t.Errorf("kind = %s, want text when no sources", degraded.Kind)
	}
}

func TestLocalMessageID(t *testing.T) {
	id := LocalMessageID()
	if !strings.HasPrefix(id, "local-") {
		t.Errorf("id %q missing local- prefix", id)
	}
	if id == LocalMessageID() {
		t.Error("two local ids should not collide")
	}
}

func TestPlaceholderLifecycle(t *testing.T) {
	m := NewPlaceholder("sess-1", SectionHistory)
	if !m.Open() {
		t.Fatal("new placeholder should be open")
	}
	if !m.Local() {
		t.Error("placeholder should carry a local id")
	}

	m.AppendDelta("The patient ")
	m.AppendDelta("reports chest pain.")
	if got := m.DisplayText(); got != "The patient reports chest pain." {
		t.Errorf("DisplayText = %q", got)
	}
	// Deltas buffer until finalize.
	if m.Content.Text != "" {
		t.Errorf("Content.Text flushed early: %q", m.Content.Text)
	}

	m.Finalize()
	if m.Open() {
		t.Error("finalized message should be closed")
	}
	if m.Content.Text != "The patient reports chest pain." {
		t.Errorf("Content.Text = %q after finalize", m.Content.Text)
	}

	// Mutation after finalize is ignored.
	m.AppendDelta(" MORE")
	m.Replace(RAGContent("late", []Source{{Title: "late"}}))
	m.Finalize()
	if m.DisplayText() != "The patient reports chest pain." {
		t.Errorf("text mutated after finalize: %q", m.DisplayText())
	}
	if len(m.Content.Sources) != 0 {
		t.Errorf("sources mutated after finalize: %d", len(m.Content.Sources))
	}
}

func TestPlaceholderReplace(t *testing.T) {
	m := NewPlaceholder("sess-1", SectionAssessment)
	m.AppendDelta("partial answer that ")
	m.AppendDelta("will be superseded")

	m.Replace(RAGContent("Evidence suggests viral etiology.", []Source{
		{Title: "Chest pain triage", PMCID: "PMC99"},
	}))
	m.Finalize()

	// No pre-replacement text survives.
	if m.Content.Text != "Evidence suggests viral etiology." {
		t.Errorf("Content.Text = %q after replace", m.Content.Text)
	}
	if m.Content.Kind != ContentRAG {
		t.Errorf("kind = %s after replace, want rag", m.Content.Kind)
	}
	if len(m.Content.Sources) != 1 || m.Content.Sources[0].PMCID != "PMC99" {
		t.Errorf("sources = %+v after replace", m.Content.Sources)
	}
}

func TestTranscriptAppendOrder(t *testing.T) {
	tr := NewTranscript()
	tr.Append(NewProviderMessage("sess-1", "first", SectionChiefComplaint))
	tr.Append(NewAIMessage("sess-1", TextContent("second"), SectionChiefComplaint))
	tr.Append(NewProviderMessage("sess-1", "third", SectionHistory))

	msgs := tr.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content.Text != want {
			t.Errorf("messages[%d] = %q, want %q", i, msgs[i].Content.Text, want)
		}
	}
	if tr.Last().Content.Text != "third" {
		t.Errorf("Last = %q, want third", tr.Last().Content.Text)
	}
}

func TestTranscriptSinglePlaceholder(t *testing.T) {
	tr := NewTranscript()
	if tr.HasOpenPlaceholder() {
		t.Fatal("empty transcript should have no placeholder")
	}

	_, err := tr.OpenPlaceholder("sess-1", SectionPlan)
	if err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}
	if !tr.HasOpenPlaceholder() {
		t.Fatal("placeholder not tracked")
	}

	_, err = tr.OpenPlaceholder("sess-1", SectionPlan)
	if !errors.Is(err, ErrPlaceholderOpen) {
		t.Errorf("second open error = %v, want ErrPlaceholderOpen", err)
	}

	if err := tr.AppendDelta("Continue current "); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	if err := tr.AppendDelta("medications."); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}

	m, err := tr.FinalizePlaceholder()
	if err != nil {
		t.Fatalf("FinalizePlaceholder: %v", err)
	}
	if m.Content.Text != "Continue current medications." {
		t.Errorf("finalized text = %q", m.Content.Text)
	}
	if tr.HasOpenPlaceholder() {
		t.Error("placeholder still tracked after finalize")
	}

	// Placeholder operations without an open placeholder fail cleanly.
	if err := tr.AppendDelta("x"); !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("AppendDelta error = %v, want ErrNoPlaceholder", err)
	}
	if _, err := tr.FinalizePlaceholder(); !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("FinalizePlaceholder error = %v, want ErrNoPlaceholder", err)
	}
	if err := tr.ReplacePlaceholder(TextContent("x")); !errors.Is(err, ErrNoPlaceholder) {
		t.Errorf("ReplacePlaceholder error = %v, want ErrNoPlaceholder", err)
	}
}

func TestTranscriptDiscardPlaceholder(t *testing.T) {
	tr := NewTranscript()
	tr.Append(NewProviderMessage("sess-1", "hello", SectionChiefComplaint))
	if _, err := tr.OpenPlaceholder("sess-1", SectionChiefComplaint); err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}
	if tr.Len() != 2 {
		t.Fatalf("len = %d, want 2", tr.Len())
	}

	tr.DiscardPlaceholder()
	if tr.Len() != 1 {
		t.Errorf("len = %d after discard, want 1", tr.Len())
	}
	if tr.HasOpenPlaceholder() {
		t.Error("placeholder still tracked after discard")
	}

	// Discard with nothing open is a no-op.
	tr.DiscardPlaceholder()
	if tr.Len() != 1 {
		t.Errorf("len = %d after second discard, want 1", tr.Len())
	}
}

func TestTranscriptSettlePlaceholder(t *testing.T) {
	// Empty placeholder is dropped, not settled.
	tr := NewTranscript()
	if _, err := tr.OpenPlaceholder("sess-1", SectionChiefComplaint); err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}
	if m := tr.SettlePlaceholder(); m != nil {
		t.Errorf("empty placeholder settled as %+v, want dropped", m)
	}
	if tr.Len() != 0 {
		t.Errorf("len = %d after settling empty placeholder, want 0", tr.Len())
	}

	// Placeholder with content is finalized in place.
	if _, err := tr.OpenPlaceholder("sess-1", SectionChiefComplaint); err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}
	if err := tr.AppendDelta("partial reply"); err != nil {
		t.Fatalf("AppendDelta: %v", err)
	}
	m := tr.SettlePlaceholder()
	if m == nil {
		t.Fatal("placeholder with content should settle")
	}
	if m.Open() {
		t.Error("settled message should be closed")
	}
	if m.Content.Text != "partial reply" {
		t.Errorf("settled text = %q", m.Content.Text)
	}
	if tr.Len() != 1 {
		t.Errorf("len = %d after settle, want 1", tr.Len())
	}

	// Settle with nothing open is a no-op.
	if m := tr.SettlePlaceholder(); m != nil {
		t.Errorf("second settle returned %+v, want nil", m)
	}
}

func TestTranscriptRetagPlaceholder(t *testing.T) {
	tr := NewTranscript()
	// No-op without a placeholder.
	tr.RetagPlaceholder(SectionHistory)

	m, err := tr.OpenPlaceholder("sess-1", SectionChiefComplaint)
	if err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}
	tr.RetagPlaceholder(SectionHistory)
	if m.Section != SectionHistory {
		t.Errorf("section = %s after retag, want history", m.Section)
	}
}

func TestTranscriptHydrate(t *testing.T) {
	tr := NewTranscript()
	tr.Append(NewProviderMessage("sess-1", "stale", SectionChiefComplaint))
	if _, err := tr.OpenPlaceholder("sess-1", SectionChiefComplaint); err != nil {
		t.Fatalf("OpenPlaceholder: %v", err)
	}

	history := []*ChatMessage{
		NewAIMessage("sess-1", TextContent("What is the chief complaint of the patient?"), SectionChiefComplaint),
		NewProviderMessage("sess-1", "Severe headache for two days", SectionChiefComplaint),
	}
	tr.Hydrate(history)

	if tr.Len() != 2 {
		t.Fatalf("len = %d after hydrate, want 2", tr.Len())
	}
	if tr.HasOpenPlaceholder() {
		t.Error("hydrate should settle any open placeholder")
	}
	if tr.Messages()[0].Sender != SenderAI {
		t.Errorf("first hydrated sender = %s, want ai", tr.Messages()[0].Sender)
	}

	tr.Clear()
	if tr.Len() != 0 {
		t.Errorf("len = %d after clear, want 0", tr.Len())
	}
	if tr.Last() != nil {
		t.Error("Last should be nil after clear")
	}
}
