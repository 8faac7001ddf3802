// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moneyrudh/healio/internal/model"
)

// =============================================================================
// CHAT TURN TESTS
// =============================================================================

func TestChatTurnDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ConsultationID != "c-1" || req.Message != "Patient reports chest pain." {
			t.Errorf("unexpected request payload: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"type": "section_transition",
			"message": "Let's move to history.",
			"previous_section": "chief_complaint",
			"current_section": "history"
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	result, err := client.ChatTurn(context.Background(), "c-1", "Patient reports chest pain.")
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if result.Streaming() {
		t.Fatal("expected document result, got stream")
	}

	doc := result.Document
	if doc == nil {
		t.Fatal("Document is nil")
	}
	if !doc.Transition() {
		t.Errorf("Transition() = false for type %q", doc.Type)
	}
	if doc.CurrentSection != model.SectionHistory {
		t.Errorf("CurrentSection = %q, expected history", doc.CurrentSection)
	}
	if doc.PreviousSection != model.SectionChiefComplaint {
		t.Errorf("PreviousSection = %q, expected chief_complaint", doc.PreviousSection)
	}
}

func TestChatTurnStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`data: {"type": "start", "current_section": "doubts"}`,
			`data: {"type": "text", "content": "Aspirin "}`,
			`data: {"type": "text", "content": "is indicated."}`,
			`data: {"type": "end"}`,
		} {
			io.WriteString(w, frame+"\n\n")
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)

	result, err := client.ChatTurn(context.Background(), "c-1", "Is aspirin indicated?")
	if err != nil {
		t.Fatalf("ChatTurn: %v", err)
	}
	if !result.Streaming() {
		t.Fatal("expected stream result, got document")
	}
	defer result.Stream.Close()

	var content string
	var sawEnd bool
	for {
		ev, err := result.Stream.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		switch ev.Kind {
		case EventText:
			content += ev.Content
		case EventEnd:
			sawEnd = true
		}
		if sawEnd {
			break
		}
	}

	if content != "Aspirin is indicated." {
		t.Errorf("accumulated content = %q", content)
	}
	if !sawEnd {
		t.Error("stream never delivered end event")
	}
}

func TestChatTurnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "Message is required"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.ChatTurn(context.Background(), "c-1", "")
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

// =============================================================================
// CHAT HISTORY TESTS
// =============================================================================

func TestChatHistoryContentResolution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("consultation_id"); got != "c-9" {
			t.Errorf("consultation_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"id": "m1",
				"consultation_session_id": "c-9",
				"sender": "ai",
				"message": "What brings the patient in today?",
				"section": "chief_complaint",
				"timestamp": "2025-03-02T10:00:00Z"
			},
			{
				"id": "m2",
				"consultation_session_id": "c-9",
				"sender": "provider",
				"message": "Severe headache for two days.",
				"section": "chief_complaint",
				"timestamp": "2025-03-02T10:01:00"
			},
			{
				"id": "m3",
				"consultation_session_id": "c-9",
				"sender": "ai",
				"message": {"answer": "Migraine with aura is most likely.", "sources": [{"id": "s1", "title": "Headache Review"}]},
				"section": "doubts",
				"timestamp": "2025-03-02T10:05:00Z"
			}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	history, err := client.ChatHistory(context.Background(), "c-9")
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, expected 3", len(history))
	}

	if history[0].Sender != model.SenderAI || history[0].Content.Kind != model.ContentText {
		t.Errorf("message 1: sender=%q kind=%q", history[0].Sender, history[0].Content.Kind)
	}
	if history[1].Sender != model.SenderProvider {
		t.Errorf("message 2 sender = %q", history[1].Sender)
	}
	if history[1].Content.Text != "Severe headache for two days." {
		t.Errorf("message 2 text = %q", history[1].Content.Text)
	}

	// The RAG row resolves to the tagged variant with its sources
	rag := history[2]
	if rag.Content.Kind != model.ContentRAG {
		t.Fatalf("message 3 kind = %q, expected rag", rag.Content.Kind)
	}
	if rag.Content.Text != "Migraine with aura is most likely." {
		t.Errorf("message 3 text = %q", rag.Content.Text)
	}
	if len(rag.Content.Sources) != 1 || rag.Content.Sources[0].Title != "Headache Review" {
		t.Errorf("message 3 sources = %+v", rag.Content.Sources)
	}
}

func TestChatHistoryToleratesOddRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Unknown sender and an unrecognized message shape must not fail
		// hydration
		w.Write([]byte(`[
			{
				"id": "m1",
				"consultation_session_id": "c-9",
				"sender": "system",
				"message": {"note": "unrecognized shape"},
				"section": "notes",
				"timestamp": "2025-03-02T10:00:00Z"
			}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	history, err := client.ChatHistory(context.Background(), "c-9")
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, expected 1", len(history))
	}
	if history[0].Sender != model.SenderAI {
		t.Errorf("unknown sender should default to ai, got %q", history[0].Sender)
	}
	if history[0].Content.Kind != model.ContentText || history[0].Content.Text == "" {
		t.Errorf("odd shape should degrade to raw text, got %+v", history[0].Content)
	}
}
