// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moneyrudh/healio/internal/model"
)

// Reply kinds the backend emits for a document turn.
const (
	TypeSectionTransition = "section_transition"
	TypeFollowUp          = "follow_up"
)

// =============================================================================
// TURN RESULT
// =============================================================================

// TurnDocument is the backend's single-document reply to a chat turn:
// either a section transition or a follow-up prompt in the same section.
type TurnDocument struct {
	Type            string        `json:"type"`
	Message         string        `json:"message"`
	CurrentSection  model.Section `json:"current_section"`
	PreviousSection model.Section `json:"previous_section,omitempty"`
}

// Transition reports whether the document moves the consultation to a new
// section.
func (d *TurnDocument) Transition() bool {
	return d.Type == TypeSectionTransition
}

// TurnResult is the tagged outcome of a chat turn: exactly one of Document
// or Stream is set. Callers branch on the tag instead of sniffing response
// shapes.
type TurnResult struct {
	// Document is the complete reply for transition/follow-up turns.
	Document *TurnDocument

	// Stream is the live event stream for answer turns. The caller owns
	// it and must Close it.
	Stream *EventStream
}

// Streaming reports whether the turn produced a live stream.
func (r *TurnResult) Streaming() bool {
	return r.Stream != nil
}

// chatRequest is the wire shape of a chat turn.
type chatRequest struct {
	ConsultationID string `json:"consultation_id"`
	Message        string `json:"message"`
}

// ChatTurn sends one provider message for the given consultation.
//
// The backend answers either with a JSON document (section transition or
// follow-up) or with a text/event-stream of typed events, flagged by
// Content-Type. The request is sent exactly once - chat turns mutate server
// state and must not be retried. No client timeout is applied; a streaming
// reply lives as long as ctx does.
func (c *Client) ChatTurn(ctx context.Context, consultationID, message string) (*TurnResult, error) {
	bodyBytes, err := json.Marshal(chatRequest{ConsultationID: consultationID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat", nil), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	c.logRequest(req)
	startTime := time.Now()
	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logResponse(resp, time.Since(startTime))

	if resp.StatusCode != http.StatusOK {
		body, readErr := readResponse(resp)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	// The Content-Type distinguishes a document reply from a stream.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return &TurnResult{Stream: NewEventStream(resp.Body)}, nil
	}

	defer resp.Body.Close()
	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var doc TurnDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &TurnResult{Document: &doc}, nil
}

// =============================================================================
// CHAT HISTORY
// =============================================================================

// wireMessage is the backend's stored chat message row. The message field is
// duck-typed on the wire: a plain string or an object with an answer and
// sources. It is resolved into the tagged content variant here, once, at
// ingestion.
type wireMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"consultation_session_id"`
	Sender    string          `json:"sender"`
	Message   json.RawMessage `json:"message"`
	Section   model.Section   `json:"section"`
	Timestamp model.WireTime  `json:"timestamp"`
}

// toModel converts a stored row into a settled transcript message.
func (w *wireMessage) toModel() *model.ChatMessage {
	sender := model.Sender(w.Sender)
	if sender != model.SenderProvider && sender != model.SenderAI {
		sender = model.SenderAI
	}
	return &model.ChatMessage{
		ID:        w.ID,
		SessionID: w.SessionID,
		Sender:    sender,
		Content:   resolveContent(w.Message),
		Section:   w.Section,
		Timestamp: w.Timestamp.Time,
	}
}

// resolveContent maps a duck-typed wire message body onto the tagged
// MessageContent variant. Unrecognized shapes degrade to their raw text so
// hydration never fails on one odd row.
func resolveContent(raw json.RawMessage) model.MessageContent {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return model.TextContent("")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return model.TextContent(text)
	}

	var rag struct {
		Answer  string       `json:"answer"`
		Sources []wireSource `json:"sources"`
	}
	if err := json.Unmarshal(raw, &rag); err == nil && rag.Answer != "" {
		return model.RAGContent(rag.Answer, toSources(rag.Sources))
	}

	return model.TextContent(string(raw))
}

// ChatHistory returns the ordered transcript for a consultation as stored by
// the backend, oldest first.
func (c *Client) ChatHistory(ctx context.Context, consultationID string) ([]*model.ChatMessage, error) {
	query := url.Values{"consultation_id": {consultationID}}

	var rows []wireMessage
	if err := c.getJSON(ctx, "/api/chat/history", query, &rows); err != nil {
		return nil, err
	}

	messages := make([]*model.ChatMessage, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toModel())
	}
	return messages, nil
}
