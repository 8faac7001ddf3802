// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// SENDERS AND CONTENT
// ============================================================================

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderProvider Sender = "provider"
	SenderAI       Sender = "ai"
)

// ContentKind discriminates the message content variant.
type ContentKind string

const (
	// ContentText is plain assistant or provider text.
	ContentText ContentKind = "text"
	// ContentRAG is assistant text backed by retrieved literature sources.
	ContentRAG ContentKind = "rag"
)

// Source is one piece of cited evidence attached to a retrieval-backed
// message.
type Source struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	PMCID   string `json:"pmcid,omitempty"`
	Authors string `json:"authors,omitempty"`
}

// MessageContent is the tagged content variant carried by a ChatMessage.
// Provider messages are always plain text; only AI messages may carry
// sources.
type MessageContent struct {
	Kind    ContentKind `json:"kind"`
	Text    string      `json:"text"`
	Sources []Source    `json:"sources,omitempty"`
}

// TextContent wraps plain text.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// RAGContent wraps text with its supporting sources. An empty source list
// degrades to plain text so downstream rendering never shows an empty
// citation block.
func RAGContent(text string, sources []Source) MessageContent {
	if len(sources) == 0 {
		return TextContent(text)
	}
	return MessageContent{Kind: ContentRAG, Text: text, Sources: sources}
}

// ============================================================================
// CHAT MESSAGES
// ============================================================================

// ChatMessage is one entry in a consultation transcript.
//
// Messages created locally (the optimistic provider echo and the streaming
// placeholder) carry a "local-" prefixed identity until the server confirms
// or replaces them. The one open placeholder per transcript is the only
// message ever mutated in place; everything else is append-only.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"consultation_id"`
	Sender    Sender         `json:"sender"`
	Content   MessageContent `json:"content"`
	Section   Section        `json:"section"`
	Timestamp time.Time      `json:"timestamp"`

	// open marks the streaming placeholder still receiving deltas.
	open bool
	// buf coalesces streamed deltas without rebuilding Content.Text on
	// every frame. Flushed by flush().
	buf strings.Builder
}

// LocalMessageID mints an identity for a message that exists only on the
// client so far. The prefix keeps local ids recognizable in logs and
// guarantees no collision with server-issued ids.
func LocalMessageID() string {
	return "local-" + uuid.NewString()
}

// NewProviderMessage builds the optimistic local echo of a provider turn.
func NewProviderMessage(sessionID, text string, section Section) *ChatMessage {
	return &ChatMessage{
		ID:        LocalMessageID(),
		SessionID: sessionID,
		Sender:    SenderProvider,
		Content:   TextContent(text),
		Section:   section,
		Timestamp: time.Now(),
	}
}

// NewAIMessage builds a complete assistant message, as received from a JSON
// turn result or a history fetch.
func NewAIMessage(sessionID string, content MessageContent, section Section) *ChatMessage {
	return &ChatMessage{
		ID:        LocalMessageID(),
		SessionID: sessionID,
		Sender:    SenderAI,
		Content:   content,
		Section:   section,
		Timestamp: time.Now(),
	}
}

// NewPlaceholder builds the mutable assistant message that accumulates a
// streamed turn. It stays open until Finalize.
func NewPlaceholder(sessionID string, section Section) *ChatMessage {
	m := NewAIMessage(sessionID, TextContent(""), section)
	m.open = true
	return m
}

// Open reports whether the message is still accepting streamed content.
func (m *ChatMessage) Open() bool { return m.open }

// AppendDelta adds one streamed text fragment to an open placeholder.
// Closed messages ignore deltas; late frames after finalize must not
// corrupt a settled transcript.
func (m *ChatMessage) AppendDelta(delta string) {
	if !m.open {
		return
	}
	m.buf.WriteString(delta)
}

// Replace supersedes everything streamed so far with a complete answer.
// Retrieval-backed replies arrive as one replacement, not deltas: no prior
// placeholder text or sources survive.
func (m *ChatMessage) Replace(content MessageContent) {
	if !m.open {
		return
	}
	m.buf.Reset()
	m.Content = content
}

// SetSection retags the message with the section the stream reports. The
// placeholder is created under the pre-turn section; a mid-stream
// transition event corrects it.
func (m *ChatMessage) SetSection(s Section) {
	m.Section = s
}

// Finalize flushes buffered deltas and closes the message to further
// mutation. Safe to call more than once.
func (m *ChatMessage) Finalize() {
	if !m.open {
		return
	}
	m.flush()
	m.open = false
}

// flush moves the delta buffer into Content.Text.
func (m *ChatMessage) flush() {
	if m.buf.Len() == 0 {
		return
	}
	m.Content.Text += m.buf.String()
	m.buf.Reset()
}

// DisplayText returns the message text including any not-yet-flushed
// streamed deltas, for live rendering during a turn.
func (m *ChatMessage) DisplayText() string {
	if m.buf.Len() == 0 {
		return m.Content.Text
	}
	return m.Content.Text + m.buf.String()
}

// Local reports whether the message identity was minted client-side.
func (m *ChatMessage) Local() bool {
	return strings.HasPrefix(m.ID, "local-")
}
