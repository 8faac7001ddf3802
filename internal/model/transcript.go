// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"sync"
)

var (
	// ErrPlaceholderOpen is returned when a second placeholder is requested
	// while one is still streaming.
	ErrPlaceholderOpen = errors.New("transcript: placeholder already open")
	// ErrNoPlaceholder is returned by placeholder operations when no
	// placeholder is open.
	ErrNoPlaceholder = errors.New("transcript: no open placeholder")
)

// Transcript is the append-only message log for one consultation.
//
// At most one message, the streaming placeholder, is ever mutable; all other
// entries are settled once appended. The transcript never reorders. Safe for
// concurrent use: the stream loop appends deltas while the view reads.
type Transcript struct {
	mu          sync.RWMutex
	messages    []*ChatMessage
	placeholder *ChatMessage
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a settled message to the end of the log.
func (t *Transcript) Append(m *ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
}

// OpenPlaceholder appends a mutable assistant message that will accumulate
// streamed content, and returns it. Fails if a placeholder is already open;
// the protocol allows one in-flight turn at a time.
func (t *Transcript) OpenPlaceholder(sessionID string, section Section) (*ChatMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder != nil {
		return nil, ErrPlaceholderOpen
	}
	m := NewPlaceholder(sessionID, section)
	t.messages = append(t.messages, m)
	t.placeholder = m
	return m, nil
}

// AppendDelta routes one streamed text fragment to the open placeholder.
func (t *Transcript) AppendDelta(delta string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder == nil {
		return ErrNoPlaceholder
	}
	t.placeholder.AppendDelta(delta)
	return nil
}

// ReplacePlaceholder swaps the open placeholder's content for a complete
// retrieval-backed answer, discarding any streamed deltas.
func (t *Transcript) ReplacePlaceholder(content MessageContent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder == nil {
		return ErrNoPlaceholder
	}
	t.placeholder.Replace(content)
	return nil
}

// RetagPlaceholder updates the open placeholder's section after a
// mid-stream transition. No-op when none is open.
func (t *Transcript) RetagPlaceholder(s Section) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder != nil {
		t.placeholder.SetSection(s)
	}
}

// FinalizePlaceholder closes the open placeholder, making it a settled
// message, and returns it. The entry keeps its position in the log.
func (t *Transcript) FinalizePlaceholder() (*ChatMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder == nil {
		return nil, ErrNoPlaceholder
	}
	m := t.placeholder
	m.Finalize()
	t.placeholder = nil
	return m, nil
}

// SettlePlaceholder finalizes the open placeholder if it accumulated any
// content, or drops it from the log when empty. Returns the settled message,
// or nil when nothing was kept. Used at stream end and on aborted turns so
// an empty bubble never lands in the transcript.
func (t *Transcript) SettlePlaceholder() *ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder == nil {
		return nil
	}
	if t.placeholder.DisplayText() == "" {
		t.discardLocked()
		return nil
	}
	m := t.placeholder
	m.Finalize()
	t.placeholder = nil
	return m
}

// DiscardPlaceholder removes an open placeholder from the log entirely, for
// turns that fail before any content lands. No-op when none is open.
func (t *Transcript) DiscardPlaceholder() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.placeholder == nil {
		return
	}
	t.discardLocked()
}

// discardLocked removes the placeholder entry. Caller holds the lock.
func (t *Transcript) discardLocked() {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i] == t.placeholder {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			break
		}
	}
	t.placeholder = nil
}

// HasOpenPlaceholder reports whether a streamed turn is still accumulating.
func (t *Transcript) HasOpenPlaceholder() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.placeholder != nil
}

// Hydrate replaces the entire log with server history, settling any open
// placeholder first. Used when loading an existing consultation.
func (t *Transcript) Hydrate(history []*ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range history {
		m.Finalize()
	}
	t.messages = append([]*ChatMessage(nil), history...)
	t.placeholder = nil
}

// Clear empties the transcript.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
	t.placeholder = nil
}

// Messages returns a snapshot of the log in order. The slice is a copy; the
// message pointers are shared, so callers treat settled entries as
// read-only.
func (t *Transcript) Messages() []*ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*ChatMessage(nil), t.messages...)
}

// Len returns the number of messages including any open placeholder.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recent message, or nil for an empty transcript.
func (t *Transcript) Last() *ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return nil
	}
	return t.messages[len(t.messages)-1]
}
