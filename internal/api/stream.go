// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"

	"github.com/moneyrudh/healio/internal/model"
)

// MaxEventSize is the maximum allowed size for a single stream event (64KB).
// Oversized frames are dropped as malformed rather than buffered.
const MaxEventSize = 64 * 1024

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventKind identifies a decoded stream event.
type EventKind string

const (
	// EventStart opens an assistant reply and may carry the active section.
	EventStart EventKind = "start"
	// EventText carries one content delta to append.
	EventText EventKind = "text"
	// EventRAG carries a full replacement answer with cited sources.
	EventRAG EventKind = "rag"
	// EventEnd terminates the reply.
	EventEnd EventKind = "end"
	// EventSectionTransition moves the consultation to a new section.
	EventSectionTransition EventKind = TypeSectionTransition
	// EventFollowUp asks the provider for more detail in the same section.
	EventFollowUp EventKind = TypeFollowUp
)

// StreamEvent is one decoded event from a chat turn stream. Kind is always
// set; the remaining fields are populated per kind.
type StreamEvent struct {
	Kind EventKind

	// Content is the text delta for EventText, or the full replacement
	// answer for EventRAG.
	Content string

	// Sources is the cited evidence for EventRAG.
	Sources []model.Source

	// Message is the assistant prompt for transition and follow-up events.
	Message string

	// CurrentSection is set on start, transition, and follow-up events
	// when the backend includes it.
	CurrentSection model.Section

	// PreviousSection is set on transition events.
	PreviousSection model.Section
}

// wireEvent is the superset of fields any stream frame may carry.
type wireEvent struct {
	Type            string        `json:"type"`
	Content         string        `json:"content"`
	Sources         []wireSource  `json:"sources"`
	Message         string        `json:"message"`
	CurrentSection  model.Section `json:"current_section"`
	PreviousSection model.Section `json:"previous_section"`
}

// toEvent converts a decoded frame to a typed event, or nil for unknown
// event types.
func (w *wireEvent) toEvent() *StreamEvent {
	switch EventKind(w.Type) {
	case EventStart:
		return &StreamEvent{Kind: EventStart, CurrentSection: w.CurrentSection}
	case EventText:
		return &StreamEvent{Kind: EventText, Content: w.Content}
	case EventRAG:
		return &StreamEvent{Kind: EventRAG, Content: w.Content, Sources: toSources(w.Sources)}
	case EventEnd:
		return &StreamEvent{Kind: EventEnd}
	case EventSectionTransition:
		return &StreamEvent{
			Kind:            EventSectionTransition,
			Message:         w.Message,
			CurrentSection:  w.CurrentSection,
			PreviousSection: w.PreviousSection,
		}
	case EventFollowUp:
		return &StreamEvent{
			Kind:           EventFollowUp,
			Message:        w.Message,
			CurrentSection: w.CurrentSection,
		}
	default:
		return nil
	}
}

// =============================================================================
// SOURCE DECODING
// =============================================================================

// looseString decodes a JSON string, number, or array of strings into one
// string. The backend is not consistent about these field types.
type looseString string

// UnmarshalJSON implements tolerant decoding for looseString.
func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case '[':
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*s = looseString(strings.Join(parts, ", "))
	default:
		// Bare number or boolean
		*s = looseString(string(data))
	}
	return nil
}

// wireSource is the backend's cited-source shape. IDs arrive as strings or
// numbers depending on the retrieval path; authors as a string or a list.
type wireSource struct {
	ID      looseString `json:"id"`
	Title   string      `json:"title"`
	PMCID   looseString `json:"pmcid"`
	Authors looseString `json:"authors"`
}

// toSource converts a wire source to the domain shape.
func (w wireSource) toSource() model.Source {
	return model.Source{
		ID:      string(w.ID),
		Title:   w.Title,
		PMCID:   string(w.PMCID),
		Authors: string(w.Authors),
	}
}

func toSources(ws []wireSource) []model.Source {
	if len(ws) == 0 {
		return nil
	}
	sources := make([]model.Source, 0, len(ws))
	for _, w := range ws {
		sources = append(sources, w.toSource())
	}
	return sources
}

// =============================================================================
// EVENT READER (wire framing)
// =============================================================================

// EventReader parses server-sent event framing from a raw byte stream:
// records are one or more "data:"-prefixed lines terminated by a blank line,
// and may arrive split across reads.
type EventReader struct {
	reader *bufio.Reader
}

// NewEventReader creates an event reader over r.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{
		reader: bufio.NewReader(r),
	}
}

// ReadEvent reads the next event from the stream and returns the event type
// (usually empty for this backend), the joined data payload, and any error.
// Returns io.EOF when the stream ends.
func (s *EventReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// If we have data, return it before EOF
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		// Trim trailing newline and carriage return
		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		// Parse field
		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// =============================================================================
// EVENT STREAM (pull decoder)
// =============================================================================

// EventStream decodes a live chat turn stream into typed events. It is a
// pull decoder: callers loop on Next until io.EOF or an EventEnd, then Close.
//
// Malformed frames - including the backend's occasional single-quoted
// pseudo-JSON - are dropped and counted, never fatal. Unknown event types
// are skipped. Exactly one goroutine may call Next.
type EventStream struct {
	body    io.ReadCloser
	reader  *EventReader
	dropped int
	closed  bool
}

// NewEventStream creates an event stream over a response body. The stream
// takes ownership of body; Close releases it.
func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body:   body,
		reader: NewEventReader(body),
	}
}

// Next returns the next typed event. It checks ctx before each read so a
// canceled turn stops promptly instead of blocking on a dead connection.
// Returns io.EOF when the stream is exhausted.
func (s *EventStream) Next(ctx context.Context) (*StreamEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		_, data, err := s.reader.ReadEvent()
		if err != nil {
			return nil, err
		}

		if len(data) > MaxEventSize {
			s.dropped++
			log.Printf("stream: dropped oversized frame (%d bytes)", len(data))
			continue
		}

		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			// Drop malformed frames; log size only, never content.
			s.dropped++
			log.Printf("stream: dropped malformed frame (%d bytes)", len(data))
			continue
		}

		ev := we.toEvent()
		if ev == nil {
			// Unknown event type
			continue
		}
		return ev, nil
	}
}

// Dropped returns the number of malformed frames discarded so far.
func (s *EventStream) Dropped() int {
	return s.dropped
}

// Close releases the underlying connection. Safe to call more than once.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
