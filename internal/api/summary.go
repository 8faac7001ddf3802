// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/moneyrudh/healio/internal/model"
)

// wireSummary is the backend's stored summary row. summary_data maps section
// names to that section's structured content and is sometimes delivered
// double-encoded as a JSON string.
type wireSummary struct {
	ID        string          `json:"id"`
	SessionID string          `json:"consultation_session_id"`
	Data      json.RawMessage `json:"summary_data"`
	CreatedAt model.WireTime  `json:"created_at"`
	UpdatedAt model.WireTime  `json:"updated_at"`
}

// sectionData unwraps summary_data into per-section raw content.
func (w *wireSummary) sectionData() (map[model.Section]json.RawMessage, error) {
	raw := bytes.TrimSpace(w.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	// Unwrap double-encoded payloads.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to parse summary data: %w", err)
		}
		raw = []byte(inner)
	}

	var data map[model.Section]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse summary data: %w", err)
	}
	return data, nil
}

// toSummary builds the ordered structured note from a summary row. Sections
// appear in protocol order; bullet-formatted content becomes Items and
// paragraph content becomes Content.
func (w *wireSummary) toSummary() (*model.Summary, error) {
	data, err := w.sectionData()
	if err != nil {
		return nil, err
	}

	generatedAt := w.UpdatedAt
	if generatedAt.IsZero() {
		generatedAt = w.CreatedAt
	}

	summary := &model.Summary{
		ConsultationID: w.SessionID,
		GeneratedAt:    generatedAt,
	}
	for _, section := range model.SectionOrder {
		raw, ok := data[section]
		if !ok {
			continue
		}
		entry := model.SummarySection{
			Section: section,
			Title:   section.Title(),
			Format:  section.Format(),
		}

		var items []string
		var text string
		switch {
		case json.Unmarshal(raw, &items) == nil:
			entry.Items = items
		case json.Unmarshal(raw, &text) == nil:
			entry.Content = text
		default:
			entry.Content = string(raw)
		}
		summary.Sections = append(summary.Sections, entry)
	}
	return summary, nil
}

// Summary fetches the structured note for a completed consultation. The
// backend answers 400 until the consultation reaches the terminal section;
// that surfaces here as ErrBadRequest.
func (c *Client) Summary(ctx context.Context, consultationID string) (*model.Summary, error) {
	query := url.Values{"consultation_id": {consultationID}}

	var row wireSummary
	if err := c.getJSON(ctx, "/api/summary", query, &row); err != nil {
		return nil, err
	}
	return row.toSummary()
}

// DownloadPDF fetches the rendered PDF for a completed consultation and
// copies it to w. It returns the server-suggested filename, falling back to
// patient_summary_<id>.pdf when the Content-Disposition header is absent.
//
// Document generation can outlive the normal request timeout, so the
// download runs on the streaming client with only ctx bounding it.
func (c *Client) DownloadPDF(ctx context.Context, consultationID string, w io.Writer) (string, error) {
	query := url.Values{"consultation_id": {consultationID}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/generate-pdf", query), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf")
	req.Header.Set("User-Agent", userAgent)

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	c.logRequest(req)
	startTime := time.Now()
	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(startTime))

	if resp.StatusCode != http.StatusOK {
		body, readErr := readResponse(resp)
		if readErr != nil {
			return "", readErr
		}
		return "", handleErrorResponse(resp.StatusCode, body)
	}

	filename := attachmentFilename(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = fmt.Sprintf("patient_summary_%s.pdf", consultationID)
	}

	n, err := io.Copy(w, io.LimitReader(resp.Body, MaxArtifactSize))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	if n == MaxArtifactSize {
		return "", fmt.Errorf("document exceeded maximum size of %d bytes", int64(MaxArtifactSize))
	}
	return filename, nil
}

// attachmentFilename extracts the filename from a Content-Disposition
// header, or returns empty.
func attachmentFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
