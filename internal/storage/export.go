// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local consultation archive for healio.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/moneyrudh/healio/internal/model"
)

// =============================================================================
// CONSULTATION EXPORT
// =============================================================================

// ExportMarkdown exports the consultation as a Markdown formatted string.
// Includes patient metadata, the full transcript with section headings and
// citations, and the structured summary when one was generated.
func (c *ArchivedConsultation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# Consultation " + c.ID + "\n\n")
	sb.WriteString("Patient: " + c.PatientName)
	if c.PatientMRN != "" {
		sb.WriteString(" (MRN " + c.PatientMRN + ")")
	}
	sb.WriteString("\n")
	if c.ProviderName != "" {
		sb.WriteString("Provider: " + c.ProviderName + "\n")
	}
	if !c.SessionDate.IsZero() {
		sb.WriteString("Date: " + c.SessionDate.Format("2006-01-02") + "\n")
	}
	sb.WriteString("Archived: " + c.ArchivedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	var section string
	for _, msg := range c.Messages {
		if msg.Section != section {
			section = msg.Section
			sb.WriteString("## " + model.Section(section).Title() + "\n\n")
		}

		label := "**Provider**"
		if msg.Sender == model.SenderAI {
			label = "**Assistant**"
		}
		sb.WriteString(label)
		if !msg.SentAt.IsZero() {
			sb.WriteString(" (" + msg.SentAt.Local().Format("15:04") + ")")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(msg.Text)
		sb.WriteString("\n\n")

		for i, src := range msg.Sources {
			sb.WriteString("> [" + fmt.Sprint(i+1) + "] " + formatSource(src) + "\n")
		}
		if len(msg.Sources) > 0 {
			sb.WriteString("\n")
		}
	}

	if c.Summary != nil {
		sb.WriteString("---\n\n")
		sb.WriteString("# Summary\n\n")
		for _, sec := range c.Summary.Sections {
			sb.WriteString("## " + sec.Title + "\n\n")
			sb.WriteString(FormatSummarySection(sec))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// ExportJSON exports the consultation as a pretty-printed JSON byte array.
// Returns an error if JSON marshaling fails.
func (c *ArchivedConsultation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// formatSource renders one citation line.
func formatSource(src model.Source) string {
	line := src.Title
	if src.PMCID != "" {
		line += " (" + src.PMCID + ")"
	}
	if src.Authors != "" {
		line += " - " + src.Authors
	}
	return line
}

// FormatSummarySection renders one summary section body in its wire format:
// numbered bullets, plain bullets, or a paragraph.
func FormatSummarySection(sec model.SummarySection) string {
	var sb strings.Builder
	switch sec.Format {
	case model.FormatNumberedBullet:
		for i, item := range sec.Items {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, item))
		}
	case model.FormatBullet:
		for _, item := range sec.Items {
			sb.WriteString("- " + item + "\n")
		}
	default:
		if sec.Content != "" {
			sb.WriteString(sec.Content + "\n")
		}
		for _, item := range sec.Items {
			sb.WriteString(item + "\n")
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("(not recorded)\n")
	}
	return sb.String()
}
