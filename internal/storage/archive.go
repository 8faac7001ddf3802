// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local consultation archive for healio.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/moneyrudh/healio/internal/model"
	"github.com/moneyrudh/healio/internal/secure"
	"github.com/moneyrudh/healio/internal/util"
)

// =============================================================================
// ARCHIVED RECORD TYPES
// =============================================================================

// ArchivedConsultation is a finished consultation as stored in the archive:
// the session record, the full transcript, and the structured summary when
// one was generated.
type ArchivedConsultation struct {
	// Identity
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	PatientMRN   string    `json:"patient_mrn,omitempty"`
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name,omitempty"`
	SessionDate  time.Time `json:"session_date"`
	Status       string    `json:"status"`
	Section      string    `json:"section"`
	ArchivedAt   time.Time `json:"archived_at"`

	// Transcript
	Messages []ArchivedMessage `json:"messages"`

	// Structured note, nil when the consultation finished without one
	Summary *model.Summary `json:"summary,omitempty"`
}

// ArchivedMessage is one persisted transcript entry.
type ArchivedMessage struct {
	MessageID string         `json:"message_id"`
	Sender    model.Sender   `json:"sender"`
	Kind      string         `json:"kind"`
	Text      string         `json:"text"`
	Sources   []model.Source `json:"sources,omitempty"`
	Section   string         `json:"section"`
	SentAt    time.Time      `json:"sent_at"`
}

// ArchiveMeta contains metadata for listing archived consultations.
type ArchiveMeta struct {
	ID           string    `json:"id"`
	PatientName  string    `json:"patient_name"`
	ProviderName string    `json:"provider_name,omitempty"`
	SessionDate  time.Time `json:"session_date"`
	Status       string    `json:"status"`
	Section      string    `json:"section"`
	MessageCount int       `json:"message_count"`
	Sealed       bool      `json:"sealed"`
	ArchivedAt   time.Time `json:"archived_at"`
	Preview      string    `json:"preview"` // First provider message truncated
}

// NewArchivedConsultation assembles an archive record from the live session
// state. Patient, provider, and summary may carry only partial data; the
// record keeps whatever the caller resolved.
func NewArchivedConsultation(session *model.ConsultationSession, patient *model.Patient, provider *model.Provider, messages []*model.ChatMessage, summary *model.Summary) *ArchivedConsultation {
	rec := &ArchivedConsultation{
		ID:          session.ID,
		PatientID:   session.PatientID,
		ProviderID:  session.ProviderID,
		SessionDate: session.SessionDate.Time,
		Status:      string(session.Status),
		Section:     string(session.CurrentSection),
		Summary:     summary,
	}
	if patient != nil {
		rec.PatientName = patient.Name
		rec.PatientMRN = patient.MRN
	}
	if provider != nil {
		rec.ProviderName = provider.Name
	}
	for _, msg := range messages {
		rec.Messages = append(rec.Messages, ArchivedMessage{
			MessageID: msg.ID,
			Sender:    msg.Sender,
			Kind:      string(msg.Content.Kind),
			Text:      msg.Content.Text,
			Sources:   msg.Content.Sources,
			Section:   string(msg.Section),
			SentAt:    msg.Timestamp,
		})
	}
	return rec
}

// finished reports whether the consultation reached a terminal state. Only
// finished consultations are archived; the server stays authoritative for
// anything still in progress.
func (c *ArchivedConsultation) finished() bool {
	return c.Status == string(model.StatusCompleted) || model.Section(c.Section).Terminal()
}

// =============================================================================
// ARCHIVE STORE
// =============================================================================

// Options configures an Archive.
type Options struct {
	// Path is the SQLite database file.
	// Default: ~/.healio/archive.db
	Path string

	// MaxArchived limits stored consultations (0 = unlimited). Oldest
	// records are pruned first.
	MaxArchived int

	// Sealer encrypts message text and summary data at rest when set and
	// initialized. Records written without it stay readable either way.
	Sealer *secure.Sealer
}

// Archive is the local store of finished consultations.
type Archive struct {
	db          *sql.DB
	path        string
	maxArchived int
	sealer      *secure.Sealer
}

// Open opens (creating if needed) the archive database at opts.Path.
func Open(opts Options) (*Archive, error) {
	if opts.Path == "" {
		return nil, errors.New("archive path cannot be empty")
	}

	// The directory also holds the sealing key, so keep it private.
	dbDir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// Configure connection pool for SQLite
	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // No lifetime limit

	// Configure SQLite for better performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON", // Enable foreign key constraints
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	a := &Archive{
		db:          db,
		path:        opts.Path,
		maxArchived: opts.MaxArchived,
		sealer:      opts.Sealer,
	}

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return a, nil
}

// initSchema creates the archive tables if they don't exist.
func (a *Archive) initSchema() error {
	if _, err := a.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := a.db.Exec(InitMetadata); err != nil {
		return fmt.Errorf("failed to initialize metadata: %w", err)
	}
	return nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// sealing reports whether records will be encrypted on save.
func (a *Archive) sealing() bool {
	return a.sealer != nil && a.sealer.IsInitialized()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a finished consultation and returns its ID. Saving the same
// consultation again replaces the stored record, so re-archiving after a
// reconciliation fetch is safe. Consultations still in progress are
// rejected.
func (a *Archive) Save(rec *ArchivedConsultation) (string, error) {
	if rec.ID == "" {
		return "", errors.New("consultation id cannot be empty")
	}
	if !rec.finished() {
		return "", ErrNotFinished
	}

	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now()
	}
	sealed := a.sealing()

	tx, err := a.db.Begin()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	// Replace any prior version of this consultation. Child rows cascade.
	if _, err := tx.Exec("DELETE FROM consultations WHERE id = ?", rec.ID); err != nil {
		return "", fmt.Errorf("failed to clear prior record: %w", err)
	}

	preview := rec.previewText()
	if sealed && preview != "" {
		preview, err = a.sealer.SealString(preview)
		if err != nil {
			return "", fmt.Errorf("failed to seal preview: %w", err)
		}
	}

	var sessionDate int64
	if !rec.SessionDate.IsZero() {
		sessionDate = rec.SessionDate.Unix()
	}

	_, err = tx.Exec(`
		INSERT INTO consultations (id, patient_id, patient_name, patient_mrn,
			provider_id, provider_name, session_date, status, section,
			message_count, preview, sealed, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.PatientID, rec.PatientName, rec.PatientMRN,
		rec.ProviderID, rec.ProviderName, sessionDate, rec.Status, rec.Section,
		len(rec.Messages), preview, boolToInt(sealed), rec.ArchivedAt.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to insert consultation: %w", err)
	}

	for seq, msg := range rec.Messages {
		content := msg.Text
		if sealed {
			content, err = a.sealer.SealString(content)
			if err != nil {
				return "", fmt.Errorf("failed to seal message: %w", err)
			}
		}

		var sources []byte
		if len(msg.Sources) > 0 {
			sources, err = json.Marshal(msg.Sources)
			if err != nil {
				return "", fmt.Errorf("failed to encode sources: %w", err)
			}
		}

		var sentAt int64
		if !msg.SentAt.IsZero() {
			sentAt = msg.SentAt.Unix()
		}

		_, err = tx.Exec(`
			INSERT INTO messages (consultation_id, message_id, seq, sender,
				kind, content, sources, section, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, msg.MessageID, seq, string(msg.Sender),
			msg.Kind, content, nullableText(sources), msg.Section, sentAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if rec.Summary != nil {
		data, err := json.Marshal(rec.Summary)
		if err != nil {
			return "", fmt.Errorf("failed to encode summary: %w", err)
		}
		payload := string(data)
		if sealed {
			payload, err = a.sealer.SealString(payload)
			if err != nil {
				return "", fmt.Errorf("failed to seal summary: %w", err)
			}
		}

		var generatedAt int64
		if !rec.Summary.GeneratedAt.IsZero() {
			generatedAt = rec.Summary.GeneratedAt.Unix()
		}

		_, err = tx.Exec(`
			INSERT INTO summaries (consultation_id, generated_at, data)
			VALUES (?, ?, ?)
		`, rec.ID, generatedAt, payload)
		if err != nil {
			return "", fmt.Errorf("failed to insert summary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	if a.maxArchived > 0 {
		a.enforceLimit()
	}

	return rec.ID, nil
}

// previewText returns the first provider message truncated for listing.
func (c *ArchivedConsultation) previewText() string {
	for _, msg := range c.Messages {
		if msg.Sender == model.SenderProvider && msg.Text != "" {
			return util.CollapseLines(util.TruncateRunes(msg.Text, 80))
		}
	}
	return ""
}

// enforceLimit removes oldest consultations if over limit. Failures are
// ignored; the next save retries.
func (a *Archive) enforceLimit() {
	a.db.Exec(`
		DELETE FROM consultations WHERE id IN (
			SELECT id FROM consultations
			ORDER BY archived_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`, a.maxArchived)
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves an archived consultation by ID, unsealing content when the
// record was sealed. Loading a sealed record without the matching key fails.
func (a *Archive) Load(id string) (*ArchivedConsultation, error) {
	row := a.db.QueryRow(`
		SELECT id, patient_id, patient_name, patient_mrn, provider_id,
			provider_name, session_date, status, section, sealed, archived_at
		FROM consultations WHERE id = ?
	`, id)

	rec := &ArchivedConsultation{}
	var mrn, providerName sql.NullString
	var sessionDate, archivedAt int64
	var sealed int
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.PatientName, &mrn,
		&rec.ProviderID, &providerName, &sessionDate, &rec.Status,
		&rec.Section, &sealed, &archivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConsultationNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rec.PatientMRN = mrn.String
	rec.ProviderName = providerName.String
	if sessionDate > 0 {
		rec.SessionDate = time.Unix(sessionDate, 0).UTC()
	}
	rec.ArchivedAt = time.Unix(archivedAt, 0).UTC()

	unseal := func(s string) (string, error) { return s, nil }
	if sealed != 0 {
		if a.sealer == nil || !a.sealer.IsInitialized() {
			return nil, fmt.Errorf("consultation %s is sealed: %w", id, secure.ErrNotInitialized)
		}
		unseal = a.sealer.UnsealString
	}

	rows, err := a.db.Query(`
		SELECT message_id, sender, kind, content, sources, section, sent_at
		FROM messages WHERE consultation_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg ArchivedMessage
		var sender string
		var sources sql.NullString
		var sentAt int64
		if err := rows.Scan(&msg.MessageID, &sender, &msg.Kind, &msg.Text,
			&sources, &msg.Section, &sentAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		msg.Sender = model.Sender(sender)
		if msg.Text, err = unseal(msg.Text); err != nil {
			return nil, fmt.Errorf("failed to unseal message: %w", err)
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources: %w", err)
			}
		}
		if sentAt > 0 {
			msg.SentAt = time.Unix(sentAt, 0).UTC()
		}
		rec.Messages = append(rec.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	var data string
	err = a.db.QueryRow("SELECT data FROM summaries WHERE consultation_id = ?", id).Scan(&data)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if err == nil {
		if data, err = unseal(data); err != nil {
			return nil, fmt.Errorf("failed to unseal summary: %w", err)
		}
		var summary model.Summary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		rec.Summary = &summary
	}

	return rec, nil
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all archived consultations (most recently archived first).
func (a *Archive) List() ([]ArchiveMeta, error) {
	return a.list("", nil)
}

// ListByPatient returns archived consultations for one patient.
func (a *Archive) ListByPatient(patientID string) ([]ArchiveMeta, error) {
	return a.list("WHERE patient_id = ?", []interface{}{patientID})
}

func (a *Archive) list(where string, args []interface{}) ([]ArchiveMeta, error) {
	query := `
		SELECT id, patient_name, provider_name, session_date, status,
			section, message_count, preview, sealed, archived_at
		FROM consultations ` + where + ` ORDER BY archived_at DESC, id DESC`

	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	metas := []ArchiveMeta{}
	for rows.Next() {
		var meta ArchiveMeta
		var providerName, preview sql.NullString
		var sessionDate, archivedAt int64
		var sealed int
		if err := rows.Scan(&meta.ID, &meta.PatientName, &providerName,
			&sessionDate, &meta.Status, &meta.Section, &meta.MessageCount,
			&preview, &sealed, &archivedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		meta.ProviderName = providerName.String
		meta.Sealed = sealed != 0
		if sessionDate > 0 {
			meta.SessionDate = time.Unix(sessionDate, 0).UTC()
		}
		meta.ArchivedAt = time.Unix(archivedAt, 0).UTC()
		meta.Preview = a.decodePreview(preview.String, meta.Sealed)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return metas, nil
}

// decodePreview unseals a stored preview when possible. A sealed preview
// without the key lists as a placeholder rather than failing the listing.
func (a *Archive) decodePreview(preview string, sealed bool) string {
	if preview == "" {
		return ""
	}
	if !sealed {
		return preview
	}
	if a.sealer == nil || !a.sealer.IsInitialized() {
		return "[sealed]"
	}
	plain, err := a.sealer.UnsealString(preview)
	if err != nil {
		return "[sealed]"
	}
	return plain
}

// =============================================================================
// SEARCH
// =============================================================================

// Search finds archived consultations matching a query string. Patient
// names match after Unicode normalization, so accented names are found by
// their ASCII spellings. Message content is matched per consultation;
// sealed records whose key is unavailable only match on metadata.
func (a *Archive) Search(query string) ([]ArchiveMeta, error) {
	all, err := a.List()
	if err != nil {
		return nil, err
	}
	if query == "" {
		return all, nil
	}

	normQuery := normalizeName(query)
	lowerQuery := strings.ToLower(query)

	var results []ArchiveMeta
	for _, meta := range all {
		if strings.Contains(normalizeName(meta.PatientName), normQuery) ||
			strings.Contains(strings.ToLower(meta.Preview), lowerQuery) {
			results = append(results, meta)
			continue
		}
		if a.messageMatch(meta, lowerQuery) {
			results = append(results, meta)
		}
	}

	return results, nil
}

// messageMatch loads a consultation and scans its message content. Sealed
// records that cannot be opened are skipped rather than failing the search.
func (a *Archive) messageMatch(meta ArchiveMeta, lowerQuery string) bool {
	if meta.Sealed && (a.sealer == nil || !a.sealer.IsInitialized()) {
		return false
	}
	rec, err := a.Load(meta.ID)
	if err != nil {
		return false
	}
	for _, msg := range rec.Messages {
		if strings.Contains(strings.ToLower(msg.Text), lowerQuery) {
			return true
		}
	}
	return false
}

// normalizeName folds a name for matching: Unicode NFKD decomposition,
// combining marks stripped, lowercased. "José" and "jose" compare equal.
func normalizeName(s string) string {
	decomposed, _, err := transform.String(transform.Chain(norm.NFKD), s)
	if err != nil {
		decomposed = s
	}
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes an archived consultation by ID.
func (a *Archive) Delete(id string) error {
	result, err := a.db.Exec("DELETE FROM consultations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	if affected == 0 {
		return ErrConsultationNotArchived
	}
	return nil
}

// Clear removes all archived consultations.
func (a *Archive) Clear() error {
	if _, err := a.db.Exec("DELETE FROM consultations"); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// Count returns the number of archived consultations.
func (a *Archive) Count() (int, error) {
	var n int
	if err := a.db.QueryRow("SELECT COUNT(*) FROM consultations").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return n, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// boolToInt converts a bool to its SQLite integer form.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullableText stores empty payloads as NULL instead of empty strings.
func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrDatabase wraps low-level SQLite failures.
var ErrDatabase = errors.New("archive database error")

// ErrConsultationNotArchived is returned when a consultation isn't in the
// archive. Use errors.Is(err, ErrConsultationNotArchived) to check for it.
var ErrConsultationNotArchived = &ArchiveError{Message: "consultation not archived"}

// ErrNotFinished is returned when saving a consultation that is still in
// progress. Only finished consultations are archived.
var ErrNotFinished = &ArchiveError{Message: "consultation still in progress"}

// ArchiveError represents an archive-related error.
// It implements the error interface and can be compared using errors.Is.
type ArchiveError struct {
	Message string
}

// Error implements the error interface.
func (e *ArchiveError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing archive errors.
func (e *ArchiveError) Is(target error) bool {
	t, ok := target.(*ArchiveError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// ARCHIVE LIST FORMATTING
// =============================================================================

// FormatArchiveList formats archived consultations for display in a table.
// Returns a human-readable string with ID, patient, date, message count,
// and preview.
func FormatArchiveList(metas []ArchiveMeta) string {
	if len(metas) == 0 {
		return "No archived consultations."
	}

	var sb strings.Builder
	sb.WriteString("Archived consultations:\n")
	sb.WriteString("--------------------------------------------------------------------\n")
	sb.WriteString(util.PadRight("ID", 12) + " " + util.PadRight("Patient", 20) + " " +
		util.PadRight("Archived", 16) + " " + util.PadRight("Msgs", 5) + " Preview\n")
	sb.WriteString("--------------------------------------------------------------------\n")

	for _, m := range metas {
		id := m.ID
		if len(id) > 12 {
			id = id[:12]
		}
		sb.WriteString(util.PadRight(id, 12) + " " +
			util.PadRight(util.TruncateWidth(m.PatientName, 20), 20) + " " +
			util.PadRight(m.ArchivedAt.Local().Format("2006-01-02 15:04"), 16) + " " +
			util.PadRight(fmt.Sprintf("%d", m.MessageCount), 5) + " " +
			util.TruncateWidth(m.Preview, 30) + "\n")
	}
	return sb.String()
}
