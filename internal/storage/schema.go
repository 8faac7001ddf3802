// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local consultation archive for healio.
package storage

const (
	// SchemaVersion tracks the archive schema version for migrations
	SchemaVersion = 1
)

// SQLite schema for the consultation archive. Only finished consultations
// land here; live sessions stay on the server.
const Schema = `
-- Metadata table for schema version and archive state
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

-- Consultations table: one row per archived consultation
CREATE TABLE IF NOT EXISTS consultations (
    id TEXT PRIMARY KEY,            -- server consultation id
    patient_id TEXT NOT NULL,
    patient_name TEXT NOT NULL,     -- plaintext so list/search work on sealed rows
    patient_mrn TEXT,
    provider_id TEXT NOT NULL,
    provider_name TEXT,
    session_date INTEGER,           -- Unix timestamp
    status TEXT NOT NULL,           -- in_progress, completed
    section TEXT NOT NULL,          -- section reached when archived
    message_count INTEGER NOT NULL,
    preview TEXT,                   -- first provider message, sealed when sealing is on
    sealed INTEGER NOT NULL DEFAULT 0,
    archived_at INTEGER NOT NULL    -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_consultations_patient ON consultations(patient_id);
CREATE INDEX IF NOT EXISTS idx_consultations_archived_at ON consultations(archived_at);

-- Messages table: transcript entries in turn order
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    consultation_id TEXT NOT NULL,
    message_id TEXT NOT NULL,       -- server-issued message id
    seq INTEGER NOT NULL,           -- position in the transcript
    sender TEXT NOT NULL,           -- provider, ai
    kind TEXT NOT NULL,             -- text, rag
    content TEXT NOT NULL,          -- message text, sealed when sealing is on
    sources TEXT,                   -- JSON citation list for rag messages
    section TEXT NOT NULL,
    sent_at INTEGER,                -- Unix timestamp
    FOREIGN KEY(consultation_id) REFERENCES consultations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_consultation ON messages(consultation_id);
CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(consultation_id, seq);

-- Summaries table: the structured note generated at completion
CREATE TABLE IF NOT EXISTS summaries (
    consultation_id TEXT PRIMARY KEY,
    generated_at INTEGER,           -- Unix timestamp
    data TEXT NOT NULL,             -- JSON summary document, sealed when sealing is on
    FOREIGN KEY(consultation_id) REFERENCES consultations(id) ON DELETE CASCADE
);
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
