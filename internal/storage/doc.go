// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local consultation archive for healio.
//
// Finished consultations (the session record, the full transcript, and the
// structured summary) are archived to a local SQLite database. Live sessions
// are never persisted here; the server stays authoritative until a
// consultation completes.
//
// # Key Types
//
//   - Archive: SQLite-backed store of finished consultations
//   - ArchivedConsultation: Full record with transcript and summary
//   - ArchiveMeta: Lightweight metadata for listing
//
// # Usage
//
// Open the archive and save a finished consultation:
//
//	arch, err := storage.Open(storage.Options{Path: cfg.Archive.Path})
//	id, err := arch.Save(record)
//
// List and load consultations:
//
//	metas, err := arch.List()
//	rec, err := arch.Load(metas[0].ID)
//
// Search by patient name or message content:
//
//	results, err := arch.Search("chest pain")
//
// # Sealing
//
// When Options.Sealer is set, message text, previews, and summary data are
// encrypted at rest. Sealed records need the same key to load; listings
// still work without it.
//
// # Storage Location
//
// The archive lives at ~/.healio/archive.db by default.
package storage
