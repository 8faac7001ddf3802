// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the healio consultation
// backend: typed resource calls (health, providers, patients, consultations,
// chat history, summaries, PDF download), the chat turn entry point, and the
// decoder for the backend's event-stream replies.
//
// A chat turn returns a tagged TurnResult - a complete document reply or a
// live EventStream - so callers branch on the tag rather than sniffing
// response shapes. The stream decoder is pull-based: loop Next until
// EventEnd or io.EOF, then Close. Malformed frames are dropped and counted,
// never fatal.
//
// Idempotent GETs retry transient failures with exponential backoff; chat
// turns are sent exactly once. Logging never includes message text or
// patient identity - method, path, status, and duration only.
package api
