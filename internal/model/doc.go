// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the domain types shared across healio: consultation
// sections and their protocol order, chat messages with their tagged content
// variant, the append-only transcript, and the wire structs for patients,
// providers, sessions, and structured summaries.
//
// The package has no transport or storage concerns. Types here mirror the
// server's JSON shapes where a wire format exists and otherwise stay minimal.
package model
