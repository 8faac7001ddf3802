// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the healio client.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width aware truncation (CJK safe)
//   - PadRight: display-width aware padding for table output
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
