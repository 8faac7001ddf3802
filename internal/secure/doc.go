// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secure provides at-rest sealing for archived consultation data.
//
// Archived transcripts and summaries contain patient information, so the
// archive can seal message text before it reaches disk:
//
//   - AES-256-GCM authenticated encryption
//   - random key file, or PBKDF2-SHA-256 derivation from a passphrase
//   - sealed values carry the "ENC:" prefix over base64(nonce|ciphertext|tag)
//
// Unsealing is tolerant of plaintext: values without the prefix pass
// through unchanged, so archives written before sealing was enabled stay
// readable.
package secure
