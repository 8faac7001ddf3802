// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates a guided consultation from the client side.
//
// This package owns all consultation state between the terminal and the
// backend: provider and patient selections, the active session record, the
// transcript, the section cursor, and the structured summary. The
// Orchestrator is the single mutator of that state; the CLI reads through
// accessors and reacts through callbacks.
//
// # Key Types
//
//   - Orchestrator: Consultation state machine driving a Backend
//   - Backend: Server operations the orchestrator needs (*api.Client fits)
//   - ArtifactSaver: Sink for downloaded note artifacts
//   - Status: Point-in-time snapshot for prompts and status lines
//
// # Usage
//
// Create an orchestrator and start a consultation:
//
//	orch := session.NewOrchestrator(client, saver)
//	orch.SelectProvider(provider)
//	orch.SelectPatient(patient)
//	if err := orch.CreateSession(ctx); err != nil {
//	    // Handle creation failure
//	}
//
// Drive turns and observe the stream:
//
//	orch.SetDeltaCallback(func(delta string) { fmt.Print(delta) })
//	if err := orch.SendMessage(ctx, input); err != nil {
//	    // Handle rejected turn
//	}
//
// # Turn Discipline
//
// One turn at a time: SendMessage refuses to overlap an in-flight turn
// with ErrTurnInFlight, leaving the transcript untouched. The server owns
// section progression and session status; after every completed turn the
// orchestrator refetches the session record and mirrors it.
package session
