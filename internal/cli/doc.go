// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for healio.
//
// This package implements all healio commands, from the interactive consult
// REPL down to the scripted archive and patients subcommands, with a shared
// argument parser, exit-code taxonomy and JSON output envelope.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - JSONResponse: Envelope for --json output
//   - ConsultSession: State for one interactive consultation run
//   - HealthCheck: One doctor diagnostic result
//
// # Usage
//
// Parse and dispatch commands:
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdConsult:
//	    err = cli.HandleConsult(args)
//	case cli.CmdPatients:
//	    err = cli.HandlePatients(args)
//	// ... other commands
//	}
//	if err != nil {
//	    cli.Exit(err, args.JSON)
//	}
//
// # Commands Overview
//
//   - consult: Interactive guided consultation (default command)
//   - patients: List, inspect and register patients
//   - archive: Manage locally archived consultations
//   - doctor: Connectivity and storage checks
//   - config: Configuration management
//   - version, help
//
// Non-interactive commands support the --json flag; errors then come back
// on stderr as a JSON envelope with a machine-readable error type.
package cli
