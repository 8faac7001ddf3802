// healio - Terminal client for guided consultation documentation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"github.com/moneyrudh/healio/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdConsult:
		err = cli.HandleConsult(args)
	case cli.CmdPatients:
		err = cli.HandlePatients(args)
	case cli.CmdArchive:
		err = cli.HandleArchive(args)
	case cli.CmdDoctor:
		err = cli.HandleDoctor(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdVersion:
		err = cli.HandleVersion(args)
	case cli.CmdHelp:
		err = cli.HandleHelp(args)
	default:
		err = cli.HandleConsult(args)
	}

	if err != nil {
		cli.Exit(err, args.JSON)
	}
}
