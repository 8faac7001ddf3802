// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and shared command plumbing for healio.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdConsult Command = iota
	CmdPatients
	CmdArchive
	CmdDoctor
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON    bool   // Output in JSON format
	Debug   bool   // Log backend requests and responses
	BaseURL string // Override backend base URL

	// Command-specific
	Subcommand string
	ID         string // patient / consultation / archive record id
	Query      string // archive search query
	Format     string // archive export format: md, json
	Confirm    bool   // required for archive delete/clear
	Resume     string // consult: consultation id to resume
	ProviderID string // consult: preselected provider
	PatientID  string // consult: preselected patient
	Name       string // patients create
	DOB        string // patients create
	Info       string // patients create
	MRN        string // patients show by medical record number
	Limit      int    // patients list page size
	Offset     int    // patients list page offset
	ConfigKey  string
	ConfigVal  string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `healio - terminal client for the healio consultation assistant

Healio drives a guided medical consultation from the command line: the
provider steps through the documentation sections in conversation with the
assistant, then reviews the structured note.

Usage:
  healio                          Start a consultation (default)
  healio consult                  Start a consultation (aliases: c, chat)
  healio consult --resume ID      Resume an existing consultation
  healio patients [subcommand]    Patient roster (aliases: patient, p)
  healio archive [subcommand]     Archived consultations (alias: a)
  healio doctor                   Connectivity and storage checks (alias: diag)
  healio config [show|set|path|reset]  Configuration
  healio version                  Show version information
  healio help                     Show this help

Patients:
  healio patients list [--limit N] [--offset N]   List patients (default)
  healio patients show <id>                       Show one patient
  healio patients show --mrn MRN-1A2B3C4D         Look up by record number
  healio patients create --name NAME --dob YYYY-MM-DD [--info TEXT]

Archive:
  healio archive list                     List archived consultations (default)
  healio archive show <id>                Show an archived transcript
  healio archive search <query>           Search patient names and messages
  healio archive export <id> [--format md|json]   Print a transcript export
  healio archive delete <id> --confirm    Delete one record
  healio archive clear --confirm          Delete all records
  healio archive stats                    Archive statistics

Consult REPL:
  Type to talk to the assistant; it guides the consultation section by
  section. Slash commands inside the REPL:
    /status /sections /history /summary /download /archive /help /quit

Global Flags:
  --json            Output in JSON format (lists, doctor, version)
  --debug           Log backend requests and responses
  --base-url URL    Override the backend base URL

Environment:
  HEALIO_BACKEND_URL          Backend base URL (default http://localhost:5001)
  HEALIO_DOWNLOAD_DIR         Where generated notes are saved
  HEALIO_ARCHIVE_PASSPHRASE   Derive the archive sealing key from a passphrase
  NO_COLOR / FORCE_COLOR      Color output control

Examples:
  healio                                  Start a consultation
  healio consult --provider prov-1        Skip provider selection
  healio consult --resume 3f9c...         Pick up where you left off
  healio patients list --limit 20         First twenty patients
  healio patients show --mrn MRN-4BC0A911 Look up by record number
  healio archive search "chest pain"      Find archived consultations
  healio archive export 3f9c... --format md > note.md
  healio doctor                           Check backend and local storage
  healio config set backend.base_url http://10.0.0.5:5001

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("healio version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	args := os.Args[1:]

	// Parse global flags first
	remaining, parsedArgs := parseGlobalFlags(args)

	// No command defaults to starting a consultation.
	if len(remaining) == 0 {
		return CmdConsult, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "consult", "chat", "c":
		parseConsultArgs(&parsedArgs, remaining)
		return CmdConsult, parsedArgs

	case "patients", "patient", "p":
		parsePatientsArgs(&parsedArgs, remaining)
		return CmdPatients, parsedArgs

	case "archive", "archives", "a":
		parseArchiveArgs(&parsedArgs, remaining)
		return CmdArchive, parsedArgs

	case "doctor", "diag", "diagnose":
		return CmdDoctor, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "version", "-v", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Unknown command: route to help, which reports it and exits
		// with a usage error.
		parsedArgs.Subcommand = cmd
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "--json":
			parsedArgs.JSON = true
		case "--debug":
			parsedArgs.Debug = true
		case "--base-url":
			if i+1 < len(args) {
				i++
				parsedArgs.BaseURL = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--base-url=") {
				parsedArgs.BaseURL = strings.TrimPrefix(arg, "--base-url=")
			} else {
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseConsultArgs parses consult command specific arguments.
func parseConsultArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--resume", "-r":
			if i+1 < len(remaining) {
				i++
				args.Resume = remaining[i]
			}
		case "--provider":
			if i+1 < len(remaining) {
				i++
				args.ProviderID = remaining[i]
			}
		case "--patient":
			if i+1 < len(remaining) {
				i++
				args.PatientID = remaining[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--resume="):
				args.Resume = strings.TrimPrefix(arg, "--resume=")
			case strings.HasPrefix(arg, "--provider="):
				args.ProviderID = strings.TrimPrefix(arg, "--provider=")
			case strings.HasPrefix(arg, "--patient="):
				args.PatientID = strings.TrimPrefix(arg, "--patient=")
			}
		}
	}
}

// parsePatientsArgs parses patients command specific arguments.
func parsePatientsArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--limit":
			if i+1 < len(remaining) {
				i++
				args.Limit = parsePositiveInt(remaining[i])
			}
		case "--offset":
			if i+1 < len(remaining) {
				i++
				args.Offset = parsePositiveInt(remaining[i])
			}
		case "--mrn":
			if i+1 < len(remaining) {
				i++
				args.MRN = remaining[i]
			}
		case "--name":
			if i+1 < len(remaining) {
				i++
				args.Name = remaining[i]
			}
		case "--dob":
			if i+1 < len(remaining) {
				i++
				args.DOB = remaining[i]
			}
		case "--info":
			if i+1 < len(remaining) {
				i++
				args.Info = remaining[i]
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--limit="):
				args.Limit = parsePositiveInt(strings.TrimPrefix(arg, "--limit="))
			case strings.HasPrefix(arg, "--offset="):
				args.Offset = parsePositiveInt(strings.TrimPrefix(arg, "--offset="))
			case strings.HasPrefix(arg, "--mrn="):
				args.MRN = strings.TrimPrefix(arg, "--mrn=")
			case strings.HasPrefix(arg, "--name="):
				args.Name = strings.TrimPrefix(arg, "--name=")
			case strings.HasPrefix(arg, "--dob="):
				args.DOB = strings.TrimPrefix(arg, "--dob=")
			case strings.HasPrefix(arg, "--info="):
				args.Info = strings.TrimPrefix(arg, "--info=")
			case strings.HasPrefix(arg, "-"):
				// Unknown flag, ignored here; handlers validate what
				// they need.
			case args.Subcommand == "":
				args.Subcommand = strings.ToLower(arg)
			case args.ID == "":
				args.ID = arg
			}
		}
	}
}

// parseArchiveArgs parses archive command specific arguments.
func parseArchiveArgs(args *Args, remaining []string) {
	var positional []string

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "--format":
			if i+1 < len(remaining) {
				i++
				args.Format = strings.ToLower(remaining[i])
			}
		case "--confirm":
			args.Confirm = true
		default:
			switch {
			case strings.HasPrefix(arg, "--format="):
				args.Format = strings.ToLower(strings.TrimPrefix(arg, "--format="))
			case strings.HasPrefix(arg, "-"):
				// Unknown flag, ignored.
			default:
				positional = append(positional, arg)
			}
		}
	}

	if len(positional) > 0 {
		args.Subcommand = strings.ToLower(positional[0])
	}
	if len(positional) > 1 {
		// search takes a free-form query; everything else takes an id.
		if args.Subcommand == "search" {
			args.Query = strings.Join(positional[1:], " ")
		} else {
			args.ID = positional[1]
		}
	}
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = strings.ToLower(remaining[0])
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = remaining[2]
		}
	}
}

// parsePositiveInt parses a non-negative integer, returning 0 on bad input.
func parsePositiveInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// =============================================================================
// VERSION AND HELP HANDLERS
// =============================================================================

// VersionData is the JSON output shape for the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) error {
	if args.JSON {
		resp := NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		})
		return resp.Print()
	}

	PrintVersion()
	return nil
}

// HandleHelp handles the "help" command. A non-empty Subcommand means Parse
// hit an unknown command; report it and fail with a usage error.
func HandleHelp(args Args) error {
	PrintUsage()
	if args.Subcommand != "" {
		return NewUsageError("", fmt.Sprintf("unknown command %q", args.Subcommand), "")
	}
	return nil
}

// =============================================================================
// JSON OUTPUT ENVELOPE
// =============================================================================

// JSONResponse is the envelope for all --json command output.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Command   string      `json:"command,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *string     `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewJSONResponse creates a successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Command:   command,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Print writes the response to stdout as indented JSON.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// SHARED COMMAND PLUMBING
// =============================================================================

// loadConfig loads the configuration for a command. A missing file falls
// back to defaults; a corrupt file is reported once on stderr and defaults
// are used, so a broken config never strands every command.
func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
		cfg = config.Default()
		cfg.ApplyEnvOverrides()
		cfg.Normalize()
	}
	return cfg
}

// newClient builds the backend client from config plus global flag
// overrides. Flags beat config beats defaults.
func newClient(cfg *config.Config, args Args) *api.Client {
	baseURL := cfg.Backend.BaseURL
	if args.BaseURL != "" {
		baseURL = args.BaseURL
	}

	client := api.NewClient(baseURL).
		WithTimeout(cfg.Backend.Timeout()).
		WithMaxRetries(cfg.Backend.MaxRetries).
		WithDebug(args.Debug || cfg.Backend.Debug)

	if cfg.Backend.RateLimit > 0 {
		client = client.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.RateBurst)
	}

	return client
}
