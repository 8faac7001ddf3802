// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for healio.
//
// Command: doctor
// Short:   Run connectivity and storage checks
// Aliases: diag, diagnose
//
// Health Checks Performed:
//   1. Backend Reachable  - GET /api/health answers and reports healthy
//   2. Provider Roster    - GET /api/providers returns at least one provider
//   3. Config Valid       - Configuration file parses and validates
//   4. Download Writable  - Note download directory exists and is writable
//   5. Archive Readable   - Local archive opens and can be counted
//   6. Archive Sealing    - Sealing key state matches configuration
//
// Examples:
//   healio doctor                Run all checks
//   healio doctor --json         Results in JSON
//
// Exit Codes:
//   0   All checks passed
//   1   One or more checks failed

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moneyrudh/healio/internal/config"
	"github.com/moneyrudh/healio/internal/secure"
	"github.com/moneyrudh/healio/internal/storage"
)

// doctorCheckTimeout bounds each network check so a dead backend fails
// fast instead of hanging the whole run.
const doctorCheckTimeout = 3 * time.Second

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the rendered status indicator.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix command or instruction
}

// Render returns a formatted line for the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), ValueStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + DimStyle.Render("   -> "+c.Fix)
	}
	return result
}

// =============================================================================
// JSON OUTPUT SHAPES
// =============================================================================

// DoctorCheck is the JSON shape of one health check.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary is the JSON roll-up of a doctor run.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// DoctorData is the JSON output shape for the doctor command.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor handles the "doctor" command.
func HandleDoctor(args Args) error {
	checks := runAllChecks(args)

	passed, warned, failed := 0, 0, 0
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	if args.JSON {
		return handleDoctorJSON(checks, passed, warned, failed)
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("healio Doctor"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	for _, check := range checks {
		fmt.Println(check.Render())
	}

	fmt.Println()
	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 41)))

	summaryParts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		summaryParts = append(summaryParts, WarningStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		summaryParts = append(summaryParts, ErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	fmt.Println(DimStyle.Render(strings.Join(summaryParts, ", ")))
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d health check(s) failed", failed)
	}

	return nil
}

// handleDoctorJSON outputs doctor results in JSON format.
func handleDoctorJSON(checks []*HealthCheck, passed, warned, failed int) error {
	jsonChecks := make([]DoctorCheck, 0, len(checks))
	for _, check := range checks {
		jsonChecks = append(jsonChecks, DoctorCheck{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Fix:     check.Fix,
		})
	}

	data := DoctorData{
		Checks: jsonChecks,
		Summary: DoctorSummary{
			Passed:  passed,
			Warned:  warned,
			Failed:  failed,
			Healthy: failed == 0,
		},
	}

	resp := NewJSONResponse("doctor", data)
	if failed > 0 {
		errMsg := fmt.Sprintf("%d health check(s) failed", failed)
		resp.Success = false
		resp.Error = &errMsg
	}

	return resp.Print()
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs all health checks and returns the results.
func runAllChecks(args Args) []*HealthCheck {
	cfg := loadConfig()

	return []*HealthCheck{
		checkBackendReachable(cfg, args),
		checkProviderRoster(cfg, args),
		checkConfigValid(),
		checkDownloadWritable(cfg),
		checkArchiveReadable(cfg),
		checkArchiveSealing(cfg),
	}
}

// checkBackendReachable checks that the backend answers its health route.
func checkBackendReachable(cfg *config.Config, args Args) *HealthCheck {
	check := &HealthCheck{Name: "Backend Reachable"}
	client := newClient(cfg, args)

	ctx, cancel := context.WithTimeout(context.Background(), doctorCheckTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Backend not reachable at %s", client.BaseURL())
		check.Fix = "Start the backend, or set HEALIO_BACKEND_URL / --base-url"
		return check
	}

	if !health.Healthy() {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Backend reports status %q", health.Status)
		check.Fix = "Check the backend logs"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Backend healthy at %s", client.BaseURL())
	return check
}

// checkProviderRoster checks that at least one provider is registered.
func checkProviderRoster(cfg *config.Config, args Args) *HealthCheck {
	check := &HealthCheck{Name: "Provider Roster"}
	client := newClient(cfg, args)

	ctx, cancel := context.WithTimeout(context.Background(), doctorCheckTimeout)
	defer cancel()

	providers, err := client.ListProviders(ctx)
	if err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Could not fetch providers: %v", err)
		check.Fix = "Run healio doctor again once the backend is up"
		return check
	}

	if len(providers) == 0 {
		check.Status = CheckWarn
		check.Message = "Provider roster is empty"
		check.Fix = "Register a provider on the backend before consulting"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("%d provider(s) registered", len(providers))

	if cfg.Consult.DefaultProviderID != "" {
		found := false
		for _, p := range providers {
			if p.ID == cfg.Consult.DefaultProviderID {
				found = true
				break
			}
		}
		if !found {
			check.Status = CheckWarn
			check.Message = fmt.Sprintf("Default provider %s not in roster", cfg.Consult.DefaultProviderID)
			check.Fix = "Update consult.default_provider_id in the config"
		}
	}

	return check
}

// checkConfigValid checks that the configuration file loads cleanly.
func checkConfigValid() *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}

	path, err := config.ConfigPath()
	if err != nil {
		check.Status = CheckWarn
		check.Message = "Could not determine config path"
		return check
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		check.Status = CheckPass
		check.Message = "Config valid (using defaults)"
		return check
	}

	if _, err := config.Load(); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %v", err)
		check.Fix = "Run: healio config reset"
		return check
	}

	check.Status = CheckPass
	check.Message = "Config valid"
	return check
}

// checkDownloadWritable checks the note download directory.
func checkDownloadWritable(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Download Writable"}

	dir := cfg.Download.Dir
	if dir == "" {
		check.Status = CheckWarn
		check.Message = "No download directory configured"
		check.Fix = "Set download.dir or HEALIO_DOWNLOAD_DIR"
		return check
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not create download directory: %v", err)
		check.Fix = fmt.Sprintf("Create manually: mkdir -p %s", dir)
		return check
	}

	testFile := filepath.Join(dir, ".healio_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Download directory not writable: %v", err)
		check.Fix = fmt.Sprintf("Check permissions on %s", dir)
		return check
	}
	os.Remove(testFile)

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Download directory writable (%s)", dir)
	return check
}

// probeSealer builds a sealer for inspection without creating key material.
// Unlike newSealer it never writes to disk: a missing key or salt comes back
// as pending=true instead of being initialized on the spot.
func probeSealer(cfg *config.Config) (sealer *secure.Sealer, pending bool, err error) {
	if !cfg.Archive.Seal {
		return nil, false, nil
	}

	if pass := os.Getenv("HEALIO_ARCHIVE_PASSPHRASE"); pass != "" {
		if _, statErr := os.Stat(cfg.Archive.KeyFile + ".salt"); os.IsNotExist(statErr) {
			return nil, true, nil
		}
		sealer, err = secure.NewSealerWithPassphrase(cfg.Archive.KeyFile, pass)
		return sealer, false, err
	}

	sealer, err = secure.NewSealer(cfg.Archive.KeyFile)
	if err != nil {
		return nil, false, err
	}
	if !sealer.IsInitialized() {
		return nil, true, nil
	}
	return sealer, false, nil
}

// checkArchiveReadable checks the local archive opens and counts.
func checkArchiveReadable(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Archive Readable"}

	if !cfg.Archive.Enabled {
		check.Status = CheckPass
		check.Message = "Archive disabled"
		return check
	}

	sealer, _, err := probeSealer(cfg)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Sealing key unusable: %v", err)
		check.Fix = "Check archive.key_file or HEALIO_ARCHIVE_PASSPHRASE"
		return check
	}

	arch, err := storage.Open(storage.Options{
		Path:        cfg.Archive.Path,
		MaxArchived: cfg.Archive.MaxArchived,
		Sealer:      sealer,
	})
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Archive failed to open: %v", err)
		check.Fix = "Check archive.path and its directory permissions"
		return check
	}
	defer arch.Close()

	count, err := arch.Count()
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Archive unreadable: %v", err)
		check.Fix = "The database may be corrupt; move it aside and retry"
		return check
	}

	check.Status = CheckPass
	check.Message = fmt.Sprintf("Archive readable (%d consultation(s))", count)
	return check
}

// checkArchiveSealing reports the sealing key state.
func checkArchiveSealing(cfg *config.Config) *HealthCheck {
	check := &HealthCheck{Name: "Archive Sealing"}

	if !cfg.Archive.Enabled {
		check.Status = CheckPass
		check.Message = "Sealing not applicable (archive disabled)"
		return check
	}

	if !cfg.Archive.Seal {
		check.Status = CheckWarn
		check.Message = "Archive sealing disabled; transcripts stored in plain text"
		check.Fix = "Run: healio config set archive.seal true"
		return check
	}

	sealer, pending, err := probeSealer(cfg)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Sealing key unusable: %v", err)
		check.Fix = "Check archive.key_file or HEALIO_ARCHIVE_PASSPHRASE"
		return check
	}

	if pending {
		check.Status = CheckPass
		check.Message = "Sealing enabled; key will be created on first archive write"
		return check
	}

	status := sealer.Status()
	source := "key file"
	if status.PassphraseBased {
		source = "passphrase"
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("Sealing ready (%s, %s)", status.Algorithm, source)
	return check
}
