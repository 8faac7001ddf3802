// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation for healio.
//
// Command: config [subcommand]
// Short:   View and modify configuration
// Aliases: (none)
//
// Subcommands:
//   show (default)      Display current configuration
//   set <key> <value>   Set a configuration value
//   reset               Reset to default configuration
//   path                Show configuration file path
//
// Examples:
//   healio config                                 Show current config (default)
//   healio config show --json                     Config in JSON format
//   healio config set backend.base_url http://localhost:8000
//   healio config set base_url http://host:8000   Shorthand (unique suffix)
//   healio config set consult.auto_archive true
//   healio config set archive.seal true
//   healio config reset                           Reset to defaults
//   healio config path                            Show config file location
//
// Configuration Keys:
//   backend.base_url             Backend base URL
//   backend.timeout_secs         Request timeout in seconds
//   backend.max_retries          Retry attempts for idempotent requests
//   backend.rate_limit           Requests per second (0 = unlimited)
//   backend.rate_burst           Rate limiter burst size
//   backend.debug                Log requests to stderr (true/false)
//   consult.default_provider_id  Provider preselected for new consultations
//   consult.patient_page_size    Patients fetched per page
//   consult.auto_archive         Archive finished consultations (true/false)
//   download.dir                 Directory for downloaded documentation PDFs
//   archive.enabled              Enable the local archive (true/false)
//   archive.path                 Archive database path
//   archive.max_archived         Max archived consultations (0 = unlimited)
//   archive.seal                 Encrypt archived transcripts (true/false)
//   archive.key_file             Sealing key file path
//   ui.color                     Colored output (true/false)
//   ui.compact                   Compact output (true/false)
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/moneyrudh/healio/internal/config"
)

// Config file path rendered italic to stand apart from values.
var configPathStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245")).
	Italic(true)

// =============================================================================
// JSON OUTPUT SHAPES
// =============================================================================

// ConfigBackendInfo is the backend section of config JSON output.
type ConfigBackendInfo struct {
	BaseURL     string  `json:"base_url"`
	TimeoutSecs int     `json:"timeout_secs"`
	MaxRetries  int     `json:"max_retries"`
	RateLimit   float64 `json:"rate_limit"`
	RateBurst   int     `json:"rate_burst"`
	Debug       bool    `json:"debug"`
}

// ConfigConsultInfo is the consult section of config JSON output.
type ConfigConsultInfo struct {
	DefaultProviderID string `json:"default_provider_id"`
	PatientPageSize   int    `json:"patient_page_size"`
	AutoArchive       bool   `json:"auto_archive"`
}

// ConfigArchiveInfo is the archive section of config JSON output.
type ConfigArchiveInfo struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path"`
	MaxArchived int    `json:"max_archived"`
	Seal        bool   `json:"seal"`
	KeyFile     string `json:"key_file"`
}

// ConfigUIInfo is the ui section of config JSON output.
type ConfigUIInfo struct {
	Color   string `json:"color"`
	Compact bool   `json:"compact"`
}

// ConfigData is the JSON output shape for config show.
type ConfigData struct {
	Backend     ConfigBackendInfo `json:"backend"`
	Consult     ConfigConsultInfo `json:"consult"`
	DownloadDir string            `json:"download_dir"`
	Archive     ConfigArchiveInfo `json:"archive"`
	UI          ConfigUIInfo      `json:"ui"`
	Path        string            `json:"path"`
}

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		if args.JSON {
			return handleConfigShowJSON()
		}
		return handleConfigShow()

	case "set":
		return handleConfigSet(args.ConfigKey, args.ConfigVal)

	case "reset":
		return handleConfigReset()

	case "path":
		if args.JSON {
			return handleConfigPathJSON()
		}
		return handleConfigPath()

	default:
		return ErrUnknownSubcommand("config", args.Subcommand,
			[]string{"show", "set", "reset", "path"})
	}
}

// configFilePath returns the config file path, or "" when the home
// directory cannot be determined.
func configFilePath() string {
	path, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return path
}

// handleConfigShowJSON outputs the configuration in JSON format.
func handleConfigShowJSON() error {
	cfg := loadConfig()

	data := ConfigData{
		Backend: ConfigBackendInfo{
			BaseURL:     cfg.Backend.BaseURL,
			TimeoutSecs: cfg.Backend.TimeoutSecs,
			MaxRetries:  cfg.Backend.MaxRetries,
			RateLimit:   cfg.Backend.RateLimit,
			RateBurst:   cfg.Backend.RateBurst,
			Debug:       cfg.Backend.Debug,
		},
		Consult: ConfigConsultInfo{
			DefaultProviderID: cfg.Consult.DefaultProviderID,
			PatientPageSize:   cfg.Consult.PatientPageSize,
			AutoArchive:       cfg.Consult.AutoArchive,
		},
		DownloadDir: cfg.Download.Dir,
		Archive: ConfigArchiveInfo{
			Enabled:     cfg.Archive.Enabled,
			Path:        cfg.Archive.Path,
			MaxArchived: cfg.Archive.MaxArchived,
			Seal:        cfg.Archive.Seal,
			KeyFile:     cfg.Archive.KeyFile,
		},
		UI: ConfigUIInfo{
			Color:   cfg.UI.Color,
			Compact: cfg.UI.Compact,
		},
		Path: configFilePath(),
	}

	resp := NewJSONResponse("config show", data)
	return resp.Print()
}

// handleConfigShow displays the current configuration.
func handleConfigShow() error {
	cfg := loadConfig()

	fmt.Println()
	fmt.Println(TitleStyle.Render("healio Configuration"))
	fmt.Println(RenderSeparator(41))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[backend]"))
	printConfigKey("base_url:", cfg.Backend.BaseURL)
	printConfigKey("timeout_secs:", fmt.Sprintf("%d seconds", cfg.Backend.TimeoutSecs))
	printConfigKey("max_retries:", fmt.Sprintf("%d", cfg.Backend.MaxRetries))
	rateStr := "unlimited"
	if cfg.Backend.RateLimit > 0 {
		rateStr = fmt.Sprintf("%.1f req/s (burst %d)", cfg.Backend.RateLimit, cfg.Backend.RateBurst)
	}
	printConfigKey("rate_limit:", rateStr)
	printConfigKey("debug:", boolString(cfg.Backend.Debug))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[consult]"))
	providerStr := cfg.Consult.DefaultProviderID
	if providerStr == "" {
		providerStr = "(not set)"
	}
	printConfigKey("default_provider_id:", providerStr)
	printConfigKey("patient_page_size:", fmt.Sprintf("%d", cfg.Consult.PatientPageSize))
	printConfigKey("auto_archive:", boolString(cfg.Consult.AutoArchive))
	fmt.Println()

	fmt.Println(SectionStyle.Render("[download]"))
	printConfigKey("dir:", cfg.Download.Dir)
	fmt.Println()

	fmt.Println(SectionStyle.Render("[archive]"))
	printConfigKey("enabled:", boolString(cfg.Archive.Enabled))
	printConfigKey("path:", cfg.Archive.Path)
	maxStr := "unlimited"
	if cfg.Archive.MaxArchived > 0 {
		maxStr = fmt.Sprintf("%d", cfg.Archive.MaxArchived)
	}
	printConfigKey("max_archived:", maxStr)
	printConfigKey("seal:", boolString(cfg.Archive.Seal))
	printConfigKey("key_file:", cfg.Archive.KeyFile)
	fmt.Println()

	fmt.Println(SectionStyle.Render("[ui]"))
	printConfigKey("color:", cfg.UI.Color)
	printConfigKey("compact:", boolString(cfg.UI.Compact))
	fmt.Println()

	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 41)))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(configFilePath()))
	fmt.Println()

	return nil
}

// printConfigKey prints one indented key/value line.
func printConfigKey(key, value string) {
	fmt.Printf("  %s%s\n", LabelStyle.Render(key), ValueStyle.Render(value))
}

// boolString renders a bool the way it appears in the TOML file.
func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// =============================================================================
// CONFIG SET
// =============================================================================

// handleConfigSet sets a configuration value.
func handleConfigSet(key, value string) error {
	if key == "" {
		return NewUsageError("config", "no config key provided",
			"healio config set <key> <value>")
	}
	if value == "" {
		return NewUsageError("config", "no config value provided",
			fmt.Sprintf("healio config set %s <value>", key))
	}

	cfg := loadConfig()

	resolved, err := resolveConfigKey(key)
	if err != nil {
		return err
	}

	if err := cfg.Set(resolved, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", resolved, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	// Echo the normalized value so trimmed URLs etc. show what was stored.
	stored := value
	if v, getErr := cfg.Get(resolved); getErr == nil {
		stored = fmt.Sprintf("%v", v)
	}
	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), resolved, stored)

	return nil
}

// resolveConfigKey resolves a possibly-shortened key against the known
// configuration keys. Full dotted keys pass through; a bare name matches
// when it is the unique final segment (or unique suffix) of one key, so
// "seal" resolves to "archive.seal" while "debug" stays unambiguous.
func resolveConfigKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	known := config.GetAllKeys()

	for _, k := range known {
		if k == key {
			return k, nil
		}
	}

	var matches []string
	for _, k := range known {
		if strings.HasSuffix(k, "."+key) {
			matches = append(matches, k)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("unknown config key: %s\n\nValid keys:\n  %s",
			key, strings.Join(known, "\n  "))
	default:
		return "", fmt.Errorf("ambiguous config key %q: matches %s",
			key, strings.Join(matches, ", "))
	}
}

// =============================================================================
// CONFIG RESET / PATH
// =============================================================================

// handleConfigReset resets configuration to defaults.
func handleConfigReset() error {
	cfg := config.Default()

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("%s Configuration reset to defaults\n", SuccessStyle.Render("[OK]"))
	fmt.Printf("Config file: %s\n", configPathStyle.Render(configFilePath()))

	return nil
}

// handleConfigPath shows the config file path.
func handleConfigPath() error {
	path := configFilePath()
	fmt.Println(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "%s (file does not exist - will be created on first use)\n",
			DimStyle.Render("Note"))
	}

	return nil
}

// handleConfigPathJSON outputs the config path in JSON format.
func handleConfigPathJSON() error {
	path := configFilePath()
	_, err := os.Stat(path)
	exists := !os.IsNotExist(err)

	data := map[string]interface{}{
		"path":   path,
		"exists": exists,
	}

	resp := NewJSONResponse("config path", data)
	return resp.Print()
}
