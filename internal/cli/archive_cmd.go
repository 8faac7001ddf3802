// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// archive_cmd.go - Archived consultation commands for healio.
//
// Command: archive [subcommand]
// Short:   Browse the local archive of finished consultations
// Aliases: archives, a
//
// Subcommands:
//   list (default)      List archived consultations
//   show <id>           Show an archived transcript
//   search <query>      Search patient names and message text
//   export <id>         Print a transcript export (--format md|json)
//   delete <id>         Delete one record (requires --confirm)
//   clear               Delete all records (requires --confirm)
//   stats               Archive statistics
//
// Examples:
//   healio archive                          List archived consultations
//   healio archive show 3f9c12ab            Show one (id prefixes work)
//   healio archive search "chest pain"      Search message text
//   healio archive export 3f9c12ab --format md > note.md
//   healio archive delete 3f9c12ab --confirm
//   healio archive clear --confirm
//   healio archive stats --json
//
// The archive lives at ~/.healio/archive.db (configurable). When sealing is
// enabled, message text and summaries are AES-256-GCM encrypted at rest;
// the key comes from ~/.healio/archive.key or is derived from
// HEALIO_ARCHIVE_PASSPHRASE.

package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/moneyrudh/healio/internal/config"
	"github.com/moneyrudh/healio/internal/model"
	"github.com/moneyrudh/healio/internal/secure"
	"github.com/moneyrudh/healio/internal/storage"
	"github.com/moneyrudh/healio/internal/util"
)

// HandleArchive handles the "archive" command.
func HandleArchive(args Args) error {
	cfg := loadConfig()

	arch, err := openArchive(cfg)
	if err != nil {
		return WrapError(err, "failed to open archive")
	}
	defer arch.Close()

	switch args.Subcommand {
	case "", "list", "ls":
		return handleArchiveList(arch, args)
	case "show", "view":
		return handleArchiveShow(arch, args)
	case "search", "find":
		return handleArchiveSearch(arch, args)
	case "export":
		return handleArchiveExport(arch, args)
	case "delete", "rm":
		return handleArchiveDelete(arch, args)
	case "clear":
		return handleArchiveClear(arch, args)
	case "stats":
		return handleArchiveStats(arch, args)
	default:
		return ErrUnknownSubcommand("archive", args.Subcommand,
			[]string{"list", "show", "search", "export", "delete", "clear", "stats"})
	}
}

// =============================================================================
// ARCHIVE ACCESS
// =============================================================================

// openArchive opens the archive configured in cfg, building the sealer when
// sealing is enabled. HEALIO_ARCHIVE_PASSPHRASE beats the key file so a
// passphrase-sealed archive can be read on a machine without the key.
func openArchive(cfg *config.Config) (*storage.Archive, error) {
	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}

	return storage.Open(storage.Options{
		Path:        cfg.Archive.Path,
		MaxArchived: cfg.Archive.MaxArchived,
		Sealer:      sealer,
	})
}

// newSealer builds the archive sealer, or nil when sealing is disabled.
func newSealer(cfg *config.Config) (*secure.Sealer, error) {
	if !cfg.Archive.Seal {
		return nil, nil
	}

	if pass := os.Getenv("HEALIO_ARCHIVE_PASSPHRASE"); pass != "" {
		return secure.NewSealerWithPassphrase(cfg.Archive.KeyFile, pass)
	}

	sealer, err := secure.NewSealer(cfg.Archive.KeyFile)
	if err != nil {
		return nil, err
	}
	if !sealer.IsInitialized() {
		if err := sealer.Init(); err != nil {
			return nil, err
		}
	}
	return sealer, nil
}

// =============================================================================
// ARCHIVE LIST
// =============================================================================

// ArchiveListData is the JSON output shape for archive list and search.
type ArchiveListData struct {
	Consultations []storage.ArchiveMeta `json:"consultations"`
	Count         int                   `json:"count"`
}

func handleArchiveList(arch *storage.Archive, args Args) error {
	metas, err := arch.List()
	if err != nil {
		return WrapError(err, "failed to list archive")
	}

	if args.JSON {
		return NewJSONResponse("archive list", ArchiveListData{
			Consultations: metas,
			Count:         len(metas),
		}).Print()
	}

	if len(metas) == 0 {
		fmt.Println()
		fmt.Println("No archived consultations.")
		fmt.Println()
		fmt.Println("Finished consultations are archived automatically when archiving is")
		fmt.Println("enabled, or with /archive inside the consult REPL.")
		fmt.Println()
		return nil
	}

	fmt.Println()
	fmt.Print(storage.FormatArchiveList(metas))
	fmt.Println()
	fmt.Printf("Total: %d consultation(s)\n", len(metas))
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  healio archive show <id>               View transcript")
	fmt.Println("  healio archive export <id> --format md Export as Markdown")
	fmt.Println("  healio archive delete <id> --confirm   Delete record")
	fmt.Println()

	return nil
}

// =============================================================================
// ARCHIVE SHOW
// =============================================================================

func handleArchiveShow(arch *storage.Archive, args Args) error {
	if args.ID == "" {
		return ErrMissingArgument("archive show", "consultation id",
			"healio archive show <id>")
	}

	rec, err := loadArchivedByPrefix(arch, args.ID)
	if err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("archive show", rec).Print()
	}

	fmt.Println()
	fmt.Printf("Consultation: %s\n", rec.PatientName)
	fmt.Println(RenderSeparator())
	fmt.Println()
	printField("ID:", rec.ID)
	printField("Patient:", rec.PatientName)
	if rec.PatientMRN != "" {
		printField("Record No.:", rec.PatientMRN)
	}
	if rec.ProviderName != "" {
		printField("Provider:", rec.ProviderName)
	}
	printField("Date:", rec.SessionDate.Local().Format(time.RFC1123))
	printField("Status:", rec.Status)
	printField("Messages:", fmt.Sprintf("%d", len(rec.Messages)))
	if rec.Summary != nil {
		printField("Summary:", fmt.Sprintf("%d section(s)", len(rec.Summary.Sections)))
	}
	fmt.Println()

	fmt.Println("Transcript:")
	fmt.Println(SeparatorStyle.Render(strings.Repeat("-", 60)))
	for i, msg := range rec.Messages {
		sender := "Provider"
		if msg.Sender == model.SenderAI {
			sender = "Assistant"
		}
		preview := util.CollapseLines(msg.Text)
		preview = util.TruncateRunes(preview, 100)
		fmt.Printf("[%d] %s: %s\n", i+1, sender, preview)
	}

	fmt.Println()
	fmt.Printf("Full transcript: healio archive export %s --format md\n", rec.ID)
	fmt.Println()

	return nil
}

// =============================================================================
// ARCHIVE SEARCH
// =============================================================================

func handleArchiveSearch(arch *storage.Archive, args Args) error {
	query := args.Query
	if query == "" {
		query = args.ID
	}
	if query == "" {
		return ErrMissingArgument("archive search", "query",
			"healio archive search <query>")
	}

	metas, err := arch.Search(query)
	if err != nil {
		return WrapError(err, "archive search failed")
	}

	if args.JSON {
		return NewJSONResponse("archive search", ArchiveListData{
			Consultations: metas,
			Count:         len(metas),
		}).Print()
	}

	if len(metas) == 0 {
		fmt.Printf("No archived consultations match %q.\n", query)
		return nil
	}

	fmt.Println()
	fmt.Printf("Matches for %q:\n", query)
	fmt.Println()
	fmt.Print(storage.FormatArchiveList(metas))
	fmt.Println()

	return nil
}

// =============================================================================
// ARCHIVE EXPORT
// =============================================================================

func handleArchiveExport(arch *storage.Archive, args Args) error {
	if args.ID == "" {
		return ErrMissingArgument("archive export", "consultation id",
			"healio archive export <id> [--format md|json]")
	}

	format := args.Format
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "json" {
		return ErrUnsupportedFormat(format, []string{"md", "json"})
	}

	rec, err := loadArchivedByPrefix(arch, args.ID)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		data, err := rec.ExportJSON()
		if err != nil {
			return WrapError(err, "failed to render JSON export")
		}
		fmt.Println(string(data))
	default:
		fmt.Print(rec.ExportMarkdown())
	}

	return nil
}

// =============================================================================
// ARCHIVE DELETE / CLEAR
// =============================================================================

func handleArchiveDelete(arch *storage.Archive, args Args) error {
	if args.ID == "" {
		return ErrMissingArgument("archive delete", "consultation id",
			"healio archive delete <id> --confirm")
	}
	if !args.Confirm {
		return NewUsageError("archive delete", "deletion requires --confirm",
			fmt.Sprintf("healio archive delete %s --confirm", args.ID))
	}

	// Resolve the prefix first so the confirmation names the right record.
	rec, err := loadArchivedByPrefix(arch, args.ID)
	if err != nil {
		return err
	}

	if err := arch.Delete(rec.ID); err != nil {
		return WrapError(err, "failed to delete archived consultation")
	}

	if args.JSON {
		return NewJSONResponse("archive delete", map[string]interface{}{
			"deleted":      true,
			"id":           rec.ID,
			"patient_name": rec.PatientName,
		}).Print()
	}

	fmt.Printf("%s Deleted archived consultation %s (%s)\n",
		SuccessStyle.Render("[OK]"), rec.ID, rec.PatientName)

	return nil
}

func handleArchiveClear(arch *storage.Archive, args Args) error {
	if !args.Confirm {
		return NewUsageError("archive clear", "deletion requires --confirm",
			"healio archive clear --confirm")
	}

	count, err := arch.Count()
	if err != nil {
		return WrapError(err, "failed to count archive")
	}

	if count == 0 {
		if args.JSON {
			return NewJSONResponse("archive clear", map[string]interface{}{
				"deleted": 0,
			}).Print()
		}
		fmt.Println("No archived consultations to delete.")
		return nil
	}

	if err := arch.Clear(); err != nil {
		return WrapError(err, "failed to clear archive")
	}

	if args.JSON {
		return NewJSONResponse("archive clear", map[string]interface{}{
			"deleted": count,
		}).Print()
	}

	fmt.Printf("%s Deleted %d archived consultation(s)\n", SuccessStyle.Render("[OK]"), count)

	return nil
}

// =============================================================================
// ARCHIVE STATS
// =============================================================================

// ArchiveStatsData is the JSON output shape for archive stats.
type ArchiveStatsData struct {
	Total         int            `json:"total"`
	TotalMessages int            `json:"total_messages"`
	Sealed        int            `json:"sealed"`
	ByStatus      map[string]int `json:"by_status"`
	Oldest        *time.Time     `json:"oldest,omitempty"`
	Newest        *time.Time     `json:"newest,omitempty"`
	Path          string         `json:"path"`
	SizeBytes     int64          `json:"size_bytes"`
}

func handleArchiveStats(arch *storage.Archive, args Args) error {
	metas, err := arch.List()
	if err != nil {
		return WrapError(err, "failed to list archive")
	}

	stats := ArchiveStatsData{
		Total:    len(metas),
		ByStatus: make(map[string]int),
		Path:     arch.Path(),
	}

	var oldest, newest time.Time
	for _, m := range metas {
		stats.TotalMessages += m.MessageCount
		stats.ByStatus[m.Status]++
		if m.Sealed {
			stats.Sealed++
		}
		if oldest.IsZero() || m.ArchivedAt.Before(oldest) {
			oldest = m.ArchivedAt
		}
		if newest.IsZero() || m.ArchivedAt.After(newest) {
			newest = m.ArchivedAt
		}
	}
	if !oldest.IsZero() {
		stats.Oldest = &oldest
	}
	if !newest.IsZero() {
		stats.Newest = &newest
	}
	if info, err := os.Stat(arch.Path()); err == nil {
		stats.SizeBytes = info.Size()
	}

	if args.JSON {
		return NewJSONResponse("archive stats", stats).Print()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Archive Statistics"))
	fmt.Println(RenderSeparator(40))
	fmt.Println()
	printField("Consultations:", fmt.Sprintf("%d", stats.Total))
	printField("Messages:", fmt.Sprintf("%d", stats.TotalMessages))
	printField("Sealed:", fmt.Sprintf("%d", stats.Sealed))
	printField("Storage:", formatBytes(stats.SizeBytes))
	fmt.Println()

	if len(stats.ByStatus) > 0 {
		fmt.Println("By status:")
		statuses := make([]string, 0, len(stats.ByStatus))
		for s := range stats.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("  %-16s %d\n", s, stats.ByStatus[s])
		}
		fmt.Println()
	}

	if stats.Oldest != nil {
		printField("First archived:", stats.Oldest.Local().Format("2006-01-02 15:04"))
	}
	if stats.Newest != nil {
		printField("Last archived:", stats.Newest.Local().Format("2006-01-02 15:04"))
	}
	printField("Location:", stats.Path)
	fmt.Println()

	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadArchivedByPrefix loads a record by full id or unambiguous id prefix,
// so the truncated ids shown in list output are directly usable.
func loadArchivedByPrefix(arch *storage.Archive, idOrPrefix string) (*storage.ArchivedConsultation, error) {
	rec, err := arch.Load(idOrPrefix)
	if err == nil {
		return rec, nil
	}

	metas, listErr := arch.List()
	if listErr != nil {
		return nil, err
	}

	var match string
	for _, m := range metas {
		if strings.HasPrefix(m.ID, idOrPrefix) {
			if match != "" {
				return nil, NewUsageError("archive",
					fmt.Sprintf("id prefix %q is ambiguous", idOrPrefix),
					"healio archive list")
			}
			match = m.ID
		}
	}
	if match == "" {
		return nil, err
	}

	return arch.Load(match)
}

// formatBytes formats a byte count for humans.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for u := n / unit; u >= unit; u /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
