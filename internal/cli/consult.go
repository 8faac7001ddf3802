// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// consult.go - Interactive consultation command handler for the healio CLI.
//
// Handles the "healio consult" command: a guided REPL that walks a provider
// through the documentation sections of a patient consultation, streaming
// the assistant's replies as they arrive.
//
// Command: consult (default)
// Short:   Start or resume a guided consultation
// Aliases: chat, c
//
// Examples:
//   healio consult                    Start a consultation (interactive setup)
//   healio consult --patient ID       Preselect the patient
//   healio consult --provider ID      Preselect the provider
//   healio consult --resume ID        Resume an existing consultation
//
// Flags:
//   -r, --resume ID     Resume consultation by id
//   --provider ID       Preselect provider
//   --patient ID        Preselect patient (id or MRN)
//
// Interactive Commands (during consult):
//   /help, /h           Show available commands
//   /status, /s         Show consultation status
//   /sections           Show documentation section progress
//   /history            Show the conversation so far
//   /summary            Show the structured note (after completion)
//   /download           Download the note PDF (after completion)
//   /archive            Archive this consultation locally
//   /quit, /q           Exit
//   Ctrl+C              Cancel the current turn
//   Ctrl+D              Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/config"
	"github.com/moneyrudh/healio/internal/model"
	"github.com/moneyrudh/healio/internal/session"
	"github.com/moneyrudh/healio/internal/storage"
	"github.com/moneyrudh/healio/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// REPL prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// Assistant message label
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")). // Blue
			Bold(true)

	// Provider (you) message label in history views
	youStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // Cyan

	// Section transition banner
	sectionBannerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")). // Amber
				Bold(true)

	// Citation block under assistant replies
	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")). // Dim
			Italic(true)
)

// errSelectionAborted marks a provider/patient menu the user backed out of.
var errSelectionAborted = errors.New("selection cancelled")

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ConsultCLI provides input history and line editing for the consult REPL.
type ConsultCLI struct {
	line        *liner.State
	historyFile string
}

// NewConsultCLI creates a ConsultCLI with input history support.
func NewConsultCLI() *ConsultCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	historyFile := filepath.Join(configDir, "consult_history")

	cli := &ConsultCLI{
		line:        line,
		historyFile: historyFile,
	}

	cli.LoadHistory()

	return cli
}

// LoadHistory loads input history from file.
func (c *ConsultCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt. Arrow keys
// navigate history.
func (c *ConsultCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}

	return input, nil
}

// SaveHistory persists input history with owner-only permissions. The
// transcript itself never lands here, but answers typed at the prompt do,
// so the file is treated like patient data.
func (c *ConsultCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}

	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ConsultCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// NOTE ARTIFACT SAVER
// =============================================================================

// DirSaver writes downloaded note artifacts into a fixed directory,
// satisfying the orchestrator's saver contract. The server-proposed
// filename is flattened to its base so it cannot escape the directory.
type DirSaver struct {
	Dir string
}

// SaveArtifact writes data under the saver's directory and returns the
// destination path.
func (s DirSaver) SaveArtifact(filename string, data []byte) (string, error) {
	name := filepath.Base(filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "consultation-note.pdf"
	}
	path := filepath.Join(s.Dir, name)
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return "", err
	}
	return path, nil
}

// =============================================================================
// TURN PRINTER
// =============================================================================

// turnPrinter renders orchestrator callbacks onto the terminal. Streamed
// deltas print as they arrive; when the settled message matches what was
// streamed only the line is closed, and when it differs (a citation-backed
// replacement) the corrected text prints in full. Provider echoes are
// skipped - the user just typed them.
type turnPrinter struct {
	streamed strings.Builder
	midline  bool
}

func (p *turnPrinter) onDelta(delta string) {
	if p.streamed.Len() == 0 && !p.midline {
		fmt.Print(assistantStyle.Render("Assistant:") + " ")
	}
	fmt.Print(delta)
	p.midline = true
	p.streamed.WriteString(delta)
}

func (p *turnPrinter) onMessage(msg *model.ChatMessage) {
	if msg.Sender != model.SenderAI {
		return
	}

	text := msg.DisplayText()
	if p.streamed.Len() > 0 {
		fmt.Println()
		p.midline = false
		if text != p.streamed.String() {
			p.printAssistant(text)
		}
		p.streamed.Reset()
	} else {
		if p.midline {
			fmt.Println()
			p.midline = false
		}
		p.printAssistant(text)
	}

	printSources(msg.Content.Sources)
}

func (p *turnPrinter) onSection(prev, cur model.Section) {
	if p.midline {
		fmt.Println()
		p.midline = false
	}
	fmt.Println()
	fmt.Println(sectionBannerStyle.Render(fmt.Sprintf("── %s ──", cur.Title())))
	fmt.Println()
}

// finishTurn closes any dangling streamed line after a turn ends.
func (p *turnPrinter) finishTurn() {
	if p.midline {
		fmt.Println()
		p.midline = false
	}
	p.streamed.Reset()
}

func (p *turnPrinter) printAssistant(text string) {
	fmt.Printf("%s %s\n", assistantStyle.Render("Assistant:"), text)
}

// printSources prints the citation block under an assistant reply.
func printSources(sources []model.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println(sourceStyle.Render("  Sources:"))
	for i, src := range sources {
		line := fmt.Sprintf("    [%d] %s", i+1, src.Title)
		if src.PMCID != "" {
			line += " (" + src.PMCID + ")"
		}
		fmt.Println(sourceStyle.Render(line))
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ConsultSession holds the state for one interactive consultation run.
type ConsultSession struct {
	Config *config.Config
	Client *api.Client
	Orch   *session.Orchestrator

	// Input history handler
	Input *ConsultCLI

	// Cancel function for the in-flight turn or download
	CancelFunc context.CancelFunc

	StartTime time.Time

	printer        *turnPrinter
	completionDone bool
}

// NewConsultSession wires an orchestrator's callbacks to the terminal.
func NewConsultSession(cfg *config.Config, client *api.Client, orch *session.Orchestrator) *ConsultSession {
	cs := &ConsultSession{
		Config:    cfg,
		Client:    client,
		Orch:      orch,
		Input:     NewConsultCLI(),
		StartTime: time.Now(),
		printer:   &turnPrinter{},
	}

	orch.SetDeltaCallback(cs.printer.onDelta)
	orch.SetMessageCallback(cs.printer.onMessage)
	orch.SetSectionCallback(cs.printer.onSection)

	return cs
}

// turnContext returns a cancellable context registered as the current
// operation, so the Ctrl+C handler can abort it.
func (cs *ConsultSession) turnContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	cs.CancelFunc = cancel
	return ctx, func() {
		cs.CancelFunc = nil
		cancel()
	}
}

// =============================================================================
// CONSULT HANDLER
// =============================================================================

// HandleConsult handles the "consult" command with full interactive support.
func HandleConsult(args Args) error {
	if err := RequiresTTY("consult"); err != nil {
		return err
	}

	cfg := loadConfig()
	client := newClient(cfg, args)

	// The REPL is useless without a backend; fail fast with a pointer to
	// the doctor command instead of erroring on the first turn.
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	health, err := client.Health(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("backend not reachable at %s (check with: healio doctor): %w",
			client.BaseURL(), err)
	}
	if !health.Healthy() {
		fmt.Fprintf(os.Stderr, "%s Backend reports status %q\n",
			WarningStyle.Render("[!]"), health.Status)
	}

	orch := session.NewOrchestrator(client, DirSaver{Dir: cfg.Download.Dir})
	cs := NewConsultSession(cfg, client, orch)
	defer cs.Input.Close()

	ctx := context.Background()

	if args.Resume != "" {
		if err := orch.LoadSession(ctx, args.Resume); err != nil {
			return err
		}
		printWelcome(cs)
		printRecentHistory(cs, 6)
	} else {
		if err := setupConsultation(ctx, cs, args); err != nil {
			if errors.Is(err, errSelectionAborted) {
				fmt.Println(DimStyle.Render("Cancelled."))
				return nil
			}
			return err
		}
	}

	if cs.Orch.Complete() {
		cs.completionDone = true
		fmt.Println(SuccessStyle.Render("[Consultation complete]"))
		fmt.Println(DimStyle.Render("Review with /summary, download with /download, or /quit."))
		fmt.Println()
	}

	// First Ctrl+C cancels the in-flight operation; at the prompt liner
	// turns it into ErrPromptAborted instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for sig := range sigChan {
			if sig == os.Interrupt || sig == syscall.SIGTERM {
				if cs.CancelFunc != nil {
					cs.CancelFunc()
					cs.CancelFunc = nil
					fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
				}
			}
		}
	}()

	for {
		input, err := cs.Input.ReadInput(promptStyle.Render("healio> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D) - exit gracefully.
			fmt.Println()
			printExitSummary(cs)
			return nil
		}

		input = strings.TrimSpace(input)

		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldContinue, err := handleConsultCommand(cs, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				printExitSummary(cs)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(cs)
			return nil
		}

		if err := cs.sendTurn(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// CONSULTATION SETUP
// =============================================================================

// setupConsultation selects provider and patient, offers to resume any
// in-progress consultations for that patient, and otherwise opens a new one.
func setupConsultation(ctx context.Context, cs *ConsultSession, args Args) error {
	provider, err := selectProvider(ctx, cs, args.ProviderID)
	if err != nil {
		return err
	}
	cs.Orch.SelectProvider(*provider)

	patient, err := selectPatient(ctx, cs, args.PatientID)
	if err != nil {
		return err
	}
	cs.Orch.SelectPatient(*patient)

	resumeID, err := offerResume(ctx, cs, patient.ID)
	if err != nil {
		return err
	}

	if resumeID != "" {
		if err := cs.Orch.LoadSession(ctx, resumeID); err != nil {
			return err
		}
		printWelcome(cs)
		printRecentHistory(cs, 6)
		return nil
	}

	// Banner first so the assistant's opening prompt lands under it.
	printWelcome(cs)
	return cs.Orch.CreateSession(ctx)
}

// selectProvider resolves the consulting provider: the --provider flag,
// then the configured default, then an interactive menu.
func selectProvider(ctx context.Context, cs *ConsultSession, flagID string) (*model.Provider, error) {
	providers, err := cs.Client.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, errors.New("no providers registered on the backend")
	}

	want := flagID
	if want == "" {
		want = cs.Config.Consult.DefaultProviderID
	}
	if want != "" {
		for i := range providers {
			if providers[i].ID == want || strings.EqualFold(providers[i].Name, want) {
				return &providers[i], nil
			}
		}
		if flagID != "" {
			return nil, fmt.Errorf("provider %q not found in roster", flagID)
		}
		fmt.Fprintf(os.Stderr, "%s Default provider %s not in roster\n",
			WarningStyle.Render("[!]"), want)
	}

	if len(providers) == 1 {
		fmt.Printf("%s %s\n", DimStyle.Render("Provider:"),
			HighlightStyle.Render(providerLine(providers[0])))
		return &providers[0], nil
	}

	fmt.Println()
	fmt.Println(SectionStyle.Render("Select a provider"))
	for i, p := range providers {
		fmt.Printf("  %d. %s\n", i+1, providerLine(p))
	}
	fmt.Println()

	for {
		input, err := cs.Input.ReadInput(promptStyle.Render("Provider number (q to cancel)> "))
		if err != nil {
			return nil, errSelectionAborted
		}
		input = strings.TrimSpace(input)
		if strings.EqualFold(input, "q") {
			return nil, errSelectionAborted
		}
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(providers) {
			return &providers[n-1], nil
		}
		fmt.Println(DimStyle.Render(fmt.Sprintf("Enter a number between 1 and %d.", len(providers))))
	}
}

// providerLine renders one provider menu row.
func providerLine(p model.Provider) string {
	if p.Specialty != "" {
		return fmt.Sprintf("%s (%s)", p.Name, p.Specialty)
	}
	return p.Name
}

// selectPatient resolves the patient: the --patient flag (id or MRN), then
// an interactive paged menu that also accepts direct record-number lookup.
func selectPatient(ctx context.Context, cs *ConsultSession, flagID string) (*model.Patient, error) {
	if flagID != "" {
		if strings.HasPrefix(strings.ToUpper(flagID), "MRN-") {
			return cs.Client.GetPatientByMRN(ctx, strings.ToUpper(flagID))
		}
		return cs.Client.GetPatient(ctx, flagID)
	}

	limit := cs.Config.Consult.PatientPageSize
	if limit <= 0 {
		limit = api.DefaultPatientPageSize
	}
	offset := 0

	patients, err := cs.Client.ListPatients(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return nil, errors.New("no patients registered; create one with: healio patients create --name NAME --dob YYYY-MM-DD")
	}

	for {
		fmt.Println()
		fmt.Println(SectionStyle.Render("Select a patient"))
		for i, p := range patients {
			fmt.Printf("  %d. %-24s %-12s %s\n", i+1,
				util.TruncateRunes(p.Name, 22), p.DOB, p.MRN)
		}
		fmt.Println()
		fmt.Println(DimStyle.Render("Enter a number, a record number (MRN-...), n for next page, q to cancel."))

		input, err := cs.Input.ReadInput(promptStyle.Render("Patient> "))
		if err != nil {
			return nil, errSelectionAborted
		}
		input = strings.TrimSpace(input)

		switch {
		case strings.EqualFold(input, "q"):
			return nil, errSelectionAborted

		case strings.EqualFold(input, "n"):
			next, err := cs.Client.ListPatients(ctx, limit, offset+limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
				continue
			}
			if len(next) == 0 {
				fmt.Println(DimStyle.Render("No more patients."))
				continue
			}
			offset += limit
			patients = next

		case strings.HasPrefix(strings.ToUpper(input), "MRN-"):
			patient, err := cs.Client.GetPatientByMRN(ctx, strings.ToUpper(input))
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
				continue
			}
			return patient, nil

		default:
			if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(patients) {
				return &patients[n-1], nil
			}
			fmt.Println(DimStyle.Render(fmt.Sprintf("Enter a number between 1 and %d.", len(patients))))
		}
	}
}

// offerResume lists the patient's in-progress consultations and lets the
// user pick one to resume. Empty return means start a new consultation.
// Listing failures are not fatal - a new consultation can still be opened.
func offerResume(ctx context.Context, cs *ConsultSession, patientID string) (string, error) {
	sessions, err := cs.Client.ListConsultations(ctx, patientID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Could not list existing consultations: %v\n",
			WarningStyle.Render("[!]"), err)
		return "", nil
	}

	var open []model.ConsultationSession
	for _, s := range sessions {
		if s.Active() {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return "", nil
	}

	fmt.Println()
	fmt.Println(SectionStyle.Render("In-progress consultations for this patient"))
	for i, s := range open {
		date := ""
		if !s.SessionDate.IsZero() {
			date = s.SessionDate.Format("2006-01-02")
		}
		fmt.Printf("  %d. %s  %s  %s\n", i+1,
			DimStyle.Render(s.ID), date, s.CurrentSection.Title())
	}
	fmt.Println()

	for {
		input, err := cs.Input.ReadInput(promptStyle.Render("Resume which? (Enter for new)> "))
		if err != nil {
			return "", errSelectionAborted
		}
		input = strings.TrimSpace(input)
		if input == "" || strings.EqualFold(input, "n") || strings.EqualFold(input, "new") {
			return "", nil
		}
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(open) {
			return open[n-1].ID, nil
		}
		fmt.Println(DimStyle.Render(fmt.Sprintf("Enter a number between 1 and %d, or press Enter.", len(open))))
	}
}

// =============================================================================
// TURN PROCESSING
// =============================================================================

// sendTurn submits one answer and streams the assistant's reply.
func (cs *ConsultSession) sendTurn(input string) error {
	ctx, done := cs.turnContext()
	defer done()

	fmt.Println()
	err := cs.Orch.SendMessage(ctx, input)
	cs.printer.finishTurn()

	if err != nil {
		switch {
		case errors.Is(err, session.ErrConsultationComplete):
			fmt.Println(DimStyle.Render("The consultation is complete. Use /summary, /download, /archive or /quit."))
			return nil
		case errors.Is(err, context.Canceled):
			// The signal handler already announced the cancellation.
			return nil
		default:
			return err
		}
	}

	fmt.Println()

	if cs.Orch.Complete() && !cs.completionDone {
		cs.completionDone = true
		cs.handleCompletion()
	}

	return nil
}

// handleCompletion runs once when the final section settles: announces the
// finish, auto-archives when configured, and points at the note commands.
func (cs *ConsultSession) handleCompletion() {
	fmt.Println(SuccessStyle.Render("[Consultation complete]") + " All sections documented.")

	if cs.Config.Archive.Enabled && cs.Config.Consult.AutoArchive {
		if err := cs.archiveNow(); err != nil {
			fmt.Fprintf(os.Stderr, "%s Auto-archive failed: %v\n",
				WarningStyle.Render("[!]"), err)
		}
	}

	fmt.Println(DimStyle.Render("Review with /summary, download the note with /download."))
	fmt.Println()
}

// archiveNow stores the finished consultation in the local archive. The
// structured note is fetched best-effort so the record carries it.
func (cs *ConsultSession) archiveNow() error {
	if !cs.Config.Archive.Enabled {
		fmt.Println(DimStyle.Render("Archive is disabled. Enable with: healio config set archive.enabled true"))
		return nil
	}
	if !cs.Orch.Complete() {
		fmt.Println(DimStyle.Render("Archiving is available once the consultation is complete."))
		return nil
	}

	ctx, done := cs.turnContext()
	defer done()

	summary, err := cs.Orch.LoadSummary(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Archiving without structured note: %v\n",
			WarningStyle.Render("[!]"), err)
		summary = cs.Orch.Summary()
	}

	arch, err := openArchive(cs.Config)
	if err != nil {
		return err
	}
	defer arch.Close()

	rec := storage.NewArchivedConsultation(
		cs.Orch.Session(),
		cs.Orch.Patient(),
		cs.Orch.Provider(),
		cs.Orch.Transcript().Messages(),
		summary,
	)

	id, err := arch.Save(rec)
	if err != nil {
		return err
	}

	fmt.Printf("%s Archived consultation %s\n", SuccessStyle.Render("[OK]"), id)
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleConsultCommand processes REPL slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func handleConsultCommand(cs *ConsultSession, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	switch strings.ToLower(parts[0]) {
	case "/help", "/h", "/?", "/":
		printConsultHelp()
		return true, nil

	case "/status", "/s":
		printConsultStatus(cs)
		return true, nil

	case "/sections":
		printSectionProgress(cs)
		return true, nil

	case "/history":
		printConsultHistory(cs)
		return true, nil

	case "/summary":
		return true, showSummary(cs)

	case "/download":
		return true, downloadNote(cs)

	case "/archive":
		return true, cs.archiveNow()

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", parts[0])
	}
}

// printConsultHelp prints available REPL commands.
func printConsultHelp() {
	fmt.Println()
	fmt.Println(TitleStyle.Render("Available Commands"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/status, /s", "Show consultation status"},
		{"/sections", "Show documentation section progress"},
		{"/history", "Show the conversation so far"},
		{"/summary", "Show the structured note (after completion)"},
		{"/download", "Download the note PDF (after completion)"},
		{"/archive", "Archive this consultation locally"},
		{"/quit, /q", "Exit"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			HighlightStyle.Render(fmt.Sprintf("%-12s", c.cmd)),
			DimStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(DimStyle.Render("Tip: Ctrl+C cancels the current turn, Ctrl+D exits"))
	fmt.Println()
}

// sectionProgress renders a section with its position in the protocol.
func sectionProgress(s model.Section) string {
	if s.Terminal() {
		return "Complete"
	}
	total := len(model.SectionOrder) - 1
	return fmt.Sprintf("%s (%d/%d)", s.Title(), s.Index()+1, total)
}

// printConsultStatus prints the current consultation status.
func printConsultStatus(cs *ConsultSession) {
	st := cs.Orch.GetStatus()
	elapsed := time.Since(cs.StartTime).Round(time.Second)

	fmt.Println()
	fmt.Println(TitleStyle.Render("Consultation Status"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	if st.SessionID != "" {
		fmt.Printf("  %s %s\n", DimStyle.Render("Session:"), st.SessionID)
	}
	if st.ProviderName != "" {
		fmt.Printf("  %s %s\n", DimStyle.Render("Provider:"), HighlightStyle.Render(st.ProviderName))
	}
	if st.PatientName != "" {
		fmt.Printf("  %s %s\n", DimStyle.Render("Patient:"), HighlightStyle.Render(st.PatientName))
	}
	fmt.Printf("  %s %s\n", DimStyle.Render("Section:"), sectionProgress(st.Section))
	fmt.Printf("  %s %d\n", DimStyle.Render("Messages:"), st.Messages)
	fmt.Printf("  %s %s\n", DimStyle.Render("Duration:"), elapsed.String())
	fmt.Printf("  %s %s\n", DimStyle.Render("Backend:"), cs.Client.BaseURL())

	fmt.Println()
}

// printSectionProgress prints the documentation checklist.
func printSectionProgress(cs *ConsultSession) {
	st := cs.Orch.GetStatus()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Documentation Sections"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 24)))
	fmt.Println()

	for i, s := range model.SectionOrder {
		if s.Terminal() {
			continue
		}
		marker := "[ ]"
		style := DimStyle
		switch {
		case st.Complete || i < st.SectionIndex:
			marker = "[x]"
			style = SuccessStyle
		case i == st.SectionIndex:
			marker = "[>]"
			style = sectionBannerStyle
		}
		fmt.Printf("  %s %d. %s\n", style.Render(marker), i+1, s.Title())
	}

	fmt.Println()
	if st.Complete {
		fmt.Println(SuccessStyle.Render("All sections documented."))
		fmt.Println()
	}
}

// printConsultHistory prints the conversation so far.
func printConsultHistory(cs *ConsultSession) {
	msgs := cs.Orch.Transcript().Messages()
	if len(msgs) == 0 {
		fmt.Println(DimStyle.Render("[No messages yet]"))
		return
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Conversation History"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 25)))
	fmt.Println()

	for i, msg := range msgs {
		label := youStyle.Render("You")
		if msg.Sender == model.SenderAI {
			label = assistantStyle.Render("Assistant")
		}
		text := util.TruncateRunes(util.CollapseLines(msg.DisplayText()), 100)
		fmt.Printf("  %d. %s: %s\n", i+1, label, text)
	}

	fmt.Println()
}

// showSummary fetches and prints the structured note.
func showSummary(cs *ConsultSession) error {
	if !cs.Orch.Complete() {
		fmt.Println(DimStyle.Render("The structured note is available once the consultation is complete."))
		return nil
	}

	ctx, done := cs.turnContext()
	defer done()

	summary, err := cs.Orch.LoadSummary(ctx)
	if err != nil {
		return err
	}
	if summary == nil || len(summary.Sections) == 0 {
		fmt.Println(DimStyle.Render("No structured note available yet."))
		return nil
	}

	width := GetTerminalWidth()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Structured Note"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 15)))
	if summary.PatientName != "" {
		fmt.Printf("%s %s\n", DimStyle.Render("Patient:"), HighlightStyle.Render(summary.PatientName))
	}
	if !summary.GeneratedAt.IsZero() {
		fmt.Printf("%s %s\n", DimStyle.Render("Generated:"), summary.GeneratedAt.Format("2006-01-02 15:04"))
	}

	for _, sec := range summary.Sections {
		fmt.Println()
		fmt.Println(SectionStyle.Render(sec.Title))
		switch sec.Format {
		case model.FormatNumberedBullet:
			for i, item := range sec.Items {
				fmt.Printf("  %d. %s\n", i+1, item)
			}
		case model.FormatBullet:
			for _, item := range sec.Items {
				fmt.Printf("  - %s\n", item)
			}
		default:
			wrapped := WrapText(sec.Content, width-2)
			fmt.Println("  " + strings.ReplaceAll(wrapped, "\n", "\n  "))
		}
	}

	fmt.Println()
	return nil
}

// downloadNote fetches the rendered note PDF into the download directory.
func downloadNote(cs *ConsultSession) error {
	if !cs.Orch.Complete() {
		fmt.Println(DimStyle.Render("The note PDF is available once the consultation is complete."))
		return nil
	}

	ctx, done := cs.turnContext()
	defer done()

	fmt.Println(DimStyle.Render("Generating note PDF..."))
	path, err := cs.Orch.GenerateAndDownload(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s Note saved to %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// printWelcome prints the consultation banner.
func printWelcome(cs *ConsultSession) {
	st := cs.Orch.GetStatus()

	fmt.Println()
	fmt.Println(TitleStyle.Render("healio consultation"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 30)))
	if st.ProviderName != "" {
		fmt.Printf("%s %s\n", DimStyle.Render("Provider:"), HighlightStyle.Render(st.ProviderName))
	}
	if st.PatientName != "" {
		fmt.Printf("%s  %s\n", DimStyle.Render("Patient:"), HighlightStyle.Render(st.PatientName))
	}
	if st.SessionID != "" {
		fmt.Printf("%s  %s\n", DimStyle.Render("Session:"), st.SessionID)
	}
	fmt.Printf("%s  %s\n", DimStyle.Render("Section:"), sectionProgress(st.Section))
	fmt.Println()
	fmt.Println(DimStyle.Render("Type your answers and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

// printRecentHistory shows the tail of a resumed conversation for context.
func printRecentHistory(cs *ConsultSession, max int) {
	msgs := cs.Orch.Transcript().Messages()
	if len(msgs) == 0 {
		return
	}

	start := 0
	if len(msgs) > max {
		start = len(msgs) - max
		fmt.Println(DimStyle.Render(fmt.Sprintf("  ... %d earlier message(s) (/history for all)", start)))
	}

	for _, msg := range msgs[start:] {
		label := youStyle.Render("You:")
		if msg.Sender == model.SenderAI {
			label = assistantStyle.Render("Assistant:")
		}
		text := util.TruncateRunes(util.CollapseLines(msg.DisplayText()), 200)
		fmt.Printf("%s %s\n", label, text)
	}

	fmt.Println()
}

// printExitSummary prints the session summary on exit.
func printExitSummary(cs *ConsultSession) {
	st := cs.Orch.GetStatus()

	if st.SessionID == "" {
		fmt.Println(DimStyle.Render("Goodbye!"))
		return
	}

	elapsed := time.Since(cs.StartTime).Round(time.Second)

	fmt.Println()
	fmt.Println(TitleStyle.Render("Session Summary"))
	fmt.Println(DimStyle.Render(strings.Repeat("─", 15)))

	fmt.Printf("  %s %s\n", DimStyle.Render("Session:"), st.SessionID)
	fmt.Printf("  %s %d\n", DimStyle.Render("Messages:"), st.Messages)
	fmt.Printf("  %s %s\n", DimStyle.Render("Progress:"), sectionProgress(st.Section))
	fmt.Printf("  %s %s\n", DimStyle.Render("Duration:"), elapsed.String())

	fmt.Println()
	if !st.Complete {
		fmt.Println(DimStyle.Render(fmt.Sprintf("Resume later: healio consult --resume %s", st.SessionID)))
	}
	fmt.Println(DimStyle.Render("Goodbye!"))
}
