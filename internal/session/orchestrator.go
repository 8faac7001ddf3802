// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/model"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Backend is the server collaborator the orchestrator drives. *api.Client
// satisfies it; tests substitute fakes.
type Backend interface {
	ListProviders(ctx context.Context) ([]model.Provider, error)
	GetPatient(ctx context.Context, id string) (*model.Patient, error)
	CreateConsultation(ctx context.Context, patientID, providerID string) (*api.NewConsultation, error)
	GetConsultation(ctx context.Context, id string) (*model.ConsultationSession, error)
	ChatHistory(ctx context.Context, consultationID string) ([]*model.ChatMessage, error)
	ChatTurn(ctx context.Context, consultationID, message string) (*api.TurnResult, error)
	Summary(ctx context.Context, consultationID string) (*model.Summary, error)
	DownloadPDF(ctx context.Context, consultationID string, w io.Writer) (string, error)
}

// ArtifactSaver persists a downloaded note artifact and returns the
// destination path.
type ArtifactSaver interface {
	SaveArtifact(filename string, data []byte) (string, error)
}

// =============================================================================
// TURN STATE
// =============================================================================

// TurnState tracks where an in-flight chat turn is. Only SendMessage moves
// the state off idle, and a new turn cannot start until it returns there.
type TurnState string

const (
	TurnIdle        TurnState = "idle"
	TurnSending     TurnState = "sending"
	TurnStreaming   TurnState = "streaming"
	TurnApplying    TurnState = "applying"
	TurnReconciling TurnState = "reconciling"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator owns all client-side consultation state: the provider and
// patient selections, the active session record, the transcript, the section
// tracker, and the lazily fetched summary. It is the only mutator of that
// state; presentation code reads through its accessors and callbacks.
//
// Methods are called from one goroutine; SendMessage runs its stream loop
// synchronously, so every event applies to completion before the next. The
// mutex guards the turn flag and snapshots against concurrent readers.
type Orchestrator struct {
	mu sync.Mutex

	backend Backend
	saver   ArtifactSaver

	// Selections
	provider *model.Provider
	patient  *model.Patient

	// Active consultation
	session    *model.ConsultationSession
	transcript *model.Transcript
	tracker    *model.SectionTracker
	summary    *model.Summary

	turn TurnState

	// Callbacks
	onMessage func(*model.ChatMessage)
	onDelta   func(string)
	onSection func(prev, cur model.Section)
	onSession func(*model.ConsultationSession)
}

// NewOrchestrator creates an orchestrator over the given backend. The saver
// may be nil when note downloads are not needed.
func NewOrchestrator(backend Backend, saver ArtifactSaver) *Orchestrator {
	return &Orchestrator{
		backend:    backend,
		saver:      saver,
		transcript: model.NewTranscript(),
		tracker:    model.NewSectionTracker(),
		turn:       TurnIdle,
	}
}

// =============================================================================
// CALLBACKS
// =============================================================================

// SetMessageCallback sets the function called when a settled message lands
// in the transcript: the optimistic provider echo, assistant replies, and
// finalized streamed answers.
func (o *Orchestrator) SetMessageCallback(fn func(*model.ChatMessage)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onMessage = fn
}

// SetDeltaCallback sets the function called per streamed text fragment.
func (o *Orchestrator) SetDeltaCallback(fn func(delta string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onDelta = fn
}

// SetSectionCallback sets the function called when the consultation moves
// to a different section.
func (o *Orchestrator) SetSectionCallback(fn func(prev, cur model.Section)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSection = fn
}

// SetSessionCallback sets the function called when the active session
// changes: created, loaded, refreshed by reconciliation, or cleared (nil).
func (o *Orchestrator) SetSessionCallback(fn func(*model.ConsultationSession)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSession = fn
}

func (o *Orchestrator) fireMessage(m *model.ChatMessage) {
	o.mu.Lock()
	fn := o.onMessage
	o.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (o *Orchestrator) fireDelta(delta string) {
	o.mu.Lock()
	fn := o.onDelta
	o.mu.Unlock()
	if fn != nil {
		fn(delta)
	}
}

func (o *Orchestrator) fireSection(prev, cur model.Section) {
	o.mu.Lock()
	fn := o.onSection
	o.mu.Unlock()
	if fn != nil {
		fn(prev, cur)
	}
}

func (o *Orchestrator) fireSession(s *model.ConsultationSession) {
	o.mu.Lock()
	fn := o.onSession
	o.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// =============================================================================
// SELECTIONS
// =============================================================================

// SelectProvider records the provider for subsequent session creation.
func (o *Orchestrator) SelectProvider(p model.Provider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provider = &p
}

// SelectPatient records the patient for subsequent session creation.
func (o *Orchestrator) SelectPatient(p model.Patient) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patient = &p
}

// Provider returns the selected provider, or nil.
func (o *Orchestrator) Provider() *model.Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.provider
}

// Patient returns the selected patient, or nil.
func (o *Orchestrator) Patient() *model.Patient {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.patient
}

// Session returns the active session record, or nil.
func (o *Orchestrator) Session() *model.ConsultationSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Transcript returns the consultation transcript. The transcript is safe
// for concurrent reads.
func (o *Orchestrator) Transcript() *model.Transcript {
	return o.transcript
}

// Section returns the current protocol section.
func (o *Orchestrator) Section() model.Section {
	return o.tracker.Current()
}

// Complete reports whether the consultation reached the terminal section.
func (o *Orchestrator) Complete() bool {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess != nil && sess.Status == model.StatusCompleted {
		return true
	}
	return o.tracker.Complete()
}

// Turn returns the current turn state.
func (o *Orchestrator) Turn() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn
}

func (o *Orchestrator) setTurn(s TurnState) {
	o.mu.Lock()
	o.turn = s
	o.mu.Unlock()
}

func (o *Orchestrator) sessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// CreateSession opens a new consultation for the selected provider and
// patient, seeds the transcript with the assistant's opening prompt, and
// signals the change through the session callback. Selections are retained
// on failure; nothing is committed.
func (o *Orchestrator) CreateSession(ctx context.Context) error {
	o.mu.Lock()
	provider, patient := o.provider, o.patient
	o.mu.Unlock()

	if provider == nil {
		return &PreconditionError{Missing: "provider"}
	}
	if patient == nil {
		return &PreconditionError{Missing: "patient"}
	}

	created, err := o.backend.CreateConsultation(ctx, patient.ID, provider.ID)
	if err != nil {
		return &TransportError{Op: "create consultation", Err: err}
	}

	session := created.Session
	section := session.CurrentSection
	if !section.Valid() {
		section = model.FirstSection()
	}

	o.mu.Lock()
	o.session = &session
	o.summary = nil
	o.mu.Unlock()
	o.transcript.Clear()
	o.tracker.Reset()
	o.tracker.Set(section)

	var opening *model.ChatMessage
	if created.InitialMessage != "" {
		opening = model.NewAIMessage(session.ID, model.TextContent(created.InitialMessage), section)
		o.transcript.Append(opening)
	}

	if opening != nil {
		o.fireMessage(opening)
	}
	o.fireSession(&session)
	return nil
}

// LoadSession resumes an existing consultation: fetches the session record,
// joins the patient and provider by id, and hydrates the transcript from
// server history. On any fetch failure nothing is committed, so the caller
// can fall back to its list view.
func (o *Orchestrator) LoadSession(ctx context.Context, id string) error {
	session, err := o.backend.GetConsultation(ctx, id)
	if err != nil {
		return &TransportError{Op: "load consultation", Err: err}
	}

	patient, err := o.backend.GetPatient(ctx, session.PatientID)
	if err != nil {
		return &TransportError{Op: "load patient", Err: err}
	}

	providers, err := o.backend.ListProviders(ctx)
	if err != nil {
		return &TransportError{Op: "load providers", Err: err}
	}
	var provider *model.Provider
	for i := range providers {
		if providers[i].ID == session.ProviderID {
			provider = &providers[i]
			break
		}
	}
	if provider == nil {
		// Roster drift is not fatal; the session still resumes.
		log.Printf("session: provider %s not in roster", session.ProviderID)
	}

	history, err := o.backend.ChatHistory(ctx, session.ID)
	if err != nil {
		return &TransportError{Op: "load chat history", Err: err}
	}

	// All fetches succeeded; commit.
	o.mu.Lock()
	o.session = session
	o.patient = patient
	o.provider = provider
	o.summary = nil
	o.mu.Unlock()
	o.transcript.Hydrate(history)
	o.tracker.Reset()
	if session.CurrentSection.Valid() {
		o.tracker.Set(session.CurrentSection)
	}

	o.fireSession(session)
	return nil
}

// Reset clears all orchestrator-owned state: no session, empty transcript,
// section back to the first protocol step, selections unset.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.session = nil
	o.provider = nil
	o.patient = nil
	o.summary = nil
	o.turn = TurnIdle
	o.mu.Unlock()
	o.transcript.Clear()
	o.tracker.Reset()
	o.fireSession(nil)
}

// =============================================================================
// CHAT TURNS
// =============================================================================

// SendMessage submits one provider message and applies the backend's reply.
// Blank input is a no-op. A second call while a turn is in flight fails
// with ErrTurnInFlight and leaves the transcript untouched.
//
// The optimistic provider echo is appended before the request; on transport
// failure it stays (the missing reply marks the failure — no synthetic
// error bubble is appended). Stream handling failures are logged and
// swallowed so one bad reply cannot take down a healthy conversation.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	if o.turn != TurnIdle {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	if o.session.Status == model.StatusCompleted {
		o.mu.Unlock()
		return ErrConsultationComplete
	}
	o.turn = TurnSending
	sessionID := o.session.ID
	o.mu.Unlock()
	defer o.setTurn(TurnIdle)

	if o.tracker.Complete() {
		return ErrConsultationComplete
	}

	echo := model.NewProviderMessage(sessionID, text, o.tracker.Current())
	o.transcript.Append(echo)
	o.fireMessage(echo)

	result, err := o.backend.ChatTurn(ctx, sessionID, text)
	if err != nil {
		terr := &TransportError{Op: "chat turn", Err: err}
		log.Printf("session: %v", terr)
		return terr
	}

	if result.Streaming() {
		o.setTurn(TurnStreaming)
		o.runStream(ctx, sessionID, result.Stream)
		return nil
	}

	o.setTurn(TurnApplying)
	o.applyDocument(ctx, sessionID, result.Document)
	return nil
}

// runStream drains one turn's event stream, applying each event in arrival
// order. The stream body is closed on every exit path; the read loop honors
// ctx per iteration, so canceling it abandons the turn promptly.
func (o *Orchestrator) runStream(ctx context.Context, sessionID string, stream *api.EventStream) {
	defer stream.Close()

	ended := false
	for {
		ev, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("session: stream aborted: %v", err)
			break
		}

		switch ev.Kind {
		case api.EventStart:
			o.applySection(ev.CurrentSection)
			if _, err := o.transcript.OpenPlaceholder(sessionID, o.tracker.Current()); err != nil {
				log.Printf("session: %v", err)
			}

		case api.EventText:
			o.ensurePlaceholder(sessionID)
			if err := o.transcript.AppendDelta(ev.Content); err == nil {
				o.fireDelta(ev.Content)
			}

		case api.EventRAG:
			o.ensurePlaceholder(sessionID)
			content := model.RAGContent(ev.Content, ev.Sources)
			if err := o.transcript.ReplacePlaceholder(content); err != nil {
				log.Printf("session: %v", err)
			}

		case api.EventSectionTransition:
			o.applySection(ev.CurrentSection)
			o.transcript.RetagPlaceholder(o.tracker.Current())
			o.appendAssistant(sessionID, ev.Message)

		case api.EventFollowUp:
			o.appendAssistant(sessionID, ev.Message)

		case api.EventEnd:
			ended = true
		}

		if ended {
			break
		}
	}

	if settled := o.transcript.SettlePlaceholder(); settled != nil {
		o.fireMessage(settled)
	}

	if dropped := stream.Dropped(); dropped > 0 {
		log.Printf("session: %v", &DecodeError{Frames: dropped})
	}

	// Only a clean end means the server finished the turn; the final
	// section and status are its call.
	if ended {
		o.setTurn(TurnReconciling)
		o.reconcileLogged(ctx)
	}
}

// applyDocument applies a single-document turn reply: a section transition
// refreshes the section and reconciles; a follow-up only appends its prompt.
func (o *Orchestrator) applyDocument(ctx context.Context, sessionID string, doc *api.TurnDocument) {
	if doc == nil {
		return
	}
	if doc.Transition() {
		o.applySection(doc.CurrentSection)
	}
	o.appendAssistant(sessionID, doc.Message)
	if doc.Transition() {
		o.setTurn(TurnReconciling)
		o.reconcileLogged(ctx)
	}
}

// ensurePlaceholder opens the streaming placeholder when the server skipped
// its start frame.
func (o *Orchestrator) ensurePlaceholder(sessionID string) {
	if o.transcript.HasOpenPlaceholder() {
		return
	}
	if _, err := o.transcript.OpenPlaceholder(sessionID, o.tracker.Current()); err != nil {
		log.Printf("session: %v", err)
	}
}

// appendAssistant appends a settled assistant message under the current
// section. Empty payloads are skipped.
func (o *Orchestrator) appendAssistant(sessionID, text string) {
	if text == "" {
		return
	}
	msg := model.NewAIMessage(sessionID, model.TextContent(text), o.tracker.Current())
	o.transcript.Append(msg)
	o.fireMessage(msg)
}

// applySection mirrors a server-reported section into the tracker, firing
// the section callback on change. Values outside the protocol enumeration
// are logged and ignored.
func (o *Orchestrator) applySection(raw model.Section) {
	if raw == "" {
		return
	}
	s, err := model.ParseSection(string(raw))
	if err != nil {
		log.Printf("session: %v", err)
		return
	}
	prev := o.tracker.Current()
	if o.tracker.Set(s) {
		o.fireSection(prev, s)
	}
}

// reconcile refetches the authoritative session record after a turn that
// may have moved it. The server owns the final section and status.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	id := o.sessionID()
	if id == "" {
		return nil
	}

	fresh, err := o.backend.GetConsultation(ctx, id)
	if err != nil {
		return &ReconciliationError{Err: err}
	}

	o.mu.Lock()
	o.session = fresh
	o.mu.Unlock()
	o.applySection(fresh.CurrentSection)
	o.fireSession(fresh)
	return nil
}

// reconcileLogged logs a failed reconciliation instead of failing the turn;
// the stale section heals on the next successful refresh.
func (o *Orchestrator) reconcileLogged(ctx context.Context) {
	if err := o.reconcile(ctx); err != nil {
		log.Printf("session: %v", err)
	}
}

// =============================================================================
// SUMMARY AND NOTE ARTIFACT
// =============================================================================

// LoadSummary fetches the structured note once the consultation is
// finished. Before that it is a no-op returning nil — callers gate on
// Complete() as well; this is the contract, not a defensive re-check of
// the server. The summary is cached until Reset.
func (o *Orchestrator) LoadSummary(ctx context.Context) (*model.Summary, error) {
	o.mu.Lock()
	sess := o.session
	cached := o.summary
	o.mu.Unlock()

	if sess == nil {
		return nil, nil
	}
	if cached != nil {
		return cached, nil
	}
	if !o.tracker.Complete() && sess.Status != model.StatusCompleted {
		return nil, nil
	}

	summary, err := o.backend.Summary(ctx, sess.ID)
	if err != nil {
		return nil, &TransportError{Op: "load summary", Err: err}
	}

	o.mu.Lock()
	o.summary = summary
	o.mu.Unlock()
	return summary, nil
}

// Summary returns the cached structured note, or nil before LoadSummary.
func (o *Orchestrator) Summary() *model.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// GenerateAndDownload fetches the rendered note artifact and hands it to
// the artifact saver, returning the saved path. Failures come back as
// ArtifactError; server-side document state is unaffected, so retrying is
// safe.
func (o *Orchestrator) GenerateAndDownload(ctx context.Context) (string, error) {
	o.mu.Lock()
	sess := o.session
	saver := o.saver
	o.mu.Unlock()

	if sess == nil {
		return "", ErrNoSession
	}
	if saver == nil {
		return "", &ArtifactError{Err: errors.New("no artifact saver configured")}
	}

	var buf bytes.Buffer
	filename, err := o.backend.DownloadPDF(ctx, sess.ID, &buf)
	if err != nil {
		aerr := &ArtifactError{Err: err}
		log.Printf("session: %v", aerr)
		return "", aerr
	}

	path, err := saver.SaveArtifact(filename, buf.Bytes())
	if err != nil {
		aerr := &ArtifactError{Err: err}
		log.Printf("session: %v", aerr)
		return "", aerr
	}
	return path, nil
}

// =============================================================================
// STATUS SNAPSHOT
// =============================================================================

// Status is a point-in-time view of the orchestrator for prompts and
// status lines.
type Status struct {
	SessionID    string
	PatientName  string
	ProviderName string
	Section      model.Section
	SectionIndex int
	Turn         TurnState
	Messages     int
	Complete     bool
}

// GetStatus returns the current orchestrator status.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	st := Status{
		Turn: o.turn,
	}
	if o.session != nil {
		st.SessionID = o.session.ID
	}
	if o.patient != nil {
		st.PatientName = o.patient.Name
	}
	if o.provider != nil {
		st.ProviderName = o.provider.Name
	}
	complete := o.session != nil && o.session.Status == model.StatusCompleted
	o.mu.Unlock()

	st.Section = o.tracker.Current()
	st.SectionIndex = st.Section.Index()
	st.Messages = o.transcript.Len()
	st.Complete = complete || o.tracker.Complete()
	return st
}
