// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/model"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

// fakeBackend scripts server behavior for orchestrator tests. Chat turns
// are served from queued SSE payloads or document replies, in order; the
// payloads run through the real stream decoder.
type fakeBackend struct {
	mu sync.Mutex

	providers []model.Provider
	patients  map[string]*model.Patient
	session   *model.ConsultationSession
	initial   string
	history   []*model.ChatMessage
	summary   *model.Summary
	noteName  string
	note      []byte

	streams []string
	docs    []*api.TurnDocument

	errCreate  error
	errGet     error
	errHistory error
	errTurn    error
	errSummary error
	errPDF     error

	// turnStarted is closed when ChatTurn is entered; turnRelease blocks
	// ChatTurn until closed. Both optional.
	turnStarted chan struct{}
	turnRelease chan struct{}

	chatTurnCalls int
	getCalls      int
	summaryCalls  int
	sent          []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		providers: []model.Provider{
			{ID: "prov-1", Name: "Dr. Sarah Chen", Specialty: "Family Medicine"},
			{ID: "prov-2", Name: "Dr. Luis Ortega", Specialty: "Internal Medicine"},
		},
		patients: map[string]*model.Patient{
			"pt-1": {ID: "pt-1", Name: "Robert Hayes", MRN: "MRN-4412"},
		},
		session: &model.ConsultationSession{
			ID:             "consult-100",
			PatientID:      "pt-1",
			ProviderID:     "prov-1",
			Status:         model.StatusInProgress,
			CurrentSection: model.SectionChiefComplaint,
		},
		initial:  "What brings the patient in today?",
		noteName: "patient_summary_consult-100.pdf",
		note:     []byte("%PDF-1.4 fake"),
	}
}

func (f *fakeBackend) ListProviders(ctx context.Context) ([]model.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers, nil
}

func (f *fakeBackend) GetPatient(ctx context.Context, id string) (*model.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s not found", id)
	}
	return p, nil
}

func (f *fakeBackend) CreateConsultation(ctx context.Context, patientID, providerID string) (*api.NewConsultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errCreate != nil {
		return nil, f.errCreate
	}
	return &api.NewConsultation{Session: *f.session, InitialMessage: f.initial}, nil
}

func (f *fakeBackend) GetConsultation(ctx context.Context, id string) (*model.ConsultationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.errGet != nil {
		return nil, f.errGet
	}
	snapshot := *f.session
	return &snapshot, nil
}

func (f *fakeBackend) ChatHistory(ctx context.Context, consultationID string) ([]*model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errHistory != nil {
		return nil, f.errHistory
	}
	return f.history, nil
}

func (f *fakeBackend) ChatTurn(ctx context.Context, consultationID, message string) (*api.TurnResult, error) {
	f.mu.Lock()
	f.chatTurnCalls++
	f.sent = append(f.sent, message)
	started := f.turnStarted
	release := f.turnRelease
	f.mu.Unlock()

	if started != nil {
		close(started)
		f.mu.Lock()
		f.turnStarted = nil
		f.mu.Unlock()
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errTurn != nil {
		return nil, f.errTurn
	}
	if len(f.streams) > 0 {
		payload := f.streams[0]
		f.streams = f.streams[1:]
		return &api.TurnResult{
			Stream: api.NewEventStream(io.NopCloser(strings.NewReader(payload))),
		}, nil
	}
	if len(f.docs) > 0 {
		doc := f.docs[0]
		f.docs = f.docs[1:]
		return &api.TurnResult{Document: doc}, nil
	}
	return &api.TurnResult{
		Document: &api.TurnDocument{Type: api.TypeFollowUp, Message: "Noted. Anything else?"},
	}, nil
}

func (f *fakeBackend) Summary(ctx context.Context, consultationID string) (*model.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if f.errSummary != nil {
		return nil, f.errSummary
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &model.Summary{
		ConsultationID: consultationID,
		Sections: []model.SummarySection{
			{Section: model.SectionChiefComplaint, Title: "Chief Complaint", Format: model.FormatNumberedBullet, Items: []string{"Chest pain"}},
		},
	}, nil
}

func (f *fakeBackend) DownloadPDF(ctx context.Context, consultationID string, w io.Writer) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errPDF != nil {
		return "", f.errPDF
	}
	if _, err := w.Write(f.note); err != nil {
		return "", err
	}
	return f.noteName, nil
}

func (f *fakeBackend) turnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatTurnCalls
}

func (f *fakeBackend) queueStream(frames ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, frame := range frames {
		b.WriteString("data: ")
		b.WriteString(frame)
		b.WriteString("\n\n")
	}
	f.streams = append(f.streams, b.String())
}

func (f *fakeBackend) setSection(s model.Section, status model.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session.CurrentSection = s
	f.session.Status = status
}

// fakeSaver remembers the last artifact handed to it.
type fakeSaver struct {
	filename string
	data     []byte
	err      error
}

func (s *fakeSaver) SaveArtifact(filename string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.filename = filename
	s.data = data
	return "/tmp/notes/" + filename, nil
}

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestOrchestrator(t *testing.T, fb *fakeBackend) *Orchestrator {
	t.Helper()
	orch := NewOrchestrator(fb, &fakeSaver{})
	orch.SelectProvider(fb.providers[0])
	orch.SelectPatient(*fb.patients["pt-1"])
	return orch
}

func startedConsultation(t *testing.T, fb *fakeBackend) *Orchestrator {
	t.Helper()
	orch := newTestOrchestrator(t, fb)
	require.NoError(t, orch.CreateSession(context.Background()))
	return orch
}

// =============================================================================
// SESSION LIFECYCLE TESTS
// =============================================================================

// TestCreateSession_SeedsOpening tests that a new consultation starts with
// exactly one assistant message, tagged with the first protocol section.
func TestCreateSession_SeedsOpening(t *testing.T) {
	fb := newFakeBackend()
	orch := newTestOrchestrator(t, fb)

	var messages []*model.ChatMessage
	var sessions []*model.ConsultationSession
	orch.SetMessageCallback(func(m *model.ChatMessage) { messages = append(messages, m) })
	orch.SetSessionCallback(func(s *model.ConsultationSession) { sessions = append(sessions, s) })

	require.NoError(t, orch.CreateSession(context.Background()))

	require.Equal(t, 1, orch.Transcript().Len(), "Opening prompt should be the only message")
	opening := orch.Transcript().Last()
	require.Equal(t, model.SenderAI, opening.Sender)
	require.Equal(t, "What brings the patient in today?", opening.DisplayText())
	require.Equal(t, model.SectionChiefComplaint, opening.Section)
	require.Equal(t, model.SectionChiefComplaint, orch.Section())

	require.Len(t, messages, 1, "Message callback should fire once for the opening")
	require.Len(t, sessions, 1, "Session callback should fire once")
	require.Equal(t, "consult-100", sessions[0].ID)
}

func TestCreateSession_MissingSelections(t *testing.T) {
	fb := newFakeBackend()

	orch := NewOrchestrator(fb, nil)
	err := orch.CreateSession(context.Background())
	require.True(t, IsPrecondition(err))
	require.Contains(t, err.Error(), "provider")

	orch.SelectProvider(fb.providers[0])
	err = orch.CreateSession(context.Background())
	require.True(t, IsPrecondition(err))
	require.Contains(t, err.Error(), "patient")
}

func TestCreateSession_BackendFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.errCreate = errors.New("connection refused")
	orch := newTestOrchestrator(t, fb)

	err := orch.CreateSession(context.Background())
	require.True(t, IsTransport(err))
	require.Nil(t, orch.Session(), "Nothing should be committed on failure")
	require.NotNil(t, orch.Provider(), "Selections survive a failed create")
	require.NotNil(t, orch.Patient())
}

func TestCreateSession_EmptyOpening(t *testing.T) {
	fb := newFakeBackend()
	fb.initial = ""
	orch := newTestOrchestrator(t, fb)

	require.NoError(t, orch.CreateSession(context.Background()))
	require.Equal(t, 0, orch.Transcript().Len())
}

func TestLoadSession_Hydrates(t *testing.T) {
	fb := newFakeBackend()
	fb.session.CurrentSection = model.SectionSubjective
	fb.history = []*model.ChatMessage{
		model.NewAIMessage("consult-100", model.TextContent("What brings the patient in today?"), model.SectionChiefComplaint),
		model.NewProviderMessage("consult-100", "Persistent cough for two weeks", model.SectionChiefComplaint),
		model.NewAIMessage("consult-100", model.TextContent("Any fever or chills?"), model.SectionSubjective),
	}

	orch := NewOrchestrator(fb, nil)
	var sessions []*model.ConsultationSession
	orch.SetSessionCallback(func(s *model.ConsultationSession) { sessions = append(sessions, s) })

	require.NoError(t, orch.LoadSession(context.Background(), "consult-100"))

	require.Equal(t, 3, orch.Transcript().Len())
	require.Equal(t, model.SectionSubjective, orch.Section(), "Section should come from the session record")
	require.Equal(t, "Robert Hayes", orch.Patient().Name)
	require.Equal(t, "Dr. Sarah Chen", orch.Provider().Name, "Provider joined from the roster by id")
	require.Len(t, sessions, 1)
}

func TestLoadSession_ProviderGone(t *testing.T) {
	fb := newFakeBackend()
	fb.session.ProviderID = "prov-99"

	orch := NewOrchestrator(fb, nil)
	require.NoError(t, orch.LoadSession(context.Background(), "consult-100"))
	require.Nil(t, orch.Provider(), "Unknown provider resumes with no selection")
	require.NotNil(t, orch.Session())
}

func TestLoadSession_FetchFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.errHistory = errors.New("boom")

	orch := NewOrchestrator(fb, nil)
	err := orch.LoadSession(context.Background(), "consult-100")
	require.True(t, IsTransport(err))
	require.Nil(t, orch.Session(), "Partial fetches must not commit")
	require.Equal(t, 0, orch.Transcript().Len())
}

// TestReset_ClearsEverything tests that Reset returns the orchestrator to
// its initial state: no session, no selections, empty transcript, first
// section.
func TestReset_ClearsEverything(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Noted."}`,
		`{"type": "end"}`,
	)
	require.NoError(t, orch.SendMessage(context.Background(), "Chest pain"))

	var cleared []*model.ConsultationSession
	orch.SetSessionCallback(func(s *model.ConsultationSession) { cleared = append(cleared, s) })

	orch.Reset()

	require.Nil(t, orch.Session())
	require.Nil(t, orch.Provider())
	require.Nil(t, orch.Patient())
	require.Nil(t, orch.Summary())
	require.Equal(t, 0, orch.Transcript().Len())
	require.Equal(t, model.FirstSection(), orch.Section())
	require.Equal(t, TurnIdle, orch.Turn())
	require.Len(t, cleared, 1)
	require.Nil(t, cleared[0], "Session callback should report the clear")
}

// =============================================================================
// CHAT TURN TESTS
// =============================================================================

func TestSendMessage_BlankIsNoop(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)

	require.NoError(t, orch.SendMessage(context.Background(), ""))
	require.NoError(t, orch.SendMessage(context.Background(), "   \n\t"))
	require.Equal(t, 0, fb.turnCount(), "Blank input must not reach the backend")
	require.Equal(t, 1, orch.Transcript().Len(), "Only the opening prompt should be present")
}

func TestSendMessage_NoSession(t *testing.T) {
	orch := NewOrchestrator(newFakeBackend(), nil)
	err := orch.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSendMessage_EchoesProviderInput(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Understood."}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "  Sharp chest pain since morning  "))

	msgs := orch.Transcript().Messages()
	require.Equal(t, 3, len(msgs), "opening + echo + reply")
	echo := msgs[1]
	require.Equal(t, model.SenderProvider, echo.Sender)
	require.Equal(t, "Sharp chest pain since morning", echo.DisplayText(), "Echo should carry trimmed input")
	require.Equal(t, []string{"Sharp chest pain since morning"}, fb.sent)
}

// TestSendMessage_DeltaOrder tests that streamed text fragments concatenate
// in arrival order with nothing lost or reordered.
func TestSendMessage_DeltaOrder(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "The patient "}`,
		`{"type": "text", "content": "reports sharp "}`,
		`{"type": "text", "content": "chest pain."}`,
		`{"type": "end"}`,
	)

	var deltas []string
	orch.SetDeltaCallback(func(d string) { deltas = append(deltas, d) })
	before := fb.getCalls

	require.NoError(t, orch.SendMessage(context.Background(), "Chest pain"))

	require.Equal(t, []string{"The patient ", "reports sharp ", "chest pain."}, deltas)
	last := orch.Transcript().Last()
	require.Equal(t, model.SenderAI, last.Sender)
	require.Equal(t, "The patient reports sharp chest pain.", last.DisplayText())
	require.False(t, last.Open(), "Streamed reply should be settled after end")
	require.Equal(t, before+1, fb.getCalls, "A clean end triggers exactly one reconciliation fetch")
}

// TestSendMessage_RAGReplaces tests that a retrieval-backed event supersedes
// everything streamed before it: text, and any earlier sources.
func TestSendMessage_RAGReplaces(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Let me check the literature..."}`,
		`{"type": "rag", "content": "Low-dose aspirin is indicated for secondary prevention.", "sources": [{"id": "s1", "title": "Aspirin in Secondary Prevention", "pmcid": "PMC7234561", "authors": "Rivera et al."}]}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "Should he be on aspirin?"))

	last := orch.Transcript().Last()
	require.Equal(t, "Low-dose aspirin is indicated for secondary prevention.", last.DisplayText(),
		"Retrieval answer must fully replace the placeholder text")
	require.NotContains(t, last.DisplayText(), "literature")
	require.Equal(t, model.ContentRAG, last.Content.Kind)
	require.Len(t, last.Content.Sources, 1)
	require.Equal(t, "PMC7234561", last.Content.Sources[0].PMCID)
}

func TestSendMessage_SectionTransition(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.setSection(model.SectionHistory, model.StatusInProgress)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Chief complaint recorded."}`,
		`{"type": "section_transition", "message": "Moving on to medical history.", "current_section": "history", "previous_section": "chief_complaint"}`,
		`{"type": "end"}`,
	)

	var moves []string
	orch.SetSectionCallback(func(prev, cur model.Section) {
		moves = append(moves, string(prev)+">"+string(cur))
	})

	require.NoError(t, orch.SendMessage(context.Background(), "Sharp chest pain"))

	require.Equal(t, model.SectionHistory, orch.Section())
	require.Equal(t, []string{"chief_complaint>history"}, moves)

	msgs := orch.Transcript().Messages()
	// opening + echo + streamed reply (in its opened slot) + transition prompt
	require.Equal(t, 4, len(msgs))
	require.Equal(t, "Chief complaint recorded.", msgs[2].DisplayText())
	require.Equal(t, model.SectionHistory, msgs[2].Section,
		"Open placeholder should be retagged by the transition")
	require.Equal(t, "Moving on to medical history.", msgs[3].DisplayText())
	require.Equal(t, model.SectionHistory, msgs[3].Section)
}

// TestSendMessage_SectionHoldsWithoutTransition tests that section state
// only moves on explicit transitions; plain turns leave it alone.
func TestSendMessage_SectionHoldsWithoutTransition(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)

	for i := 0; i < 3; i++ {
		fb.queueStream(
			`{"type": "start", "current_section": "chief_complaint"}`,
			`{"type": "text", "content": "Tell me more."}`,
			`{"type": "end"}`,
		)
		require.NoError(t, orch.SendMessage(context.Background(), "More detail"))
		require.Equal(t, model.SectionChiefComplaint, orch.Section())
	}
}

func TestSendMessage_FollowUpEvent(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "follow_up", "message": "How long has this been going on?", "current_section": "chief_complaint"}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "Chest pain"))

	msgs := orch.Transcript().Messages()
	// opening + echo + follow-up; the empty placeholder is discarded
	require.Equal(t, 3, len(msgs))
	require.Equal(t, "How long has this been going on?", msgs[2].DisplayText())
	require.Equal(t, model.SectionChiefComplaint, orch.Section())
}

func TestSendMessage_MalformedFramesSurvive(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "First half"}`,
		`{'type': 'text', 'content': 'single-quoted junk'}`,
		`{"type": "text", "content": " and second half."}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "go"),
		"Malformed frames must not fail the turn")
	require.Equal(t, "First half and second half.", orch.Transcript().Last().DisplayText())
}

func TestSendMessage_StreamWithoutStart(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "text", "content": "No start frame."}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "go"))
	require.Equal(t, "No start frame.", orch.Transcript().Last().DisplayText())
}

func TestSendMessage_TruncatedStreamSalvages(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	// Connection dies before the end frame.
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Partial answer"}`,
	)
	before := fb.getCalls

	require.NoError(t, orch.SendMessage(context.Background(), "go"))

	last := orch.Transcript().Last()
	require.Equal(t, "Partial answer", last.DisplayText(), "Partial text should be kept")
	require.False(t, last.Open())
	require.Equal(t, before, fb.getCalls, "No reconciliation without a clean end")
}

func TestSendMessage_TransportFailureKeepsEcho(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.errTurn = errors.New("connection reset")

	err := orch.SendMessage(context.Background(), "Chest pain")
	require.True(t, IsTransport(err))

	msgs := orch.Transcript().Messages()
	require.Equal(t, 2, len(msgs), "Echo stays; the missing reply marks the failure")
	require.Equal(t, model.SenderProvider, msgs[1].Sender)

	// The turn gate must reopen after a failure.
	fb.mu.Lock()
	fb.errTurn = nil
	fb.mu.Unlock()
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "Back online."}`,
		`{"type": "end"}`,
	)
	require.NoError(t, orch.SendMessage(context.Background(), "retry"))
	require.Equal(t, TurnIdle, orch.Turn())
}

// TestSendMessage_TurnInFlight tests the single-turn discipline: a second
// send while one is running is rejected without touching the transcript or
// the backend.
func TestSendMessage_TurnInFlight(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)

	started := make(chan struct{})
	release := make(chan struct{})
	fb.mu.Lock()
	fb.turnStarted = started
	fb.turnRelease = release
	fb.mu.Unlock()
	fb.queueStream(
		`{"type": "start", "current_section": "chief_complaint"}`,
		`{"type": "text", "content": "First reply."}`,
		`{"type": "end"}`,
	)

	done := make(chan error, 1)
	go func() { done <- orch.SendMessage(context.Background(), "first") }()
	<-started

	lenBefore := orch.Transcript().Len()
	err := orch.SendMessage(context.Background(), "second")
	require.ErrorIs(t, err, ErrTurnInFlight)
	require.Equal(t, lenBefore, orch.Transcript().Len(), "Rejected send must not append an echo")

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, 1, fb.turnCount(), "The rejected send must not reach the backend")
	require.Equal(t, TurnIdle, orch.Turn())
}

func TestSendMessage_CompletedConsultation(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.setSection(model.SectionComplete, model.StatusCompleted)
	fb.queueStream(
		`{"type": "start", "current_section": "notes"}`,
		`{"type": "section_transition", "message": "The consultation is complete.", "current_section": "complete", "previous_section": "notes"}`,
		`{"type": "end"}`,
	)
	require.NoError(t, orch.SendMessage(context.Background(), "No further notes"))
	require.True(t, orch.Complete())

	err := orch.SendMessage(context.Background(), "one more thing")
	require.ErrorIs(t, err, ErrConsultationComplete)
}

func TestSendMessage_DocumentFollowUp(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.docs = []*api.TurnDocument{
		{Type: api.TypeFollowUp, Message: "Could you describe the onset?"},
	}
	before := fb.getCalls

	require.NoError(t, orch.SendMessage(context.Background(), "Chest pain"))

	require.Equal(t, "Could you describe the onset?", orch.Transcript().Last().DisplayText())
	require.Equal(t, model.SectionChiefComplaint, orch.Section())
	require.Equal(t, before, fb.getCalls, "Follow-up documents do not trigger a refresh")
}

func TestSendMessage_DocumentTransition(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.setSection(model.SectionHistory, model.StatusInProgress)
	fb.docs = []*api.TurnDocument{
		{
			Type:            api.TypeSectionTransition,
			Message:         "Now let's cover medical history.",
			CurrentSection:  model.SectionHistory,
			PreviousSection: model.SectionChiefComplaint,
		},
	}
	before := fb.getCalls

	require.NoError(t, orch.SendMessage(context.Background(), "That's all"))

	require.Equal(t, model.SectionHistory, orch.Section())
	require.Equal(t, "Now let's cover medical history.", orch.Transcript().Last().DisplayText())
	require.Greater(t, fb.getCalls, before, "Transitions refresh the session record")
}

func TestSendMessage_UnknownSectionIgnored(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)
	fb.queueStream(
		`{"type": "start", "current_section": "galactic_survey"}`,
		`{"type": "text", "content": "Reply."}`,
		`{"type": "end"}`,
	)

	require.NoError(t, orch.SendMessage(context.Background(), "go"))
	require.Equal(t, model.SectionChiefComplaint, orch.Section(),
		"Out-of-protocol section values are ignored")
}

// =============================================================================
// SUMMARY AND ARTIFACT TESTS
// =============================================================================

// TestLoadSummary_GatedOnCompletion tests that the structured note is never
// fetched while the consultation is still in progress.
func TestLoadSummary_GatedOnCompletion(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)

	summary, err := orch.LoadSummary(context.Background())
	require.NoError(t, err)
	require.Nil(t, summary, "No summary until the consultation is finished")
	require.Equal(t, 0, fb.summaryCalls)

	fb.setSection(model.SectionComplete, model.StatusCompleted)
	fb.queueStream(
		`{"type": "start", "current_section": "notes"}`,
		`{"type": "section_transition", "message": "All done.", "current_section": "complete", "previous_section": "notes"}`,
		`{"type": "end"}`,
	)
	require.NoError(t, orch.SendMessage(context.Background(), "nothing further"))

	summary, err = orch.LoadSummary(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, 1, fb.summaryCalls)

	// Cached after the first fetch.
	again, err := orch.LoadSummary(context.Background())
	require.NoError(t, err)
	require.Same(t, summary, again)
	require.Equal(t, 1, fb.summaryCalls)
}

func TestLoadSummary_NoSession(t *testing.T) {
	orch := NewOrchestrator(newFakeBackend(), nil)
	summary, err := orch.LoadSummary(context.Background())
	require.NoError(t, err)
	require.Nil(t, summary)
}

func TestGenerateAndDownload(t *testing.T) {
	fb := newFakeBackend()
	saver := &fakeSaver{}
	orch := NewOrchestrator(fb, saver)
	orch.SelectProvider(fb.providers[0])
	orch.SelectPatient(*fb.patients["pt-1"])
	require.NoError(t, orch.CreateSession(context.Background()))

	path, err := orch.GenerateAndDownload(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/tmp/notes/patient_summary_consult-100.pdf", path)
	require.Equal(t, "patient_summary_consult-100.pdf", saver.filename)
	require.Equal(t, []byte("%PDF-1.4 fake"), saver.data)
}

func TestGenerateAndDownload_Failures(t *testing.T) {
	fb := newFakeBackend()
	orch := NewOrchestrator(fb, &fakeSaver{})

	_, err := orch.GenerateAndDownload(context.Background())
	require.ErrorIs(t, err, ErrNoSession)

	orch.SelectProvider(fb.providers[0])
	orch.SelectPatient(*fb.patients["pt-1"])
	require.NoError(t, orch.CreateSession(context.Background()))

	fb.mu.Lock()
	fb.errPDF = errors.New("summary not ready")
	fb.mu.Unlock()
	_, err = orch.GenerateAndDownload(context.Background())
	require.True(t, IsArtifact(err))

	fb.mu.Lock()
	fb.errPDF = nil
	fb.mu.Unlock()
	saver := &fakeSaver{err: errors.New("disk full")}
	orch2 := NewOrchestrator(fb, saver)
	orch2.SelectProvider(fb.providers[0])
	orch2.SelectPatient(*fb.patients["pt-1"])
	require.NoError(t, orch2.CreateSession(context.Background()))
	_, err = orch2.GenerateAndDownload(context.Background())
	require.True(t, IsArtifact(err))
}

// =============================================================================
// STATUS TESTS
// =============================================================================

func TestGetStatus(t *testing.T) {
	fb := newFakeBackend()
	orch := startedConsultation(t, fb)

	st := orch.GetStatus()
	require.Equal(t, "consult-100", st.SessionID)
	require.Equal(t, "Robert Hayes", st.PatientName)
	require.Equal(t, "Dr. Sarah Chen", st.ProviderName)
	require.Equal(t, model.SectionChiefComplaint, st.Section)
	require.Equal(t, 0, st.SectionIndex)
	require.Equal(t, TurnIdle, st.Turn)
	require.Equal(t, 1, st.Messages)
	require.False(t, st.Complete)
}

func TestGetStatus_Empty(t *testing.T) {
	orch := NewOrchestrator(newFakeBackend(), nil)
	st := orch.GetStatus()
	require.Empty(t, st.SessionID)
	require.Empty(t, st.PatientName)
	require.Equal(t, model.FirstSection(), st.Section)
	require.Equal(t, 0, st.Messages)
}
