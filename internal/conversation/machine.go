// Package conversation drives a user through the questionnaire and the contact step.
//
// The Machine is owned by the agent event loop. Every operation positions a looplab/fsm
// transition table at the user's stored phase and is rejected when the table has no matching
// event. The per-user progress itself lives in the state repository.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/contact"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/state"
	"github.com/looplab/fsm"
)

// ErrWrongPhase is returned when an operation does not match the user's current phase.
var ErrWrongPhase = errors.New("operation not valid in current conversation phase")

// Transport sends conversation output to a chat.
type Transport interface {
	SendText(ctx context.Context, chat models.ChatRef, text string) error
	SendVideoNote(ctx context.Context, chat models.ChatRef, path string, alternate bool) error
}

// Reminders is the part of the reminder scheduler the conversation drives.
type Reminders interface {
	ArmSurvey(ctx context.Context, id models.UserID, chat models.ChatRef)
	ArmContact(ctx context.Context, id models.UserID, chat models.ChatRef, tier models.ReminderTier)
	CancelAll(ctx context.Context, id models.UserID)
}

// ApplicationLog stores completed applications locally.
type ApplicationLog interface {
	AppendApplication(ctx context.Context, app models.Application) error
}

// LeadSink receives completed leads. Submit must not block the caller.
type LeadSink interface {
	Submit(ctx context.Context, lead models.Lead, app models.Application)
}

// LeadSinkFunc adapts a function to LeadSink.
type LeadSinkFunc func(ctx context.Context, lead models.Lead, app models.Application)

// Submit calls f.
func (f LeadSinkFunc) Submit(ctx context.Context, lead models.Lead, app models.Application) {
	f(ctx, lead, app)
}

// Phase transition events.
const (
	eventStart           = "start"
	eventResumeQuestions = "resume_questions"
	eventResumeContact   = "resume_contact"
	eventAnswer          = "answer"
	eventQuestionsDone   = "questions_done"
	eventContactReceived = "contact_received"
)

var phaseEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(models.PhaseNotStarted), string(models.PhaseAnswering)}, Dst: string(models.PhaseAnswering)},
	{Name: eventResumeQuestions, Src: []string{string(models.PhaseNotStarted), string(models.PhaseAnswering)}, Dst: string(models.PhaseAnswering)},
	{Name: eventResumeContact, Src: []string{string(models.PhaseNotStarted), string(models.PhaseAnswering), string(models.PhaseAwaitingContact)}, Dst: string(models.PhaseAwaitingContact)},
	{Name: eventAnswer, Src: []string{string(models.PhaseAnswering)}, Dst: string(models.PhaseAnswering)},
	{Name: eventQuestionsDone, Src: []string{string(models.PhaseAnswering)}, Dst: string(models.PhaseAwaitingContact)},
	{Name: eventContactReceived, Src: []string{string(models.PhaseAwaitingContact)}, Dst: string(models.PhaseCompleted)},
}

func newPhaseFSM(id models.UserID, current models.Phase) *fsm.FSM {
	return fsm.NewFSM(string(current), phaseEvents, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			slog.Debug("Conversation phase change", "user_id", id, "event", e.Event, "from", e.Src, "to", e.Dst)
		},
	})
}

// fire applies event and returns the resulting phase. An event defined for the current phase
// that keeps it unchanged succeeds.
func fire(ctx context.Context, f *fsm.FSM, event string) (models.Phase, error) {
	from := f.Current()
	err := f.Event(ctx, event)
	var same fsm.NoTransitionError
	if err != nil && !(errors.As(err, &same) && same.Err == nil) {
		return models.Phase(from), fmt.Errorf("%w: %s from %s: %v", ErrWrongPhase, event, from, err)
	}
	return models.Phase(f.Current()), nil
}

// Machine runs the lead-qualification conversation.
type Machine struct {
	repo      *state.Repository
	script    *config.Script
	transport Transport
	reminders Reminders
	apps      ApplicationLog
	sink      LeadSink
	media     Media
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithMedia sets the optional greeting and contact-request videos.
func WithMedia(media Media) Option {
	return func(m *Machine) { m.media = media }
}

// WithClock overrides the time source used for lead timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLeadSink sets the receiver of completed leads.
func WithLeadSink(sink LeadSink) Option {
	return func(m *Machine) { m.sink = sink }
}

// NewMachine creates a conversation machine.
func NewMachine(repo *state.Repository, script *config.Script, transport Transport, reminders Reminders, apps ApplicationLog, opts ...Option) *Machine {
	m := &Machine{
		repo:      repo,
		script:    script,
		transport: transport,
		reminders: reminders,
		apps:      apps,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// phases positions the transition table at the user's stored phase.
func (m *Machine) phases(id models.UserID) *fsm.FSM {
	return newPhaseFSM(id, m.Phase(id))
}

// Phase returns the current phase of a user.
func (m *Machine) Phase(id models.UserID) models.Phase {
	st, ok := m.repo.State(id)
	if !ok {
		return models.PhaseNotStarted
	}
	return st.Phase()
}

// NeedsStart reports whether a message from id should go to Start: there is no state, or the
// stored progress no longer fits the questionnaire.
func (m *Machine) NeedsStart(id models.UserID) bool {
	st, ok := m.repo.State(id)
	if !ok {
		return true
	}
	return !st.WaitingForContact && st.CurrentQuestion >= len(m.script.Questions)
}

// Start begins a conversation or resumes saved progress.
func (m *Machine) Start(ctx context.Context, chat models.ChatRef, who models.Identity) error {
	id := who.UserID
	if st, ok := m.repo.State(id); ok && (st.CurrentQuestion > 0 || len(m.repo.Answers(id)) > 0) {
		return m.resume(ctx, chat, id, st)
	}

	if _, err := fire(ctx, m.phases(id), eventStart); err != nil {
		return err
	}
	m.repo.PutState(id, models.ConversationState{
		CurrentQuestion: 0,
		Username:        who.Username,
		FirstName:       who.FirstName,
		LastName:        who.LastName,
	})
	m.repo.ResetAnswers(id)
	m.repo.ClearSurveyReminder(id)
	m.persist(ctx)
	slog.Info("Conversation started", "user_id", id, "username", who.Username)

	m.sendVideo(ctx, chat, m.media.GreetingVideo, "greeting")
	m.send(ctx, chat, m.script.Greeting)
	m.send(ctx, chat, m.script.Questions[0])
	return nil
}

func (m *Machine) resume(ctx context.Context, chat models.ChatRef, id models.UserID, st models.ConversationState) error {
	f := m.phases(id)
	if !st.WaitingForContact && st.CurrentQuestion < len(m.script.Questions) {
		if _, err := fire(ctx, f, eventResumeQuestions); err != nil {
			return err
		}
		slog.Info("Conversation resumed at question", "user_id", id, "question", st.CurrentQuestion+1)
		m.send(ctx, chat, config.Render(m.script.Messages.ResumeQuestion, "n", strconv.Itoa(st.CurrentQuestion+1)))
		m.send(ctx, chat, m.script.Questions[st.CurrentQuestion])
		return nil
	}

	next, err := fire(ctx, f, eventResumeContact)
	if err != nil {
		return err
	}
	st.WaitingForContact = next == models.PhaseAwaitingContact
	m.repo.PutState(id, st)
	m.persist(ctx)
	slog.Info("Conversation resumed at contact request", "user_id", id)
	m.send(ctx, chat, m.script.Messages.ResumeContact)
	m.send(ctx, chat, m.script.ContactRequest)
	m.reminders.ArmContact(ctx, id, chat, models.TierFirst)
	return nil
}

// Answer records the answer to the current question and moves to the next question or to
// the contact request.
func (m *Machine) Answer(ctx context.Context, chat models.ChatRef, id models.UserID, text string) error {
	f := m.phases(id)
	if _, err := fire(ctx, f, eventAnswer); err != nil {
		return err
	}
	st, _ := m.repo.State(id)
	if st.CurrentQuestion >= len(m.script.Questions) {
		return m.resume(ctx, chat, id, st)
	}

	m.repo.PutAnswer(id, st.CurrentQuestion+1, text)
	st.CurrentQuestion++

	if st.CurrentQuestion < len(m.script.Questions) {
		m.repo.PutState(id, st)
		m.persist(ctx)
		slog.Debug("Conversation answer recorded", "user_id", id, "next_question", st.CurrentQuestion+1)
		m.send(ctx, chat, m.script.Questions[st.CurrentQuestion])
		m.reminders.ArmSurvey(ctx, id, chat)
		return nil
	}

	next, err := fire(ctx, f, eventQuestionsDone)
	if err != nil {
		return err
	}
	st.WaitingForContact = next == models.PhaseAwaitingContact
	m.repo.PutState(id, st)
	m.persist(ctx)
	slog.Info("Conversation questions complete, awaiting contact", "user_id", id, "answers", len(m.repo.Answers(id)))

	m.sendVideo(ctx, chat, m.media.PhoneQuestionVideo, "phone_question")
	m.send(ctx, chat, m.script.ContactRequest)
	m.reminders.ArmContact(ctx, id, chat, models.TierFirst)
	return nil
}

// SubmitContact extracts the phone number and completes the lead. An unrecognized number
// produces a correction prompt and leaves the state untouched.
func (m *Machine) SubmitContact(ctx context.Context, chat models.ChatRef, id models.UserID, text string) error {
	f := m.phases(id)
	if !f.Can(eventContactReceived) {
		return fmt.Errorf("%w: contact from %s", ErrWrongPhase, f.Current())
	}
	st, _ := m.repo.State(id)

	phone, err := contact.ExtractPhone(text)
	if err != nil {
		slog.Info("Conversation contact rejected, no valid phone", "user_id", id)
		m.send(ctx, chat, m.script.Messages.PhoneInvalid)
		return nil
	}
	if _, err := fire(ctx, f, eventContactReceived); err != nil {
		return err
	}
	consultation := contact.ExtractConsultationTime(text)
	lead, app := BuildLead(st.Identity(id), m.repo.Answers(id), phone, consultation, m.now())

	if m.sink != nil {
		m.sink.Submit(ctx, lead, app)
	}
	if err := m.apps.AppendApplication(ctx, app); err != nil {
		slog.Error("Conversation failed to save application locally", "user_id", id, "application_id", app.ID, "error", err)
	}

	m.repo.DeleteState(id)
	m.reminders.CancelAll(ctx, id)
	m.repo.ClearSurveyReminder(id)
	m.repo.SetActivation(id, models.ActivationDeactivated)
	m.persist(ctx)
	slog.Info("Conversation completed, lead submitted", "user_id", id, "application_id", app.ID, "phone", phone)

	m.send(ctx, chat, config.Render(m.script.Messages.Confirmation, "phone", phone, "time", consultation))
	return nil
}

func (m *Machine) send(ctx context.Context, chat models.ChatRef, text string) {
	if text == "" {
		return
	}
	if err := m.transport.SendText(ctx, chat, text); err != nil {
		slog.Error("Conversation send failed", "chat", chat, "error", err)
	}
}

func (m *Machine) persist(ctx context.Context) {
	_ = m.repo.Persist(ctx)
}
