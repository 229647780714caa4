// Package agent runs the bot: a single event loop that owns all per-user state and
// processes inbound messages, reminder callbacks and operator requests one at a time.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/adminlock"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/conversation"
	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/gate"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/reminder"
	"github.com/BTreeMap/LeadPipe/internal/state"
)

// Default agent settings.
const (
	DefaultStaleMessageAge = 30 * time.Second
	DefaultTaskBuffer      = 256
	DefaultSubmitTimeout   = 60 * time.Second
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("agent loop stopped")

// Applications is the local application log.
type Applications interface {
	AppendApplication(ctx context.Context, app models.Application) error
	ListApplications(ctx context.Context) ([]models.Application, error)
}

// CRM is the lead-tracking backend used for submission and the lead admin commands.
type CRM interface {
	Configured() bool
	CreateLead(ctx context.Context, lead models.Lead) (string, error)
	BotLeads(ctx context.Context) ([]crm.Lead, error)
	NewLeads(ctx context.Context) ([]crm.Lead, error)
	Statistics(ctx context.Context) (crm.Statistics, error)
	Export(ctx context.Context, path string) (int, error)
}

// Agent wires the gate, conversation machine, reminder scheduler and admin lock to a
// chat transport.
type Agent struct {
	repo      *state.Repository
	apps      Applications
	transport messaging.Service
	script    *config.Script

	gate      *gate.Gate
	machine   *conversation.Machine
	reminders *reminder.Scheduler
	lock      *adminlock.Lock

	crm        CRM
	notifier   notify.Notifier
	timer      reminder.Timer
	media      conversation.Media
	admins     map[string]struct{}
	adminIDs   map[models.UserID]string
	staleAge   time.Duration
	exportPath string
	now        func() time.Time

	tasks chan func()
	done  chan struct{}
	once  sync.Once
	bg    sync.WaitGroup
}

// Option configures an Agent.
type Option func(*Agent)

// WithTimer sets the timer driving reminders. Defaults to a SimpleTimer.
func WithTimer(t reminder.Timer) Option {
	return func(a *Agent) { a.timer = t }
}

// WithCRM sets the CRM client.
func WithCRM(c CRM) Option {
	return func(a *Agent) { a.crm = c }
}

// WithNotifier sets the notifier told about every submitted lead.
func WithNotifier(n notify.Notifier) Option {
	return func(a *Agent) { a.notifier = n }
}

// WithAdmins sets the admin usernames. Case and a leading "@" are ignored.
func WithAdmins(usernames []string) Option {
	return func(a *Agent) {
		for _, u := range config.NormalizeUsernames(usernames) {
			a.admins[u] = struct{}{}
		}
	}
}

// WithStaleMessageAge sets the age after which inbound messages are dropped.
func WithStaleMessageAge(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.staleAge = d
		}
	}
}

// WithMedia sets the optional conversation videos.
func WithMedia(m conversation.Media) Option {
	return func(a *Agent) { a.media = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithExportPath sets the file written by the /export command.
func WithExportPath(path string) Option {
	return func(a *Agent) { a.exportPath = path }
}

// New creates an Agent. The repository should already hold the restored snapshot; call
// Reminders().RecoverState afterwards to re-arm persisted reminders.
func New(repo *state.Repository, apps Applications, transport messaging.Service, script *config.Script, opts ...Option) *Agent {
	a := &Agent{
		repo:       repo,
		apps:       apps,
		transport:  transport,
		script:     script,
		lock:       adminlock.New(),
		admins:     make(map[string]struct{}),
		adminIDs:   make(map[models.UserID]string),
		staleAge:   DefaultStaleMessageAge,
		exportPath: config.LeadsExportFileName,
		now:        time.Now,
		tasks:      make(chan func(), DefaultTaskBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.timer == nil {
		a.timer = reminder.NewSimpleTimer()
	}

	a.gate = gate.New(repo)
	a.reminders = reminder.NewScheduler(repo, a.timer, transport, script.Messages,
		reminder.WithClock(a.now),
		reminder.WithDispatcher(a.Post))
	a.machine = conversation.NewMachine(repo, script, transport, a.reminders, apps,
		conversation.WithMedia(a.media),
		conversation.WithClock(a.now),
		conversation.WithLeadSink(conversation.LeadSinkFunc(a.submitLead)))

	slog.Info("Agent created", "admins", len(a.admins), "crm", a.crm != nil && a.crm.Configured(), "notifier", a.notifier != nil, "stale_age", a.staleAge)
	return a
}

// Reminders returns the reminder scheduler so it can be registered for recovery.
func (a *Agent) Reminders() *reminder.Scheduler { return a.reminders }

// Lock returns the admin lock.
func (a *Agent) Lock() *adminlock.Lock { return a.lock }

// Run processes inbound messages and posted tasks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("Agent event loop started")
	defer a.stop()

	msgs := a.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Agent event loop stopping", "reason", ctx.Err())
			a.reminders.StopAll()
			return nil
		case fn := <-a.tasks:
			fn()
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("Agent transport channel closed, waiting for shutdown")
				msgs = nil
				continue
			}
			a.HandleMessage(ctx, msg)
		}
	}
}

func (a *Agent) stop() {
	a.once.Do(func() { close(a.done) })
}

// Post queues fn to run on the event loop. It is dropped once the loop has stopped.
func (a *Agent) Post(fn func()) {
	select {
	case a.tasks <- fn:
	case <-a.done:
		slog.Debug("Agent Post after shutdown, task dropped")
	}
}

// Do runs fn on the event loop and waits for it to finish.
func (a *Agent) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case a.tasks <- task:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background lead submissions and admin lookups have finished.
func (a *Agent) Wait() {
	a.bg.Wait()
}

func (a *Agent) background(name string, fn func(ctx context.Context)) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultSubmitTimeout)
		defer cancel()
		slog.Debug("Agent background task started", "task", name)
		fn(ctx)
	}()
}

// Status is a summary of the agent state.
type Status struct {
	state.Stats
	PendingTimers int           `json:"pending_timers"`
	LockActive    bool          `json:"admin_lock_active"`
	LockHolder    models.UserID `json:"admin_lock_holder,omitempty"`
}

// Status summarizes the state. Call it on the event loop.
func (a *Agent) Status() Status {
	holder, active := a.lock.Holder()
	return Status{
		Stats:         a.repo.Stats(),
		PendingTimers: a.reminders.Pending(),
		LockActive:    active,
		LockHolder:    holder,
	}
}

// ResetAll cancels every reminder and wipes all per-user state. Call it on the event loop.
func (a *Agent) ResetAll(ctx context.Context, source string) {
	a.reminders.StopAll()
	a.repo.Reset()
	if err := a.repo.Persist(ctx); err != nil {
		slog.Error("Agent reset could not persist empty state", "source", source, "error", err)
		return
	}
	slog.Info("Agent full reset complete", "source", source)
}
