package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/conversation"
	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/notify"
	"github.com/BTreeMap/LeadPipe/internal/recovery"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/state"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/telegram"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// shutdownTimeout bounds the graceful stop of the API server and background submissions.
const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, flag.CommandLine, os.Args[1:]); err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	closeLog, err := initializeLogger(cfg)
	if err != nil {
		slog.Error("Failed to open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "transport", cfg.Transport, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr)
	if err := run(ctx, cfg); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// applyFlags parses command line flags with the environment values as defaults.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, args []string) error {
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: telegram or whatsapp (overrides $TRANSPORT)")
	fs.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "state store DSN: file path, sqlite, postgres or redis (overrides $STORE_DSN)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "operator API address, empty to disable (overrides $API_ADDR)")
	fs.StringVar(&cfg.ScriptPath, "script", cfg.ScriptPath, "conversation script YAML (overrides $SCRIPT_PATH)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "additional log file (overrides $LOG_FILE)")
	fs.StringVar(&cfg.WhatsApp.QRPath, "qr-output", cfg.WhatsApp.QRPath, "path to write the WhatsApp login QR code")
	fs.BoolVar(&cfg.WhatsApp.NumericCode, "numeric-code", cfg.WhatsApp.NumericCode, "use a numeric WhatsApp login code instead of a QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slog.Debug("flags parsed",
		"state_dir", cfg.StateDir,
		"transport", cfg.Transport,
		"store_dsn_set", cfg.StoreDSN != "",
		"api_addr", cfg.APIAddr,
		"script", cfg.ScriptPath,
		"log_level", cfg.LogLevel)
	return nil
}

// initializeLogger installs the text handler on stdout and, when configured, the log file.
func initializeLogger(cfg *config.Config) (func(), error) {
	var out io.Writer = os.Stdout
	closer := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return closer, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = func() { _ = f.Close() }
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return closer, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.Transport)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(store.WithDSN(cfg.SnapshotDSN()))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	script, err := config.LoadScript(cfg.ScriptPath)
	if err != nil {
		return err
	}

	transport, closeTransport, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close()

	crmClient := crm.NewClient(cfg.Bitrix24.WebhookURL,
		crm.WithTimeout(cfg.Bitrix24.Timeout),
		crm.WithQuestionLabels(script.QuestionLabels))

	repo := state.NewRepository(st)
	a := agent.New(repo, st, transport, script,
		agent.WithCRM(crmClient),
		agent.WithNotifier(notifier),
		agent.WithAdmins(cfg.AdminUsernames),
		agent.WithStaleMessageAge(cfg.StaleMessageAge),
		agent.WithExportPath(cfg.LeadsExportPath()),
		agent.WithMedia(conversation.Media{
			GreetingVideo:      cfg.Media.GreetingVideo,
			PhoneQuestionVideo: cfg.Media.PhoneQuestionVideo,
		}))

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable("state", recovery.RecoverFunc(repo.Load))
	rm.RegisterRecoverable("reminders", a.Reminders())
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Recovery finished with errors, continuing", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(scheduler.FlagPollSpec, scheduler.FlagFileJob(cfg.ClearFlagPath(), func() { a.RequestReset("flag_file") })); err != nil {
		return fmt.Errorf("failed to schedule flag poll: %w", err)
	}
	if err := sched.AddJob(scheduler.PruneSpec, scheduler.PruneJob(st, store.ApplicationRetention, time.Now)); err != nil {
		return fmt.Errorf("failed to schedule application pruning: %w", err)
	}

	var server *api.Server
	if cfg.APIAddr != "" {
		server = api.NewServer(cfg.APIAddr, a)
		go func() {
			if err := server.Start(); err != nil {
				slog.Error("API server failed", "error", err)
			}
		}()
	}

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}

	loopErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
	}
	if err := transport.Stop(); err != nil {
		slog.Error("Transport stop failed", "error", err)
	}
	a.Wait()
	if err := repo.Persist(shutdownCtx); err != nil {
		slog.Error("Final state persist failed", "error", err)
	}
	return loopErr
}

// buildTransport connects the configured chat client and wraps it in a messaging service.
func buildTransport(ctx context.Context, cfg *config.Config) (messaging.Service, func(), error) {
	switch cfg.Transport {
	case config.TransportTelegram:
		client, err := telegram.NewClient(cfg.Telegram.BotToken, telegram.WithDebug(cfg.Telegram.Debug))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create telegram client: %w", err)
		}
		return messaging.NewTelegramService(client), func() {}, nil
	case config.TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, whatsappOptions(cfg)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
	}
}

func whatsappOptions(cfg *config.Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if cfg.WhatsApp.DSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(cfg.WhatsApp.DSN))
	}
	if cfg.WhatsApp.QRPath != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QRPath))
	}
	if cfg.WhatsApp.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildNotifier assembles the e-mail and broker notifiers that are configured.
func buildNotifier(cfg *config.Config) (notify.Fanout, error) {
	var fan notify.Fanout
	if cfg.EmailEnabled() {
		fan = append(fan, notify.NewEmailNotifier(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.To))
	}
	if cfg.AMQPEnabled() {
		pub, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to message broker: %w", err)
		}
		fan = append(fan, pub)
	}
	slog.Debug("Notifiers configured", "count", len(fan))
	return fan, nil
}
