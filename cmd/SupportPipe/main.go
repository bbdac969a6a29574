package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "time/tzdata"

	"github.com/BTreeMap/SupportPipe/internal/api"
	"github.com/BTreeMap/SupportPipe/internal/config"
	"github.com/BTreeMap/SupportPipe/internal/genai"
	"github.com/BTreeMap/SupportPipe/internal/hours"
	"github.com/BTreeMap/SupportPipe/internal/lockfile"
	"github.com/BTreeMap/SupportPipe/internal/messaging"
	"github.com/BTreeMap/SupportPipe/internal/metrics"
	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/portal"
	"github.com/BTreeMap/SupportPipe/internal/router"
	"github.com/BTreeMap/SupportPipe/internal/session"
	"github.com/BTreeMap/SupportPipe/internal/store"
	"github.com/BTreeMap/SupportPipe/internal/ticket"
	"github.com/BTreeMap/SupportPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SupportPipe/internal/whatsapp"
)

func main() {
	initializeLogger(true)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], &cfg)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SupportPipe", "transport", cfg.Transport, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr)
	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("SupportPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SupportPipe exited successfully")
}

// Flags holds the command line switches that have no environment equivalent.
type Flags struct {
	QROutput    string
	NumericCode bool
}

// initializeLogger sets up structured logging on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// parseCommandLineFlags parses args into fs. Flags that mirror an
// environment setting override it in cfg.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg *config.Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.NumericCode, "numeric-code", false, "use a numeric pairing code instead of a QR code")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $SUPPORTPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "application database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "message transport: whatsapp or twilio (overrides $TRANSPORT)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging (overrides $DEBUG)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	slog.Debug("flags parsed",
		"qr_output", f.QROutput,
		"numeric_code", f.NumericCode,
		"state_dir", cfg.StateDir,
		"db_dsn_set", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"transport", cfg.Transport)
	return f, nil
}

// transport is a messaging service plus the hook that releases its connection.
type transport struct {
	messaging.Service
	twilio *messaging.TwilioService
	close  func()
}

// run wires the components and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, flags Flags) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(cfg.StoreDSN())
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	m := metrics.New()
	registry := session.NewRegistry(
		session.WithArchiver(st),
		session.WithTimeouts(cfg.WarningAfter, cfg.EndAfter),
	)

	routerOpts := []router.Option{
		router.WithStore(st),
		router.WithHours(hours.New(hours.WithTimezone(cfg.Timezone), hours.WithDisabled(cfg.HoursDisabled))),
		router.WithLookup(portal.NewClient(portalOptions(cfg)...)),
		router.WithMetrics(m),
		router.WithAIEndAfter(cfg.AIEndAfter),
	}
	ai, err := newAI(cfg)
	switch {
	case err == nil:
		routerOpts = append(routerOpts, router.WithAI(ai), router.WithTickets(ticket.NewService(st, ai)))
	case errors.Is(err, genai.ErrAPIKeyMissing):
		slog.Warn("No OpenAI API key configured, replies come from keyword rules")
		routerOpts = append(routerOpts, router.WithTickets(ticket.NewService(st, nil)))
	default:
		return err
	}

	tr, err := openTransport(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer tr.close()

	rt := router.New(registry, tr, routerOpts...)
	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", cfg.Transport, err)
	}
	registry.Start(ctx)
	rt.Start(ctx)

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr), api.WithAuthToken(cfg.APIToken), api.WithMetrics(m)}
	if tr.twilio != nil {
		apiOpts = append(apiOpts, api.WithTwilio(tr.twilio))
	}
	server := api.NewServer(registry, rt, st, apiOpts...)
	serveErr := server.Run(ctx)

	slog.Info("Shutting down SupportPipe")
	cancel()
	rt.Wait()
	registry.EndAll(context.Background(), models.EndReasonSystem)
	if err := tr.Stop(); err != nil {
		slog.Warn("Failed to stop transport", "error", err)
	}
	return serveErr
}

// openStore picks the backend from the shape of dsn.
func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func newAI(cfg config.Config) (*genai.Client, error) {
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	return genai.NewClient(opts...)
}

func portalOptions(cfg config.Config) []portal.Option {
	var opts []portal.Option
	if cfg.PortalValidateURL != "" {
		opts = append(opts, portal.WithValidateURL(cfg.PortalValidateURL))
	}
	if cfg.PortalBalanceURL != "" {
		opts = append(opts, portal.WithBalanceURL(cfg.PortalBalanceURL))
	}
	if cfg.PortalOrderURL != "" {
		opts = append(opts, portal.WithOrderURL(cfg.PortalOrderURL))
	}
	if cfg.PortalToken != "" {
		opts = append(opts, portal.WithToken(cfg.PortalToken))
	}
	if cfg.PortalTimeout > 0 {
		opts = append(opts, portal.WithTimeout(cfg.PortalTimeout))
	}
	return opts
}

func openTransport(ctx context.Context, cfg config.Config, flags Flags) (*transport, error) {
	if cfg.Transport == config.TransportTwilio {
		twOpts := twilioOptions(cfg)
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return nil, err
		}
		var svcOpts []messaging.TwilioOption
		if base := publicBase(cfg); base != "" {
			svcOpts = append(svcOpts, messaging.WithSignatureValidation(cfg.TwilioAuthToken, base))
		} else {
			slog.Warn("PUBLIC_URL not set, Twilio webhook signatures are not verified")
		}
		svc := messaging.NewTwilioService(client, svcOpts...)
		return &transport{Service: svc, twilio: svc, close: func() {}}, nil
	}

	client, err := whatsapp.NewClient(ctx, whatsappOptions(cfg, flags)...)
	if err != nil {
		return nil, err
	}
	return &transport{Service: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil
}

func whatsappOptions(cfg config.Config, flags Flags) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppStoreDSN())}
	if flags.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(flags.QROutput))
	}
	if flags.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func twilioOptions(cfg config.Config) []twiliowhatsapp.Option {
	opts := []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
	}
	if base := publicBase(cfg); base != "" {
		opts = append(opts, twiliowhatsapp.WithStatusCallback(base+"/webhooks/twilio/status"))
	}
	return opts
}

func publicBase(cfg config.Config) string {
	return strings.TrimRight(cfg.PublicURL, "/")
}
