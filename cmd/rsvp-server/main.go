package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wedding-rsvp/internal/app"
	"wedding-rsvp/internal/config"
	"wedding-rsvp/internal/form"
	"wedding-rsvp/internal/handler"
	"wedding-rsvp/internal/notify"
	"wedding-rsvp/internal/pipeline"
	"wedding-rsvp/internal/token"
	"wedding-rsvp/internal/whatsapp"
)

const (
	sessionSweepInterval = 5 * time.Minute
	sessionMaxIdle       = 30 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Goodbye")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	backends, err := app.OpenBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	guests := backends.Registry(cfg, log)
	var lookup token.GuestLookup
	if backends.Guests != nil {
		lookup = guests
	} else {
		log.Warn().Msg("No guest list configured, accepting every well-formed token")
	}

	limiter, err := app.NewLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	validator := token.NewValidator(limiter, lookup, token.ValidatorOptions{
		PublicPrefix:      cfg.PublicTokenPrefix,
		RequireKnownGuest: cfg.RequireKnownGuest,
		Blocked:           cfg.BlockedClients,
	}, log)

	var (
		mailer     notify.Mailer
		organizers notify.Organizers
	)
	if cfg.EmailEnabled() {
		emailJS := notify.NewEmailJS(cfg.EmailJSClient(), nil, log)
		mailer = emailJS
		if len(cfg.OrganizerEmails) > 0 {
			organizers = append(organizers, emailJS)
		}
	} else {
		log.Warn().Msg("EmailJS is not configured, confirmation emails are disabled")
	}
	if cfg.WhatsApp.Enabled && len(cfg.OrganizerPhones) > 0 {
		wa, err := connectWhatsApp(ctx, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("WhatsApp unavailable, organizers will only get email")
		} else {
			defer wa.Disconnect()
			organizers = append(organizers, wa)
		}
	}

	p := pipeline.New(backends.Store, backends.Local, validator, mailer, organizers, pipeline.Options{
		AllowUpdates: cfg.AllowRSVPUpdates,
		Wedding:      cfg.Wedding(),
	}, log)

	syncer, err := pipeline.NewSyncer(backends.Store, backends.Local, cfg.SyncSchedule, cfg.AllowRSVPUpdates, log)
	if err != nil {
		return err
	}
	go syncer.Run(ctx)

	forms := form.NewManager(form.Deps{
		Store:         backends.Store,
		Drafts:        backends.Local,
		Submitter:     p,
		AutosaveDelay: cfg.AutosaveDelay,
		Log:           log,
	})
	go forms.RunSweeper(ctx, sessionSweepInterval, sessionMaxIdle)
	defer forms.FlushAll()

	clients, err := handler.NewClientResolver(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	if cfg.AdminPassword == "" {
		log.Warn().Msg("ADMIN_PASSWORD is empty, admin routes are disabled")
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: handler.NewRouter(
			handler.NewRSVPHandler(validator, forms, log),
			handler.NewAdminHandler(handler.AdminDeps{
				Password: cfg.AdminPassword,
				Store:    backends.Store,
				Guests:   guests,
				Syncer:   syncer,
				Forms:    forms,
				Drafts:   backends.Local,
			}, log),
			clients,
			log,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.Backend).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectWhatsApp opens the linked device. Linking itself is done with
// rsvp-admin whatsapp link.
func connectWhatsApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*whatsapp.Service, error) {
	wa, err := whatsapp.NewService(ctx, whatsapp.Config{
		DataDir:         cfg.WhatsApp.DataDir,
		OrganizerPhones: cfg.OrganizerPhones,
	}, log)
	if err != nil {
		return nil, err
	}
	if !wa.Linked() {
		return nil, whatsapp.ErrNotLinked
	}
	if err := wa.Connect(ctx, os.Stdout); err != nil {
		return nil, err
	}
	return wa, nil
}
