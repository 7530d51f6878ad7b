package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tilal/fieldops-notify/internal/apiclient"
	"github.com/tilal/fieldops-notify/internal/config"
	"github.com/tilal/fieldops-notify/internal/notifications"
	"github.com/tilal/fieldops-notify/internal/payments"
	"github.com/tilal/fieldops-notify/internal/pushchannel"
	"github.com/tilal/fieldops-notify/internal/session"
)

func main() {
	configPath := flag.String("config", envOrDefault("FIELDOPS_CONFIG", ""), "config file (yaml)")
	sessionFile := flag.String("session-file", "", "session file to follow (overrides session.file)")
	alerts := flag.Bool("alerts", false, "print payment alerts and per-site badges as JSON and exit")
	var cmd command
	flag.BoolVar(&cmd.once, "once", false, "load the current session, print one snapshot and exit")
	flag.StringVar(&cmd.openID, "open", "", "open (consume) the notification with this id, print its route and exit")
	flag.StringVar(&cmd.readID, "mark-read", "", "mark the notification with this id read without removing it, then exit")
	flag.BoolVar(&cmd.markAll, "mark-all", false, "mark every notification read, re-pull and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if strings.TrimSpace(*sessionFile) != "" {
		cfg.Session.File = strings.TrimSpace(*sessionFile)
	}
	logger := buildLogger(cfg.Log, os.Stderr)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(cfg.API.BaseURL, apiclient.Options{
		Token:             cfg.API.Token,
		HTTPClient:        &http.Client{Timeout: cfg.API.Timeout},
		MaxRetries:        cfg.API.MaxRetries,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	})

	if *alerts {
		if err := printAlerts(rootCtx, cfg, payments.NewSitesClient(api), os.Stdout); err != nil {
			logger.Fatal().Err(err).Msg("payment alerts failed")
		}
		return
	}

	if err := run(rootCtx, cfg, api, logger, cmd); err != nil {
		logger.Fatal().Err(err).Msg("notification daemon failed")
	}
}

// command selects a one-shot action; the zero value runs the daemon.
type command struct {
	once    bool
	openID  string
	readID  string
	markAll bool
}

func (c command) oneShot() bool {
	return c.once || c.openID != "" || c.readID != "" || c.markAll
}

func run(ctx context.Context, cfg config.Config, api *apiclient.Client, logger zerolog.Logger, cmd command) error {
	if strings.TrimSpace(cfg.Session.File) == "" {
		return errors.New("session file is required (--session-file or session.file)")
	}
	once := cmd.oneShot()

	engineOpts := notifications.EngineOptions{Logger: logger}
	var manager *pushchannel.Manager
	if cfg.Push.Enabled && !once {
		endpoint, err := cfg.PushEndpoint()
		if err != nil {
			return fmt.Errorf("derive push endpoint: %w", err)
		}
		manager, err = pushchannel.NewManager(pushchannel.Options{
			Endpoint:           endpoint,
			Token:              cfg.API.Token,
			ReconnectBaseDelay: cfg.Push.ReconnectBaseDelay,
			ReconnectMaxDelay:  cfg.Push.ReconnectMaxDelay,
			Logger:             logger,
		})
		if err != nil {
			return fmt.Errorf("initialize push channel: %w", err)
		}
		defer manager.Close()
		engineOpts.Connector = manager
	}

	engine, err := notifications.NewEngine(notifications.NewHTTPClient(api), engineOpts)
	if err != nil {
		return err
	}
	defer engine.Close()

	store := session.NewStore()
	watcher, err := session.NewFileWatcher(cfg.Session.File, store, logger)
	if err != nil {
		return err
	}

	if once {
		if err := watcher.Load(); err != nil {
			return err
		}
		if err := engine.SetPrincipal(ctx, store.Current()); err != nil {
			return err
		}
		return runCommand(ctx, engine, cmd, os.Stdout, time.Now())
	}

	cancelSnapshots := engine.Subscribe(func(s notifications.Snapshot) {
		logger.Info().Str("principal", s.PrincipalID).Int("unread", s.Unread).Msg("notifications updated")
	})
	defer cancelSnapshots()

	changes := make(chan *session.Principal, 1)
	cancelSession := store.Subscribe(func(p *session.Principal) {
		offerPrincipal(changes, p)
	})
	defer cancelSession()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		applyPrincipals(gctx, engine, changes, logger)
		return nil
	})
	if cfg.Notifications.PollInterval > 0 {
		g.Go(func() error {
			pollLoop(gctx, engine, cfg.Notifications.PollInterval, cfg.Notifications.PollJitter, logger)
			return nil
		})
	}
	err = g.Wait()
	logger.Info().Msg("notification daemon stopping")
	return err
}

// runCommand performs a one-shot action for the already loaded principal and
// prints the resulting snapshot.
func runCommand(ctx context.Context, engine *notifications.Engine, cmd command, w io.Writer, now time.Time) error {
	if cmd.markAll {
		if err := engine.MarkAllRead(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "marked all notifications read")
	}
	if cmd.readID != "" {
		if err := engine.MarkRead(ctx, cmd.readID); err != nil {
			return err
		}
		fmt.Fprintf(w, "marked %s read\n", cmd.readID)
	}
	if cmd.openID != "" {
		result, err := engine.Open(ctx, cmd.openID)
		if err != nil {
			return err
		}
		if result.DeleteErr != nil {
			fmt.Fprintf(w, "could not delete %s: %v\n", cmd.openID, result.DeleteErr)
		}
		if result.Route.None() {
			fmt.Fprintf(w, "opened %s: no navigation\n", cmd.openID)
		} else {
			fmt.Fprintf(w, "opened %s: navigate to %s\n", cmd.openID, result.Route.Path)
		}
	}
	printSnapshot(w, engine.Snapshot(), now)
	return nil
}

type principalSetter interface {
	SetPrincipal(ctx context.Context, p *session.Principal) error
}

// offerPrincipal queues p for the applier, replacing any change it has not
// picked up yet.
func offerPrincipal(changes chan *session.Principal, p *session.Principal) {
	for {
		select {
		case changes <- p:
			return
		default:
		}
		select {
		case <-changes:
		default:
		}
	}
}

// applyPrincipals hands session changes to target off the watcher goroutine.
// A newer change cancels the one still loading, so a logout never waits on a
// slow initial pull.
func applyPrincipals(ctx context.Context, target principalSetter, changes <-chan *session.Principal, logger zerolog.Logger) {
	var applied *session.Principal
	started := false
	cancel := context.CancelFunc(func() {})
	done := make(chan struct{})
	close(done)
	defer func() {
		cancel()
		<-done
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-changes:
			if started && applied.Equal(p) {
				continue
			}
			cancel()
			<-done
			started = true
			applied = p
			applyCtx, applyCancel := context.WithCancel(ctx)
			cancel = applyCancel
			done = make(chan struct{})
			go func(p *session.Principal, done chan struct{}) {
				defer close(done)
				if err := target.SetPrincipal(applyCtx, p); err != nil && applyCtx.Err() == nil {
					logger.Debug().Err(err).Msg("initial notification load incomplete")
				}
			}(p, done)
		}
	}
}

func pollLoop(ctx context.Context, engine *notifications.Engine, interval time.Duration, jitter float64, logger zerolog.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	jitter = clampJitterRatio(jitter)
	timer := time.NewTimer(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			err := engine.Refresh(ctx)
			if err != nil && !errors.Is(err, notifications.ErrNoPrincipal) {
				logger.Debug().Err(err).Msg("notification poll failed")
			}
			timer.Reset(jitteredIntervalWithSample(interval, jitter, rng.Float64()))
		}
	}
}

// alertReport is the -alerts output: the bulk alert lists plus one badge per
// dated site.
type alertReport struct {
	payments.AlertList
	Badges []siteBadge `json:"badges"`
}

type siteBadge struct {
	payments.Badge
	Label string `json:"label"`
}

func printAlerts(ctx context.Context, cfg config.Config, source payments.SiteSource, w io.Writer) error {
	sites, err := source.ListSites(ctx)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	evaluator := payments.NewEvaluator(payments.EvaluatorOptions{
		DueSoonDays:  cfg.Payments.DueSoonDays,
		UpcomingDays: cfg.Payments.UpcomingDays,
	})
	report := alertReport{AlertList: evaluator.Alerts(sites), Badges: []siteBadge{}}
	for _, site := range sites {
		if badge, ok := evaluator.Badge(site); ok {
			report.Badges = append(report.Badges, siteBadge{Badge: badge, Label: badge.Label()})
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printSnapshot(w io.Writer, s notifications.Snapshot, now time.Time) {
	if s.PrincipalID == "" {
		fmt.Fprintln(w, "not signed in")
		return
	}
	fmt.Fprintf(w, "%s: %d unread\n", s.PrincipalID, s.Unread)
	for _, n := range s.Items {
		fmt.Fprintf(w, "  [%s] %s (%s)\n", n.ID, n.Subject, notifications.RelativeTime(now, n.CreatedAt))
	}
}

func buildLogger(cfg config.Log, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
