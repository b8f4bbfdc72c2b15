package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/app"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/events"
	"github.com/threadline/threadline/internal/mail"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.String("config", "", "Path to YAML config file")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("threadline version %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	core, err := app.New(cfg, app.Options{
		Notifier: &events.LogNotifier{Logger: logger},
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer core.Close()

	if err := run(core, cfg, logger, args[0], args[1:]); err != nil {
		logger.WithError(err).Fatal("Command failed")
	}
}

func run(core *app.App, cfg *config.Config, logger *logrus.Logger, command string, args []string) error {
	switch command {
	case "add-account":
		return cmdAddAccount(core, args)
	case "add-oauth-account":
		return cmdAddOAuthAccount(core, args)
	case "accounts":
		accounts, err := core.ListAccounts()
		if err != nil {
			return err
		}
		return printJSON(accounts)
	case "sync":
		return cmdSync(core, args)
	case "reset":
		return cmdReset(core, args)
	case "providers":
		return printJSON(core.ListProviders())
	case "projects":
		return cmdProjects(core, args)
	case "timeline":
		return cmdTimeline(core, args)
	case "pin":
		return cmdPin(core, args)
	case "archive":
		return cmdArchive(core, args)
	case "reclassify":
		assigned, err := core.ReclassifyMessages()
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"assigned": assigned})
	case "daemon":
		return runDaemon(core, cfg, logger)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdAddAccount(core *app.App, args []string) error {
	fs := flag.NewFlagSet("add-account", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "IMAP password or app password")
	provider := fs.String("provider", "", "Provider name (detected from the email domain when omitted)")
	fs.Parse(args) //nolint:errcheck

	summary, err := core.AddAccount(*email, *password, *provider)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func cmdAddOAuthAccount(core *app.App, args []string) error {
	fs := flag.NewFlagSet("add-oauth-account", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	provider := fs.String("provider", "", "Provider name (detected from the email domain when omitted)")
	accessToken := fs.String("access-token", "", "OAuth access token")
	refreshToken := fs.String("refresh-token", "", "OAuth refresh token")
	expiresIn := fs.Int64("expires-in", 0, "Access token lifetime in seconds")
	fs.Parse(args) //nolint:errcheck

	tokens := staticTokenSource{
		info: mail.TokenInfo{
			AccessToken:  *accessToken,
			RefreshToken: *refreshToken,
			ExpiresIn:    *expiresIn,
		},
	}
	summary, err := core.AddOAuthAccount(*email, *provider, tokens)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func cmdSync(core *app.App, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	email := fs.String("email", "", "Account email to sync")
	password := fs.String("password", "", "One-off password override")
	all := fs.Bool("all", false, "Sync every account")
	fs.Parse(args) //nolint:errcheck

	if *all {
		return printJSON(core.SyncAllAccounts())
	}
	if *email == "" {
		return fmt.Errorf("either -email or -all is required")
	}
	result, err := core.SyncAccount(*email, *password)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdReset(core *app.App, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	email := fs.String("email", "", "Account email to reset")
	fs.Parse(args) //nolint:errcheck

	if *email == "" {
		return fmt.Errorf("-email is required")
	}
	return core.ResetAccountSync(*email)
}

func cmdProjects(core *app.App, args []string) error {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	archived := fs.Bool("archived", false, "Include archived projects")
	fs.Parse(args) //nolint:errcheck

	projects, err := core.ListProjects(*archived)
	if err != nil {
		return err
	}
	return printJSON(projects)
}

func cmdTimeline(core *app.App, args []string) error {
	fs := flag.NewFlagSet("timeline", flag.ExitOnError)
	projectID := fs.Int64("project", 0, "Project id")
	fs.Parse(args) //nolint:errcheck

	if *projectID == 0 {
		return fmt.Errorf("-project is required")
	}
	timeline, err := core.ProjectTimeline(*projectID)
	if err != nil {
		return err
	}
	return printJSON(timeline)
}

func cmdPin(core *app.App, args []string) error {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	projectID := fs.Int64("project", 0, "Project id")
	unpin := fs.Bool("unpin", false, "Remove the pin instead")
	fs.Parse(args) //nolint:errcheck

	if *projectID == 0 {
		return fmt.Errorf("-project is required")
	}
	return core.PinProject(*projectID, !*unpin)
}

func cmdArchive(core *app.App, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	projectID := fs.Int64("project", 0, "Project id")
	restore := fs.Bool("restore", false, "Move back to active instead")
	fs.Parse(args) //nolint:errcheck

	if *projectID == 0 {
		return fmt.Errorf("-project is required")
	}
	return core.ArchiveProject(*projectID, !*restore)
}

// runDaemon syncs every account on a fixed interval until interrupted.
func runDaemon(core *app.App, cfg *config.Config, logger *logrus.Logger) error {
	if !cfg.AutoSync {
		return fmt.Errorf("auto_sync is disabled in the configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	logger.WithField("interval", cfg.AutoSyncInterval().String()).Info("Starting auto-sync daemon")
	ticker := time.NewTicker(cfg.AutoSyncInterval())
	defer ticker.Stop()

	core.SyncAllAccounts()
	for {
		select {
		case <-ticker.C:
			core.SyncAllAccounts()
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil
		}
	}
}

// staticTokenSource hands out one pre-obtained token bundle.
type staticTokenSource struct {
	info mail.TokenInfo
}

func (s staticTokenSource) Token(provider, email string) (*mail.TokenInfo, error) {
	if s.info.AccessToken == "" {
		return nil, fmt.Errorf("no access token provided")
	}
	info := s.info
	return &info, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: threadline [flags] <command> [command flags]

Commands:
  add-account        Register a password-authenticated account
  add-oauth-account  Register an XOAUTH2-authenticated account
  accounts           List registered accounts
  sync               Sync one account (-email) or all (-all)
  reset              Wipe an account's synced data and rewind its cursor
  providers          List supported email providers
  projects           List projects
  timeline           Show a project's event timeline
  pin                Pin or unpin a project
  archive            Archive or restore a project
  reclassify         Re-run classification over unassigned messages
  daemon             Sync all accounts on a fixed interval`)
}
