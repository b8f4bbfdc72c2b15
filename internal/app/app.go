// Package app exposes the command surface: account management, sync runs,
// and project queries, wired over the store and the mail engine.
package app

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/threadline/threadline/internal/apperr"
	"github.com/threadline/threadline/internal/attachment"
	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/events"
	"github.com/threadline/threadline/internal/mail"
	"github.com/threadline/threadline/internal/project"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/pkg/types"
)

// App is the long-lived application core.
type App struct {
	cfg        *config.Config
	store      *store.Store
	files      *attachment.Store
	classifier *project.Classifier
	timeline   *project.Timeline
	engine     *mail.Engine
	logger     *logrus.Logger

	// dial is swapped out in tests.
	dial mail.DialFunc
}

// Options carries the optional collaborators.
type Options struct {
	Notifier events.Notifier
	Tokens   mail.TokenSource
	Dial     mail.DialFunc
}

// New opens the database and builds the application core.
func New(cfg *config.Config, opts Options, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "invalid configuration")
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	files := attachment.NewStore(cfg.AttachmentDir, logger)
	classifier := project.NewClassifier(st, logger)

	a := &App{
		cfg:        cfg,
		store:      st,
		files:      files,
		classifier: classifier,
		timeline:   project.NewTimeline(st, logger),
		logger:     logger,
		dial:       opts.Dial,
	}
	a.engine = mail.NewEngine(mail.EngineOptions{
		Store:      st,
		Files:      files,
		Classifier: classifier,
		Notifier:   opts.Notifier,
		Tokens:     opts.Tokens,
		Dial:       opts.Dial,
		Logger:     logger,
		MaxCount:   cfg.MaxSyncCount,
		SyncAll:    cfg.SyncAll(),
	})
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.store.Close()
}

// AddAccount registers a password-authenticated account. The credentials
// are verified against the provider's IMAP server before anything is
// stored.
func (a *App) AddAccount(email, password, providerName string) (*types.AccountSummary, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperr.New(apperr.CodeValidation, "password is required")
	}

	provider, err := resolveProvider(email, providerName)
	if err != nil {
		return nil, err
	}

	auth := mail.PasswordAuth{Username: email, Password: password}
	if err := a.testConnection(provider.IMAP, auth); err != nil {
		return nil, err
	}

	acc := &types.Account{
		Email:    email,
		Provider: provider.Name,
		AuthType: "password",
		Password: password,
	}
	return a.createAccount(acc, provider)
}

// AddOAuthAccount registers an account authenticated over XOAUTH2. The
// token source runs the external OAuth flow; the resulting access token is
// verified against the IMAP server before the account is stored.
func (a *App) AddOAuthAccount(email, providerName string, tokens mail.TokenSource) (*types.AccountSummary, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, apperr.New(apperr.CodeValidation, "a token source is required for OAuth accounts")
	}

	provider, err := resolveProvider(email, providerName)
	if err != nil {
		return nil, err
	}
	if !provider.OAuthSupported {
		return nil, apperr.New(apperr.CodeValidation, "provider %s does not support OAuth", provider.Name)
	}

	info, err := tokens.Token(provider.Name, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeAuth, err, "OAuth flow failed for %s", email)
	}

	auth := mail.OAuthAuth{Username: email, AccessToken: info.AccessToken}
	if err := a.testConnection(provider.IMAP, auth); err != nil {
		return nil, err
	}

	var expiresAt int64
	if info.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + info.ExpiresIn
	}
	acc := &types.Account{
		Email:               email,
		Provider:            provider.Name,
		AuthType:            "oauth",
		OAuthAccessToken:    info.AccessToken,
		OAuthRefreshToken:   info.RefreshToken,
		OAuthTokenExpiresAt: expiresAt,
	}
	return a.createAccount(acc, provider)
}

func (a *App) createAccount(acc *types.Account, provider *mail.ProviderConfig) (*types.AccountSummary, error) {
	cfgJSON, err := json.Marshal(provider.IMAP)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeGeneric, err, "failed to encode IMAP config")
	}
	acc.IMAPConfig = string(cfgJSON)

	id, err := a.store.CreateAccount(acc)
	if err != nil {
		return nil, err
	}
	return &types.AccountSummary{
		ID:       id,
		Email:    acc.Email,
		Provider: acc.Provider,
		AuthType: acc.AuthType,
	}, nil
}

// testConnection dials, authenticates, and disconnects.
func (a *App) testConnection(cfg mail.IMAPConfig, auth mail.AuthMethod) error {
	dial := a.dial
	if dial == nil {
		dial = func(c mail.IMAPConfig, m mail.AuthMethod) (mail.ProtocolSession, error) {
			return mail.Dial(c, m, a.logger)
		}
	}
	session, err := dial(cfg, auth)
	if err != nil {
		return err
	}
	return session.Logout()
}

// SyncAccount runs one sync for the account identified by email. A non-empty
// password overrides the stored one for this run.
func (a *App) SyncAccount(email, password string) (*mail.SyncResult, error) {
	acc, err := a.store.GetAccountByEmail(email)
	if err != nil {
		return nil, err
	}
	return a.engine.SyncAccountWithPassword(acc.ID, password)
}

// SyncAllAccounts syncs every account in turn. One account's failure does
// not stop the others.
func (a *App) SyncAllAccounts() []*mail.SyncResult {
	accounts, err := a.store.ListAccounts()
	if err != nil {
		a.logger.WithError(err).Error("Failed to list accounts for sync")
		return nil
	}

	var results []*mail.SyncResult
	for _, acc := range accounts {
		result, err := a.engine.SyncAccount(acc.ID)
		if err != nil {
			a.logger.WithError(err).WithField("email", acc.Email).Error("Account sync failed")
			continue
		}
		results = append(results, result)
	}
	return results
}

// ListAccounts returns all registered accounts without credentials.
func (a *App) ListAccounts() ([]types.AccountSummary, error) {
	return a.store.ListAccounts()
}

// ResetAccountSync wipes the account's synced data and rewinds its cursor.
func (a *App) ResetAccountSync(email string) error {
	acc, err := a.store.GetAccountByEmail(email)
	if err != nil {
		return err
	}
	return a.store.ResetAccountSync(acc.ID)
}

// ListProviders returns the supported provider directory.
func (a *App) ListProviders() []mail.ProviderConfig {
	return mail.Providers()
}

// ListProjects returns projects, pinned first.
func (a *App) ListProjects(includeArchived bool) ([]types.Project, error) {
	return a.store.ListProjects(includeArchived)
}

// ProjectTimeline assembles the project's event timeline, newest first.
func (a *App) ProjectTimeline(projectID int64) ([]project.TimelineEvent, error) {
	if _, err := a.store.GetProject(projectID); err != nil {
		return nil, err
	}
	return a.timeline.Build(projectID)
}

// PinProject toggles a project's pinned flag.
func (a *App) PinProject(projectID int64, pinned bool) error {
	return a.store.SetProjectPinned(projectID, pinned)
}

// ArchiveProject moves a project between the active and archived states.
func (a *App) ArchiveProject(projectID int64, archived bool) error {
	status := "active"
	if archived {
		status = "archived"
	}
	return a.store.SetProjectStatus(projectID, status)
}

// ReclassifyMessages replays classification over all unassigned messages.
func (a *App) ReclassifyMessages() (int, error) {
	return a.classifier.ClassifyAllUnassigned()
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return apperr.New(apperr.CodeValidation, "invalid email address %q", email)
	}
	return nil
}

func resolveProvider(email, providerName string) (*mail.ProviderConfig, error) {
	if providerName != "" {
		provider, ok := mail.ProviderByName(providerName)
		if !ok {
			return nil, apperr.New(apperr.CodeValidation, "unknown provider %q", providerName)
		}
		return provider, nil
	}
	provider, ok := mail.DetectProvider(email)
	if !ok {
		return nil, apperr.New(apperr.CodeValidation, "cannot detect provider for %s, specify one explicitly", email)
	}
	return provider, nil
}
