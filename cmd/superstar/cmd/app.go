package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/prsuperstar/superstar/client"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/session"
	bboltstorage "github.com/prsuperstar/superstar/storage/bbolt"
	"github.com/prsuperstar/superstar/tokenstore"
)

const (
	dbFile  = "superstar.db"
	keyFile = "token.key"
)

// app is the session stack shared by every command.
type app struct {
	settings settings
	logger   *slog.Logger
	store    *session.Store
	notices  notify.Notifier

	repo      *bboltstorage.Store
	tokens    *tokenstore.Sealed
	logCloser io.Closer
}

// openApp resolves configuration and opens the token database. The caller
// must Close the app.
func openApp(cmd *cobra.Command, opts *rootOptions, defaultLevel string) (*app, error) {
	s, err := resolveSettings(opts, cmd.Flags().Changed, os.Getenv)
	if err != nil {
		return nil, err
	}
	if s.LogLevel == "" {
		s.LogLevel = defaultLevel
	}
	logger, logCloser, err := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat, s.LogFile)
	if err != nil {
		return nil, err
	}

	a := &app{settings: s, logger: logger, logCloser: logCloser}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	a.notices = notify.Multi(notify.NewWriter(cmd.OutOrStdout()), notify.NewLog(logger))
	return a, nil
}

func (a *app) open() error {
	if err := os.MkdirAll(a.settings.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(a.settings.DataDir, dbFile), &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return errors.New("token database is in use by another superstar process")
		}
		return fmt.Errorf("failed to open token storage: %w", err)
	}
	a.repo = repo

	key, err := tokenstore.LoadOrCreateKey(filepath.Join(a.settings.DataDir, keyFile))
	if err != nil {
		return err
	}
	a.tokens, err = tokenstore.NewSealed(repo, key)
	if err != nil {
		return err
	}

	api := client.New(a.settings.Server,
		client.WithTimeout(a.settings.Timeout),
		client.WithLogger(a.logger))
	a.store = session.New(api, a.tokens, session.WithLogger(a.logger))
	return nil
}

// Close releases the database, the sealing key and the log file.
func (a *app) Close() error {
	var errs []error
	if a.tokens != nil {
		a.tokens.Close()
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
