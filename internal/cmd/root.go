// Package cmd holds the authclient command tree.
package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-session/api/apifake"
	"github.com/jrsteele09/go-auth-session/client"
	"github.com/jrsteele09/go-auth-session/internal/config"
	applog "github.com/jrsteele09/go-auth-session/internal/log"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/users"
)

// Demo account available with --fake.
const (
	DemoEmail    = "demo@example.com"
	DemoPassword = "demo1234"
)

type app struct {
	configDir string
	fake      bool

	client     *client.Client
	closeStore func() error
}

// NewRootCommand builds the authclient command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "authclient",
		Short: "Session and realtime connection client",
		Long: `authclient restores, refreshes and ends a user session against the auth API and keeps
the realtime channel bound to it.

Tokens are kept in the store selected by store.driver (file, sqlite, redis or memory).

Examples:
  authclient login --email user@example.com --password mypass
  authclient status
  authclient watch
  authclient logout`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&a.configDir, "config", "", "directory holding authclient.yaml")
	root.PersistentFlags().BoolVar(&a.fake, "fake", false, "use an in-memory backend with a demo account")

	root.AddCommand(
		newLoginCommand(a),
		newRegisterCommand(a),
		newLogoutCommand(a),
		newStatusCommand(a),
		newWatchCommand(a),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	var dirs []string
	if a.configDir != "" {
		dirs = append(dirs, a.configDir)
	}
	cfg, err := config.Load(dirs...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Logger = applog.New(cfg.GetEnv())

	store, closer, err := client.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.closeStore = closer

	opts := []client.Option{client.WithStore(store), client.WithLogger(log.Logger)}
	if a.fake {
		backend, err := fakeBackend(ctx, store)
		if err != nil {
			_ = a.close()
			return err
		}
		opts = append(opts, client.WithAPI(backend))
	}

	c, err := client.New(ctx, cfg, opts...)
	if err != nil {
		_ = a.close()
		return err
	}
	a.client = c
	return nil
}

func (a *app) close() error {
	var err error
	if a.client != nil {
		err = a.client.Close()
		a.client = nil
	}
	if a.closeStore != nil {
		if cerr := a.closeStore(); cerr != nil && err == nil {
			err = cerr
		}
		a.closeStore = nil
	}
	return err
}

// fakeBackend seeds an in-memory backend with the demo account. Tokens left in the store by an
// earlier run are honoured so a session survives between invocations.
func fakeBackend(ctx context.Context, store tokenstore.Store) (*apifake.FakeAPI, error) {
	backend := apifake.New()
	demo := backend.AddUser(users.User{
		ID:          "demo",
		DisplayName: "Demo Organizer",
		Email:       DemoEmail,
		Roles:       []users.RoleType{users.RoleOrganizer},
	}, DemoPassword)

	tokens, err := tokenstore.Load(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("read stored tokens: %w", err)
	}
	backend.IssueTokens(demo.ID, tokens.Access, tokens.Refresh)
	return backend, nil
}
