package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-session/api"
	"github.com/jrsteele09/go-auth-session/routing"
	"github.com/jrsteele09/go-auth-session/users"
)

func newLoginCommand(a *app) *cobra.Command {
	var email, password, returnTo string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with email and password",
		Example: `  authclient login --email user@example.com --password mypass
  authclient login --email judge@example.com --password mypass --return-to /judge/round/2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if password == "" {
				return fmt.Errorf("--password is required")
			}

			sm := a.client.Session
			if err := sm.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			if err := sm.Login(cmd.Context(), api.Credentials{Email: email, Password: password}); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			snap := sm.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Logged in as %s\n", describeUser(snap.User))
			fmt.Fprintf(out, "Landing: %s\n", routing.ResolveLandingPath(snap.User, returnTo))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (required)")
	cmd.Flags().StringVar(&returnTo, "return-to", "", "Path the user was heading to before signing in")
	return cmd
}

func newRegisterCommand(a *app) *cobra.Command {
	var profile api.Profile
	var roles []string

	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Register a new account and sign in",
		Example: `  authclient register --email user@example.com --password mypass --name "Ada" --role participant`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if profile.Email == "" {
				return fmt.Errorf("--email is required")
			}
			for _, r := range roles {
				profile.Roles = append(profile.Roles, users.RoleType(r))
			}

			sm := a.client.Session
			if err := sm.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			if err := sm.Register(cmd.Context(), profile); err != nil {
				return fmt.Errorf("register failed: %w", err)
			}

			snap := sm.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", describeUser(snap.User))
			return nil
		},
	}

	cmd.Flags().StringVar(&profile.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&profile.Password, "password", "", "Password")
	cmd.Flags().StringVar(&profile.DisplayName, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to request, repeatable")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and remove stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sm := a.client.Session
			if err := sm.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}

			out := cmd.OutOrStdout()
			snap := sm.Snapshot()
			if !snap.IsAuthenticated() {
				fmt.Fprintln(out, "Not logged in.")
			}
			if err := sm.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			if snap.IsAuthenticated() {
				fmt.Fprintf(out, "Logged out %s\n", describeUser(snap.User))
			}
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Restore the session and show who is signed in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sm := a.client.Session
			if err := sm.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("initialize: %w", err)
			}

			snap := sm.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", snap.Status)
			if snap.User != nil {
				fmt.Fprintf(out, "User: %s\n", describeUser(snap.User))
				fmt.Fprintf(out, "Landing: %s\n", routing.ResolveLandingPath(snap.User, ""))
			}
			if snap.LastError != nil {
				fmt.Fprintf(out, "Last error: %s\n", snap.LastError.Message)
			}
			if path != "" {
				d := routing.Gate(snap, path, routing.RequiredRoles(path)...)
				fmt.Fprintf(out, "Route %s: %s %s\n", path, d.Kind, d.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Show the gate decision for this route")
	return cmd
}

func describeUser(u *users.User) string {
	if u == nil {
		return "(unknown)"
	}
	roles := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, string(r))
	}
	name := u.Email
	if u.DisplayName != "" {
		name = fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)
	}
	if len(roles) == 0 {
		return name
	}
	return fmt.Sprintf("%s [%s]", name, strings.Join(roles, ","))
}
