package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prsuperstar/superstar/login"
	"github.com/prsuperstar/superstar/notify"
)

const (
	// MsgNotLoggedIn is reported by commands that need a session.
	MsgNotLoggedIn = "Not logged in"
	// MsgLoggedOut is printed after logout.
	MsgLoggedOut = "Logged out"
)

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, "warn")
			if err != nil {
				return err
			}
			defer a.Close()

			a.store.Restore(cmd.Context())
			a.store.Logout(cmd.Context())
			notify.Success(a.notices, MsgLoggedOut)
			return nil
		},
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Long:  `Validates the stored token with the service and prints who it belongs to.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, "warn")
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.store.Restore(cmd.Context())
			if !snap.IsAuthenticated() {
				notify.Error(a.notices, MsgNotLoggedIn)
				return reported(errors.New(MsgNotLoggedIn))
			}
			printIdentity(cmd.OutOrStdout(), snap.Identity)
			return nil
		},
	}
}

func newPasswdCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the signed-in user's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, "warn")
			if err != nil {
				return err
			}
			defer a.Close()

			if snap := a.store.Restore(cmd.Context()); !snap.IsAuthenticated() {
				notify.Error(a.notices, MsgNotLoggedIn)
				return reported(errors.New(MsgNotLoggedIn))
			}

			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			var form login.PasswordForm
			for _, q := range []struct {
				label string
				dst   *string
			}{
				{"Current password: ", &form.Current},
				{"New password: ", &form.New},
				{"Confirm new password: ", &form.Confirm},
			} {
				if *q.dst, err = p.secret(q.label); err != nil {
					return err
				}
			}
			return reported(form.Submit(cmd.Context(), a.store, a.notices))
		},
	}
}

func newRequestAccessCmd(opts *rootOptions) *cobra.Command {
	var form login.AccessForm
	c := &cobra.Command{
		Use:   "request-access",
		Short: "Ask an administrator for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, "warn")
			if err != nil {
				return err
			}
			defer a.Close()

			msg, err := form.Submit(cmd.Context(), a.store, a.notices)
			if err != nil {
				return reported(err)
			}
			if msg != "" {
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			}
			return nil
		},
	}
	c.Flags().StringVar(&form.Name, "name", "", "Your name (required)")
	c.Flags().StringVar(&form.Email, "email", "", "Contact email (required)")
	c.Flags().StringVar(&form.Phone, "phone", "", "Contact phone")
	c.Flags().StringVar(&form.Reason, "reason", "", "Why you need access")
	return c
}
