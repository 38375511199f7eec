package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prsuperstar/superstar/login"
	"github.com/prsuperstar/superstar/notify"
	"github.com/prsuperstar/superstar/otp"
	"github.com/prsuperstar/superstar/session"
)

// MsgLoginCancelled is printed when the user backs out of the code prompt.
const MsgLoginCancelled = "Login cancelled"

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		admin    bool
		username string
	)
	c := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Long: `Sign in with a username and password. Client accounts then receive a
6-digit code by email. At the code prompt, paste or type the code, enter
"r" to request a new one, or "b" to go back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, opts, "warn")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			a.store.Restore(ctx)
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())

			if username == "" {
				if username, err = p.line("Username: "); err != nil {
					return err
				}
			}
			password, err := p.secret("Password: ")
			if err != nil {
				return err
			}

			out, err := login.NewSubmitter(a.store, a.notices, admin).Submit(ctx, username, password, "")
			if err != nil {
				return reported(err)
			}
			if !out.RequiresOTP {
				printIdentity(cmd.OutOrStdout(), out.Identity)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enter the 6-digit code sent to %s. It expires in 10 minutes.\n", out.MaskedEmail)
			return promptCode(ctx, p, a)
		},
	}
	c.Flags().BoolVar(&admin, "admin", false, "Sign in through the admin login")
	c.Flags().StringVarP(&username, "username", "u", "", "Username (prompted when empty)")
	return c
}

// promptCode drives an OTP handler from the prompt until verification
// succeeds, the user goes back or input ends.
func promptCode(ctx context.Context, p *prompter, a *app) error {
	h := otp.NewHandler(a.store, otp.WithLogger(a.logger))
	defer h.Close()

	for {
		line, err := p.line("Code (r = resend, b = back): ")
		if err != nil {
			h.Back(ctx)
			if errors.Is(err, io.EOF) {
				return reported(errors.New(MsgLoginCancelled))
			}
			return err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "b":
			h.Back(ctx)
			notify.Info(a.notices, MsgLoginCancelled)
			return nil
		case "r":
			res, err := h.Resend(ctx)
			switch {
			case err != nil:
				notify.Error(a.notices, err.Error())
			case !res.Sent:
				notify.Info(a.notices, fmt.Sprintf("Please wait %ds before requesting a new code", h.View().Cooldown))
			default:
				notify.Success(a.notices, res.Message)
			}
			continue
		}

		res := h.Paste(ctx, line)
		if !res.Submitted && res.Err == nil {
			res = h.Submit(ctx)
		}
		if res.Err != nil {
			notify.Error(a.notices, res.Err.Error())
			if errors.Is(res.Err, session.ErrNoPendingVerification) {
				return reported(res.Err)
			}
			continue
		}
		if res.Identity != nil {
			notify.Success(a.notices, login.MsgLoginSuccessful)
			printIdentity(p.out, res.Identity)
			return nil
		}
	}
}

func printIdentity(w io.Writer, id *session.Identity) {
	if id == nil {
		return
	}
	role := "client"
	if id.IsAdmin {
		role = "admin"
	}
	if id.Email != "" {
		fmt.Fprintf(w, "Signed in as %s <%s> (%s)\n", id.Username, id.Email, role)
		return
	}
	fmt.Fprintf(w, "Signed in as %s (%s)\n", id.Username, role)
}
