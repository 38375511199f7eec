package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// errReported marks an error whose message was already shown as a notice.
var errReported = errors.New("reported")

type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() []error {
	return []error{e.err, errReported}
}

func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err: err}
}

type rootOptions struct {
	configPath string
	server     string
	dataDir    string
	timeout    time.Duration
	logLevel   string
	logFormat  string
	logFile    string
}

// NewRootCmd builds the superstar command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "superstar",
		Short: "Payment Recovery Superstar client",
		Long: `Sign in to a Payment Recovery Superstar service from the terminal or a local
web portal. Client logins are confirmed with a one-time code sent by email.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	f.StringVar(&opts.server, "server", defaultServer, "Base URL of the authentication service")
	f.StringVar(&opts.dataDir, "data-dir", "", "Directory for the token database (default $HOME/.superstar)")
	f.DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")
	f.StringVar(&opts.logFile, "log-file", "", "Write logs to a rotating file instead of stderr")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newPasswdCmd(opts),
		newRequestAccessCmd(opts),
		newServeCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		}
		os.Exit(1)
	}
}
