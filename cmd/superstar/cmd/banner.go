package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const banner = `
  ____                              _
 / ___| _   _ _ __   ___ _ __ ___| |_ __ _ _ __
 \___ \| | | | '_ \ / _ \ '__/ __| __/ _` + "`" + ` | '__|
  ___) | |_| | |_) |  __/ |  \__ \ || (_| | |
 |____/ \__,_| .__/ \___|_|  |___/\__\__,_|_|
             |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Payment Recovery Superstar - Version %s\x1b[0m\n\n", Version)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "superstar %s\n", Version)
		},
	}
}
