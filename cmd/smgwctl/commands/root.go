package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/smgw/internal/server"
)

var (
	// client is the admin service client, initialized in PersistentPreRunE.
	client server.AdminServiceClient

	// outputFormat controls the output format for all commands.
	outputFormat string

	// serverAddr is the daemon admin address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for smgwctl.
var rootCmd = &cobra.Command{
	Use:   "smgwctl",
	Short: "CLI client for the smgw daemon",
	Long:  "smgwctl talks to the smgw admin API to inspect listeners and silence recipients.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = server.NewAdminServiceClient(
			http.DefaultClient,
			"http://"+serverAddr,
		)

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50061",
		"smgw daemon admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json, yaml")

	rootCmd.AddCommand(listenersCmd())
	rootCmd.AddCommand(shutupCmd())
	rootCmd.AddCommand(helpCommandsCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
