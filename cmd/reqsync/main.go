package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/cmd/reqsync/commands"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/sym"
)

var rootCmd = &cobra.Command{
	Use:   "reqsync",
	Short: "reqsync - shared requisition list with live recruiter coordination",
	Long: `reqsync - shared requisition list with live recruiter coordination.

One server holds the authoritative requisition list. Recruiters mark the
requisition they are working on, see who is editing what, and receive every
change as it happens.

Available commands:
  server  - Run the coordination server
  req     - List, create, edit and work requisitions
  watch   - Follow the live requisition list
  db      - Migrate and inspect the database
  am      - Manage reqsync configuration ("I am")
  version - Show version information

Examples:
  reqsync server                     # Start the server on :8787
  reqsync req create --title "Backend Engineer" --client Acme --slots 2
  reqsync req work REQ-1 --as Dana   # Start (or stop) working REQ-1
  reqsync watch                      # Live table of requisitions`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if !cmd.Flags().Changed("json-logs") {
			if cfg, err := am.Load(); err == nil {
				jsonLogs = cfg.Log.JSON
			}
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON (defaults to log.json from config)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ReqCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
	rootCmd.AddCommand(commands.WatchCmd)

	for _, c := range rootCmd.Commands() {
		if glyph, ok := sym.CommandToSymbol[c.Name()]; ok {
			c.Aliases = append(c.Aliases, glyph)
		}
	}
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
