package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the reqsync database",
	Long: sym.DB + ` db — Manage the reqsync database

Apply migrations and inspect what is stored. These commands open the
database directly; run them against SQLite only while the server is stopped.

Examples:
  reqsync db migrate                 # Apply pending migrations
  reqsync db stats                   # Requisitions per status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show requisition counts per status",
	RunE:  runDbStats,
}

var dbPathFlag string

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "SQLite database path (overrides database.path)")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	// openStore migrates on open
	conn, _, err := openStore(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer conn.Close()

	pterm.Success.Printf("%s Database is up to date (%s)\n", sym.DB, describeDatabase(cfg.Database, dbPathFlag))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	conn, store, err := openStore(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer conn.Close()

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to count requisitions")
	}

	byStatus := make(map[requisition.Status][2]int, len(counts))
	total, worked := 0, 0
	for _, c := range counts {
		byStatus[c.Status] = [2]int{c.Count, c.Worked}
		total += c.Count
		worked += c.Worked
	}

	fmt.Printf("%s Database: %s\n\n", sym.DB, describeDatabase(cfg.Database, dbPathFlag))

	data := pterm.TableData{{"Status", "Requisitions", "Being worked"}}
	for _, st := range requisition.Statuses {
		n := byStatus[st]
		data = append(data, []string{string(st), fmt.Sprint(n[0]), fmt.Sprint(n[1])})
	}
	data = append(data, []string{"Total", fmt.Sprint(total), fmt.Sprint(worked)})

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
