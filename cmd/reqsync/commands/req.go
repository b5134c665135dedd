package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/client"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/requisition"
	"github.com/teranos/reqsync/requisition/seed"
	"github.com/teranos/reqsync/sym"
)

// ReqCmd groups the requisition commands. They all talk to a running server.
var ReqCmd = &cobra.Command{
	Use:     "req",
	Aliases: []string{"requisition"},
	Short:   sym.Req + " List, create, edit and work requisitions",
	Long: sym.Req + ` req — List, create, edit and work requisitions

Every command goes through the running server, so other recruiters see the
change immediately. Your name is taken from --as or REQSYNC_RECRUITER.

Examples:
  reqsync req list
  reqsync req create --title "Backend Engineer" --client Acme --slots 2
  reqsync req edit REQ-1 --title "Platform Engineer"
  reqsync req work REQ-1 --as Dana      # Start working REQ-1 (again to stop)
  reqsync req import reqs.yaml          # Create or update from a YAML file
  reqsync req export > reqs.yaml`,
}

var (
	reqServerURL string
	reqJSON      bool
	reqAs        string
	reqTimeout   time.Duration
)

var reqListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List requisitions",
	Args:    cobra.NoArgs,
	RunE:    runReqList,
}

var reqGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one requisition",
	Args:  cobra.ExactArgs(1),
	RunE:  runReqGet,
}

var reqCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a requisition",
	Long: `Create a requisition. Without --id a readable id is generated from the
client and title.`,
	Args: cobra.NoArgs,
	RunE: runReqCreate,
}

var reqEditCmd = &cobra.Command{
	Use:     "edit <id>",
	Aliases: []string{"patch"},
	Short:   "Change fields of a requisition",
	Long: `Change only the fields given. Slots and status cannot change while a
recruiter is working the requisition.`,
	Args: cobra.ExactArgs(1),
	RunE: runReqEdit,
}

var reqDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a requisition",
	Args:    cobra.ExactArgs(1),
	RunE:    runReqDelete,
}

var reqWorkCmd = &cobra.Command{
	Use:   "work <id>",
	Short: sym.Work + " Start or stop working a requisition",
	Long: `Toggle whether you are working the requisition. Starting work on one
requisition stops work on any other you were working.`,
	Args: cobra.ExactArgs(1),
	RunE: runReqWork,
}

var reqEditingCmd = &cobra.Command{
	Use:   "editing <id> [field]",
	Short: sym.Presence + " Show others that you are editing a field",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runReqEditing,
}

var reqImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update requisitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runReqImport,
}

var reqExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write every requisition to YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReqExport,
}

var (
	createID     string
	createTitle  string
	createClient string
	createSlots  int
	createStatus string

	editTitle  string
	editClient string
	editSlots  int
	editStatus string

	editingClear bool
	importDryRun bool
)

func init() {
	ReqCmd.PersistentFlags().StringVar(&reqServerURL, "server", "", "Server URL (default http://localhost:<server.port>)")
	ReqCmd.PersistentFlags().BoolVarP(&reqJSON, "json", "j", false, "Output JSON")
	ReqCmd.PersistentFlags().StringVar(&reqAs, "as", os.Getenv("REQSYNC_RECRUITER"), "Recruiter name")
	ReqCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", client.DefaultTimeout, "Timeout for each server call")

	reqCreateCmd.Flags().StringVar(&createID, "id", "", "Requisition id (generated when empty)")
	reqCreateCmd.Flags().StringVar(&createTitle, "title", "", "Job title")
	reqCreateCmd.Flags().StringVar(&createClient, "client", "", "Client company")
	reqCreateCmd.Flags().IntVar(&createSlots, "slots", 1, "Number of open positions")
	reqCreateCmd.Flags().StringVar(&createStatus, "status", "", "Status (Open, Closed, OnHold, Filled, Cancelled)")

	reqEditCmd.Flags().StringVar(&editTitle, "title", "", "New job title")
	reqEditCmd.Flags().StringVar(&editClient, "client", "", "New client company")
	reqEditCmd.Flags().IntVar(&editSlots, "slots", 0, "New number of open positions")
	reqEditCmd.Flags().StringVar(&editStatus, "status", "", "New status")

	reqEditingCmd.Flags().BoolVar(&editingClear, "clear", false, "Clear the editing marker")
	reqImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would change without changing it")

	ReqCmd.AddCommand(reqListCmd, reqGetCmd, reqCreateCmd, reqEditCmd, reqDeleteCmd,
		reqWorkCmd, reqEditingCmd, reqImportCmd, reqExportCmd)
}

// serverURL resolves --server, falling back to the configured local server
func serverURL(flag string) string {
	if flag != "" {
		return flag
	}
	port := am.DefaultServerPort
	host := "localhost"
	if cfg, err := am.Load(); err == nil {
		port = cfg.Server.Port
		if b := cfg.Server.BindAddress; b != "" && b != "0.0.0.0" && b != "::" {
			host = b
		}
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(port))
}

func newAPIClient() (*client.Client, error) {
	return client.New(serverURL(reqServerURL), reqTimeout)
}

func recruiterName() (string, error) {
	name, err := requisition.NormalizeRecruiter(reqAs)
	if err != nil {
		return "", errors.WithHint(err, "pass --as <name> or set REQSYNC_RECRUITER")
	}
	return name, nil
}

// withTimeout bounds a command that makes several calls
func withTimeout(parent context.Context, calls int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, time.Duration(calls)*reqTimeout)
}

func runReqList(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	records, err := c.List(cmd.Context())
	if err != nil {
		return err
	}
	if reqJSON {
		return printJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		pterm.Info.Println("No requisitions yet. Create one with `reqsync req create`.")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(recordTable(records, nil)).Render()
}

func runReqGet(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	rec, err := c.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if reqJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	printRecord(cmd.OutOrStdout(), rec)
	return nil
}

func runReqCreate(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	fields := requisition.Fields{Title: createTitle, Client: createClient, Slots: createSlots}
	if createStatus != "" {
		if fields.Status, err = requisition.ParseStatus(createStatus); err != nil {
			return err
		}
	}

	ctx, cancel := withTimeout(cmd.Context(), 2)
	defer cancel()

	id := createID
	if id == "" {
		existing := map[string]bool{}
		records, err := c.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			existing[rec.ID] = true
		}
		id, err = requisition.GenerateID(createClient, createTitle, func(candidate string) bool {
			return existing[candidate]
		})
		if err != nil {
			return err
		}
	}

	rec, err := c.Create(ctx, id, fields)
	if err != nil {
		return err
	}
	if reqJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	pterm.Success.Printf("%s Created %s\n", sym.Created, rec.ID)
	return nil
}

func runReqEdit(cmd *cobra.Command, args []string) error {
	var patch requisition.Patch
	flags := cmd.Flags()
	if flags.Changed("title") {
		patch.Title = &editTitle
	}
	if flags.Changed("client") {
		patch.Client = &editClient
	}
	if flags.Changed("slots") {
		patch.Slots = &editSlots
	}
	if flags.Changed("status") {
		st, err := requisition.ParseStatus(editStatus)
		if err != nil {
			return err
		}
		patch.Status = &st
	}
	if patch.Empty() {
		return errors.WithHint(errors.NewInvalidRequestError("nothing to change"),
			"pass at least one of --title, --client, --slots, --status")
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}
	rec, err := c.Patch(cmd.Context(), args[0], patch)
	if err != nil {
		return err
	}
	if reqJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	pterm.Success.Printf("%s Updated %s (version %d)\n", sym.Patched, rec.ID, rec.Version)
	return nil
}

func runReqDelete(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	id, err := c.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	pterm.Success.Printf("%s Deleted %s\n", sym.Deleted, id)
	return nil
}

func runReqWork(cmd *cobra.Command, args []string) error {
	name, err := recruiterName()
	if err != nil {
		return err
	}
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	res, err := c.ToggleWorking(cmd.Context(), name, args[0])
	if err != nil {
		return err
	}
	if reqJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	if !res.Working {
		pterm.Info.Printf("%s %s stopped working %s\n", sym.Work, name, res.Record.ID)
		return nil
	}
	if res.Released != nil {
		pterm.Info.Printf("%s %s stopped working %s\n", sym.Work, name, res.Released.ID)
	}
	pterm.Success.Printf("%s %s is working %s (%s)\n", sym.Work, name, res.Record.ID,
		strings.Join(res.Record.AssignedRecruiters, ", "))
	return nil
}

func runReqEditing(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	if editingClear {
		return c.ClearEditing(cmd.Context(), args[0])
	}
	if len(args) < 2 {
		return errors.NewInvalidRequestError("field is required unless --clear is given")
	}
	name, err := recruiterName()
	if err != nil {
		return err
	}
	return c.SetEditing(cmd.Context(), args[0], args[1], name)
}

func runReqImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "open %s", args[0])
	}
	defer f.Close()

	entries, err := seed.Read(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", args[0])
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}
	current, err := c.List(cmd.Context())
	if err != nil {
		return err
	}
	actions := seed.Plan(current, entries)
	if len(actions) == 0 {
		pterm.Info.Printf("%d requisitions already up to date\n", len(entries))
		return nil
	}

	var created, patched, failed int
	for _, action := range actions {
		verb := "update"
		if action.Create != nil {
			verb = "create"
		}
		if importDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "would %s %s\n", verb, action.ID)
			continue
		}

		ctx, cancel := withTimeout(cmd.Context(), 1)
		if action.Create != nil {
			_, err = c.Create(ctx, action.ID, *action.Create)
		} else {
			_, err = c.Patch(ctx, action.ID, *action.Patch)
		}
		cancel()

		switch {
		case err == nil && action.Create != nil:
			created++
		case err == nil:
			patched++
		default:
			failed++
			msg := err.Error()
			if hint := errors.Hint(err); hint != "" {
				msg += " (" + hint + ")"
			}
			pterm.Warning.Printf("%s: could not %s: %s\n", action.ID, verb, msg)
		}
	}

	if importDryRun {
		return nil
	}
	pterm.Success.Printf("%s Imported %s: %d created, %d updated, %d failed\n", sym.Req, args[0], created, patched, failed)
	if failed > 0 {
		return errors.Newf("%d of %d changes failed", failed, len(actions))
	}
	return nil
}

func runReqExport(cmd *cobra.Command, args []string) error {
	c, err := newAPIClient()
	if err != nil {
		return err
	}
	records, err := c.List(cmd.Context())
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return errors.Wrapf(err, "create %s", args[0])
		}
		defer f.Close()
		w = f
	}
	if err := seed.Write(w, records); err != nil {
		return err
	}
	if len(args) == 1 {
		pterm.Success.Printf("%s Exported %d requisitions to %s\n", sym.Req, len(records), args[0])
	}
	return nil
}
