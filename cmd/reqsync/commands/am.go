package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage reqsync configuration",
	Long: sym.AM + ` am — Manage reqsync configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/reqsync/reqsync.toml)
3. User config (~/.reqsync/reqsync.toml)
4. Project config (reqsync.toml, searched up from the working directory)
5. Environment variables (REQSYNC_* prefix, e.g. REQSYNC_SERVER_PORT)

Examples:
  reqsync am show                          # Show current configuration
  reqsync am show --format json
  reqsync am get server.port
  reqsync am set server.max_clients 50     # Writes ~/.reqsync/reqsync.toml
  reqsync am where                         # Which source set each key`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in the user config file",
	Long: `Write one value to ~/.reqsync/reqsync.toml. The previous file is kept as
.back1 (up to three rotations). A running server picks up reloadable keys
(allowed origins, client limits, rate limits) without a restart.`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting comes from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	loaded, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	cfg := *loaded
	if cfg.Database.DSN != "" {
		cfg.Database.DSN = "********"
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Printf("# reqsync configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Printf("# reqsync configuration\n%s", string(data))

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	for _, s := range am.Settings() {
		if s.Key == key {
			fmt.Println(s.Value)
			return nil
		}
	}
	return errors.Newf("configuration key %q not found", key)
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]
	if err := am.Set(key, raw); err != nil {
		return errors.Wrapf(err, "failed to set %s", key)
	}

	// Surface invalid values now rather than at the next server start
	am.Reset()
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to reload config")
	}
	if err := cfg.Validate(); err != nil {
		pterm.Warning.Printf("%s was written but the configuration is now invalid: %v\n", key, err)
		return nil
	}
	pterm.Success.Printf("%s Set %s = %s in %s\n", sym.AM, key, raw, am.UserConfigPath())
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	data := pterm.TableData{{"Key", "Value", "Source", "From"}}
	for _, s := range am.Settings() {
		data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
