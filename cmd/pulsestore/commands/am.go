package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pulsestore/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage pulsestore configuration",
	Long: `am: Manage pulsestore configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (PULSESTORE_* prefix)
2. Project config (nearest ./am.toml)
3. User config (~/.pulsestore/am.toml)
4. System config (/etc/pulsestore/am.toml)
5. Default values

Examples:
  pulsestore am show                         # Show effective configuration
  pulsestore am show --format yaml           # ... as YAML
  pulsestore am show --sources               # Show where each value came from
  pulsestore am get store.timezone_mode      # Get a single value
  pulsestore am set retention.max_age_seconds 86400`,
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
	Long:  "Write a value (dot notation) to ~/.pulsestore/am.toml, keeping three backups. Invalid values are rejected.",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which config files exist",
	RunE:  runAmWhere,
}

var (
	configFormat string
	showSources  bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&showSources, "sources", false, "Show the source of every setting")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if showSources {
		data := pterm.TableData{{"Key", "Value", "Source", "From"}}
		for _, s := range am.GetConfigIntrospection().Settings {
			data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	settings := am.GetViper().AllSettings()
	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# pulsestore configuration\n%s", data)
	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Fprintf(out, "# pulsestore configuration\n%s", data)
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return fmt.Errorf("configuration key %q not found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(args[0]))
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]
	if !am.GetViper().IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}

	path := am.UserConfigPath()
	if err := am.SetValue(path, key, am.ParseValue(raw)); err != nil {
		return err
	}
	am.Reset()

	pterm.Success.Printf("Set %s = %s in %s\n", key, raw, path)
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	wd, _ := os.Getwd()
	candidates := []struct{ label, path string }{
		{"system", filepath.Join("/etc/pulsestore", am.ConfigFileName)},
		{"user", am.UserConfigPath()},
		{"project", filepath.Join(wd, am.ConfigFileName)},
	}

	data := pterm.TableData{{"Source", "Path", "Exists"}}
	for _, c := range candidates {
		exists := "no"
		if _, err := os.Stat(c.path); err == nil {
			exists = "yes"
		}
		data = append(data, []string{c.label, c.path, exists})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
