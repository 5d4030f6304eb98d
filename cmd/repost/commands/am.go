package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage repost configuration",
	Long: sym.AM + ` am: manage repost configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (REPOST_* prefix, e.g. REPOST_CAPTCHA_API_KEY)
3. Project config (./am.toml, searched upwards)
4. User config (~/.repost/am.toml)
5. System config (/etc/repost/config.toml)
6. Default values

Examples:
  repost am show                    # Show current configuration
  repost am show --format json      # Show configuration in JSON format
  repost am validate                # Validate current configuration
  repost am init                    # Write ./am.toml with every default`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets masked)",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter am.toml holding every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "am.toml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := am.WriteDefault(path); err != nil {
			return err
		}
		abs, _ := filepath.Abs(path)
		fmt.Printf("%s Wrote %s\n", sym.AM, abs)
		return nil
	},
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	out, err := renderConfig(cfg.Redacted(), configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// renderConfig marshals a configuration in the requested format
func renderConfig(c am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# repost configuration\n" + string(data), nil

	case "toml":
		data, err := toml.Marshal(c)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# repost configuration\n" + string(data), nil

	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}
