package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/omarluq/cc-gateway/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting the server.
Checks syntax, required fields and value ranges.`,
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default config file",
	Long:  `Generate a default configuration file at ~/.config/cc-gateway/config.yaml`,
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().StringP("output", "o", "", "output path (default: ~/.config/cc-gateway/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")

	configCmd.AddCommand(configValidateCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	path := configPath()
	if _, err := config.LoadAndValidate(path); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ Config validation failed: %s\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", path)
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	if output == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		output = filepath.Join(home, ".config", appName, defaultConfigFile)
	}
	if err := writeDefaultConfig(output, force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Config file created at %s\n", output)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set ANTHROPIC_API_KEY and CC_GATEWAY_ADMIN_TOKEN")
	fmt.Fprintln(out, "  2. Validate with: cc-gateway config validate")
	fmt.Fprintln(out, "  3. Issue a key: cc-gateway keys create my-laptop")
	fmt.Fprintln(out, "  4. Start the gateway: cc-gateway serve")
	return nil
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

const defaultConfigTemplate = `# cc-gateway configuration
server:
  listen: "127.0.0.1:8787"
  admin_token: ${CC_GATEWAY_ADMIN_TOKEN}
  max_concurrent: 0      # 0 = unlimited
  max_body_bytes: 10485760

upstream:
  name: anthropic
  base_url: https://api.anthropic.com
  api_key: ${ANTHROPIC_API_KEY}

quota:
  strategy: cached       # cached or direct
  default_limit: 1000000 # tokens per window unless the key sets its own
  window: 5h
  flush_interval: 5s
  requests_per_minute: 0
  reserve_max_tokens: false
  clamp_max_tokens: false
  retry:
    max_attempts: 5
    initial_interval: 500ms
    max_interval: 30s

storage:
  driver: sqlite
  path: cc-gateway.db
  retention_schedule: "17 * * * *"

cache:
  mode: single
  ttl: 1m

logging:
  level: info
  format: console

metrics:
  enabled: true
  path: /metrics
`
