package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/omarluq/cc-gateway/internal/di"
	"github.com/omarluq/cc-gateway/internal/storage"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage gateway API keys",
	Long: `Create, list and disable the API keys clients present to the gateway.
Changes to a running server take effect once its key cache entry expires
(cache.ttl), or immediately through the /admin/keys endpoints.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Issue a new API key",
	Long:  `Issue a new API key. The secret is printed once and never stored.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysCreate,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued API keys",
	Args:  cobra.NoArgs,
	RunE:  runKeysList,
}

var keysDisableCmd = &cobra.Command{
	Use:   "disable <key-id>",
	Short: "Reject further requests made with a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysSetEnabled(false),
}

var keysEnableCmd = &cobra.Command{
	Use:   "enable <key-id>",
	Short: "Accept requests made with a previously disabled key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysSetEnabled(true),
}

func init() {
	keysCreateCmd.Flags().Int64("limit", 0, "token limit per window (default: quota.default_limit)")
	keysCreateCmd.Flags().Duration("window", 0, "window length (default: quota.window)")
	keysListCmd.Flags().Bool("json", false, "print keys as JSON")

	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysDisableCmd, keysEnableCmd)
	rootCmd.AddCommand(keysCmd)
}

// withStore opens the configured store for the duration of fn.
func withStore(fn func(store storage.Store) error) error {
	container, err := di.NewContainer(configPath())
	if err != nil {
		return err
	}
	defer func() { _ = container.Shutdown() }()

	svc, err := di.Invoke[*di.StorageService](container)
	if err != nil {
		return err
	}
	return fn(svc.Store)
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	limit, err := cmd.Flags().GetInt64("limit")
	if err != nil {
		return err
	}
	window, err := cmd.Flags().GetDuration("window")
	if err != nil {
		return err
	}
	return withStore(func(store storage.Store) error {
		return createKey(cmd.Context(), store, cmd.OutOrStdout(), args[0], limit, window)
	})
}

func runKeysList(cmd *cobra.Command, _ []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	return withStore(func(store storage.Store) error {
		return listKeys(cmd.Context(), store, cmd.OutOrStdout(), asJSON)
	})
}

func runKeysSetEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withStore(func(store storage.Store) error {
			return setKeyEnabled(cmd.Context(), store, cmd.OutOrStdout(), args[0], enabled)
		})
	}
}

func createKey(ctx context.Context, store storage.KeyStore, out io.Writer, name string, limit int64, window time.Duration) error {
	if limit < 0 {
		return fmt.Errorf("--limit must be >= 0, got %d", limit)
	}
	if window < 0 {
		return fmt.Errorf("--window must be >= 0, got %s", window)
	}

	rec, secret := storage.NewKey(name, limit, window, time.Now())
	if err := store.CreateKey(ctx, rec); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	fmt.Fprintf(out, "✓ Created key %s (%s)\n", rec.ID, rec.Name)
	fmt.Fprintf(out, "\n  %s\n\n", secret)
	fmt.Fprintln(out, "Store this secret now, it cannot be shown again.")
	return nil
}

func listKeys(ctx context.Context, store storage.KeyStore, out io.Writer, asJSON bool) error {
	keys, err := store.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "no keys issued")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tLIMIT\tWINDOW\tENABLED\tCREATED")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			k.ID, k.Name, k.Prefix,
			lo.Ternary(k.TokenLimit > 0, fmt.Sprint(k.TokenLimit), "default"),
			lo.Ternary(k.WindowDuration > 0, k.WindowDuration.String(), "default"),
			k.Enabled, k.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func setKeyEnabled(ctx context.Context, store storage.KeyStore, out io.Writer, id string, enabled bool) error {
	if err := store.SetKeyEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("update key %s: %w", id, err)
	}
	fmt.Fprintf(out, "✓ Key %s %s\n", id, lo.Ternary(enabled, "enabled", "disabled"))
	return nil
}
