package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/di"
	"github.com/omarluq/cc-gateway/internal/proxy"
	"github.com/omarluq/cc-gateway/internal/quota"
	"github.com/omarluq/cc-gateway/internal/storage"
)

var usageCmd = &cobra.Command{
	Use:   "usage <key-id>",
	Short: "Show a key's current quota standing",
	Long: `Evaluate a key's quota directly from storage, the way the gateway's cold
path does. Usage a running server has not flushed yet is not included.`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(usageCmd)
}

// usageReport is the JSON shape printed by usage --json.
type usageReport struct {
	KeyID     string `json:"key_id"`
	Name      string `json:"name"`
	quota.Result
	Remaining int64 `json:"tokens_remaining"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	container, err := di.NewContainer(configPath())
	if err != nil {
		return err
	}
	defer func() { _ = container.Shutdown() }()

	cfg := di.MustInvoke[*di.ConfigService](container).Get()
	svc, err := di.Invoke[*di.StorageService](container)
	if err != nil {
		return err
	}

	report, err := keyUsage(cmd.Context(), svc.Store, &cfg.Quota, args[0], time.Now())
	if err != nil {
		return err
	}
	return printUsage(cmd.OutOrStdout(), report, asJSON)
}

type usageStore interface {
	storage.KeyStore
	quota.WindowSource
}

func keyUsage(ctx context.Context, store usageStore, cfg *config.QuotaConfig, id string, now time.Time) (usageReport, error) {
	rec, err := store.GetKey(ctx, id)
	if err != nil {
		return usageReport{}, fmt.Errorf("key %s: %w", id, err)
	}
	windows, err := store.LoadWindows(ctx, rec.ID)
	if err != nil {
		return usageReport{}, fmt.Errorf("load windows: %w", err)
	}
	res, err := quota.ColdCheck(rec.ID, windows, proxy.QuotaFor(rec, cfg), now, 0)
	if err != nil {
		return usageReport{}, err
	}
	return usageReport{KeyID: rec.ID, Name: rec.Name, Result: res, Remaining: res.Remaining()}, nil
}

func printUsage(out io.Writer, r usageReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(out, "Key:       %s (%s)\n", r.KeyID, r.Name)
	fmt.Fprintf(out, "Used:      %d / %d tokens\n", r.TokensUsed, r.TokensLimit)
	fmt.Fprintf(out, "Remaining: %d\n", r.Remaining)
	fmt.Fprintf(out, "Window:    %s - %s\n", r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339))
	if !r.Allowed {
		fmt.Fprintf(out, "Status:    denied (%s), retry in %ds\n", r.Reason, r.RetryAfterSeconds)
	}
	return nil
}
