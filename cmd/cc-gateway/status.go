package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/omarluq/cc-gateway/internal/config"
	"github.com/omarluq/cc-gateway/internal/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if cc-gateway server is running",
	Long: `Check the health of a running cc-gateway server by querying its /health
endpoint and print the state of each dependency.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	return checkStatus(cmd.Context(), cmd.OutOrStdout(), healthURL(cfg.Server.GetListen()))
}

// healthURL turns a listen address into a dialable /health URL. Wildcard
// hosts are probed on loopback.
func healthURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/health"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func checkStatus(ctx context.Context, out io.Writer, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(out, "✗ %s is not running (%s)\n", appName, url)
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("decode health report: %w", err)
	}

	mark := lo.Ternary(resp.StatusCode == http.StatusOK, "✓", "✗")
	fmt.Fprintf(out, "%s %s is running (%s): %s\n", mark, appName, url, report.Status)

	names := lo.Keys(report.Components)
	slices.Sort(names)
	for _, name := range names {
		c := report.Components[name]
		line := fmt.Sprintf("  %-10s %-9s circuit=%s", name, c.Status, c.Circuit)
		if c.Error != "" {
			line += " error=" + c.Error
		}
		fmt.Fprintln(out, line)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}
