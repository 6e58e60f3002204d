// Package main is the entry point for cc-gateway.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	appName           = "cc-gateway"
	defaultConfigFile = "config.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Token quota gateway for the Anthropic Messages API",
	Long: `cc-gateway sits between Claude Code clients and the Anthropic API. It issues
its own API keys, enforces a per-key token quota over rolling hour-aligned
windows, and forwards admitted requests upstream with the real credential.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/"+appName+"/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
