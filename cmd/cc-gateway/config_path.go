package main

import (
	"os"
	"path/filepath"
)

// configPath returns --config, or the first config file found in the working
// directory or ~/.config/cc-gateway.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return findConfigInWithHome(".", home)
}

func findConfigIn(dir string) string {
	return findConfigInWithHome(dir, "")
}

// findConfigInWithHome looks in dir, then home/.config/cc-gateway. It returns
// defaultConfigFile when neither has one, leaving the load to report the error.
func findConfigInWithHome(dir, home string) string {
	candidates := []string{filepath.Join(dir, defaultConfigFile)}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", appName, defaultConfigFile))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return defaultConfigFile
}
