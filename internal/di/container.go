// Package di wires cc-gateway's services together with samber/do v2.
//
// Every service is a lazy singleton. Resolving one builds its dependencies
// first, and shutdown runs dependents before their dependencies, so the HTTP
// server stops before the quota checker flushes and the store closes last.
package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"
)

// ConfigPathKey names the config file path value in the injector.
const ConfigPathKey = "config.path"

// Container is the gateway's root scope.
type Container struct {
	root *do.RootScope
}

// NewContainer registers every service and loads configPath right away, so a
// bad file fails here instead of on first use.
func NewContainer(configPath string) (*Container, error) {
	root := do.New()
	do.ProvideNamedValue(root, ConfigPathKey, configPath)
	RegisterSingletons(root)

	c := &Container{root: root}
	if _, err := do.Invoke[*ConfigService](root); err != nil {
		_ = c.Shutdown()
		return nil, err
	}
	return c, nil
}

// Invoke resolves a service.
func Invoke[T any](c *Container) (T, error) {
	return do.Invoke[T](c.root)
}

// MustInvoke resolves a service or panics. Startup only.
func MustInvoke[T any](c *Container) T {
	return do.MustInvoke[T](c.root)
}

// InvokeNamed resolves a named value.
func InvokeNamed[T any](c *Container, name string) (T, error) {
	return do.InvokeNamed[T](c.root, name)
}

func reportErr(report *do.ShutdownReport) error {
	if report == nil || report.Succeed {
		return nil
	}
	return fmt.Errorf("di: shutdown: %s", report.Error())
}

// Shutdown stops every built service.
func (c *Container) Shutdown() error {
	return reportErr(c.root.Shutdown())
}

// ShutdownWithContext stops every built service, giving up when ctx ends.
func (c *Container) ShutdownWithContext(ctx context.Context) error {
	reports := make(chan *do.ShutdownReport, 1)
	go func() { reports <- c.root.ShutdownWithContext(ctx) }()

	select {
	case report := <-reports:
		return reportErr(report)
	case <-ctx.Done():
		return fmt.Errorf("di: shutdown: %w", ctx.Err())
	}
}

// HealthCheck builds config, storage and quota so misconfiguration surfaces
// before the listener opens.
func (c *Container) HealthCheck() error {
	checks := []struct {
		name    string
		resolve func() error
	}{
		{"config", func() error { _, err := do.Invoke[*ConfigService](c.root); return err }},
		{"storage", func() error { _, err := do.Invoke[*StorageService](c.root); return err }},
		{"quota", func() error { _, err := do.Invoke[*QuotaService](c.root); return err }},
	}
	for _, check := range checks {
		if err := check.resolve(); err != nil {
			return fmt.Errorf("%s service unhealthy: %w", check.name, err)
		}
	}
	return nil
}
