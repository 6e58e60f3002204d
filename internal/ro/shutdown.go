// Package ro holds the reactive plumbing cc-gateway builds on samber/ro:
// turning OS signals into an Observable for serve, and running the ordered
// shutdown steps once one arrives.
package ro

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/ro"
)

// ShutdownSignals are the OS signals that trigger graceful shutdown.
var ShutdownSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

// GracefulShutdown emits the first shutdown signal received, then completes.
func GracefulShutdown() ro.Observable[os.Signal] {
	return GracefulShutdownWithSignals(ShutdownSignals...)
}

// GracefulShutdownWithSignals emits the first of signals received, then
// completes. Signals are captured from the moment this returns, so a signal
// arriving before subscription is not lost. The subscription context ending
// first is reported as an error.
func GracefulShutdownWithSignals(signals ...os.Signal) ro.Observable[os.Signal] {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	return ro.NewObservableWithContext(func(ctx context.Context, observer ro.Observer[os.Signal]) ro.Teardown {
		go func() {
			select {
			case sig := <-ch:
				observer.NextWithContext(ctx, sig)
				observer.CompleteWithContext(ctx)
			case <-ctx.Done():
				observer.ErrorWithContext(ctx, ctx.Err())
			}
		}()
		return func() { signal.Stop(ch) }
	})
}

// WaitForShutdown blocks until a shutdown signal arrives or ctx ends.
func WaitForShutdown(ctx context.Context) (os.Signal, error) {
	return Wait(ctx, GracefulShutdown())
}

// Wait blocks until shutdown emits or ctx ends.
func Wait(ctx context.Context, shutdown ro.Observable[os.Signal]) (os.Signal, error) {
	results, _, err := ro.CollectWithContext(ctx, shutdown)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ctx.Err()
	}
	return results[0], nil
}

// Step is one named stage of a shutdown sequence.
type Step struct {
	Run  func(ctx context.Context) error
	Name string
}

// Drain runs steps in order under a shared timeout. Every step runs even if an
// earlier one fails; the failures are joined.
func Drain(ctx context.Context, timeout time.Duration, steps ...Step) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	for _, step := range steps {
		if step.Run == nil {
			continue
		}
		if err := step.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
