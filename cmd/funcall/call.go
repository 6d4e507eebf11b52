package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oriys/funcall/internal/caller"
	"github.com/oriys/funcall/internal/config"
	"github.com/oriys/funcall/internal/executor"
	"github.com/oriys/funcall/internal/logging"
	"github.com/oriys/funcall/internal/protocol"
	"github.com/oriys/funcall/internal/transport"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <function> [key=value...]",
		Short: "Call a remote function and print its output",
		Long: `Call a remote function once. Each value is read as JSON when it parses,
and as a string otherwise: a=2 passes the number 2, name=bob the string "bob".
With the memory transport an in-process executor serves the demo functions.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			kwargs, err := parseKwargs(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			shutdownTracing, err := initAmbient(ctx, cfg, "caller")
			if err != nil {
				return err
			}
			defer shutdownTracing()

			return runCall(ctx, cfg, args[0], kwargs, timeout, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the response")

	return cmd
}

// runCall issues one call and writes its output to w.
func runCall(ctx context.Context, cfg *config.Config, name string, kwargs map[string]any, timeout time.Duration, w io.Writer) error {
	var broker *transport.Broker
	if cfg.Transport.Kind == config.TransportMemory {
		broker = transport.NewBroker()
		tr, _, _ := newTransport(cfg, broker)
		local := executor.New(tr,
			executor.WithRegistry(demoRegistry()),
			executor.WithLogger(logging.NewLogger(nil)),
			executor.WithTickInterval(cfg.Endpoint.TickInterval.Std()),
		)
		if err := local.Start(ctx); err != nil {
			return err
		}
		defer local.Shutdown(time.Second)
	}

	tr, release, err := newTransport(cfg, broker)
	if err != nil {
		return err
	}
	defer release()

	c := caller.New(tr, caller.WithTickInterval(cfg.Endpoint.TickInterval.Std()))
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	p, err := c.Call(name, kwargs)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := p.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no response for %s (task %s) within %s", name, p.TaskID(), timeout)
	}
	if err != nil {
		return err
	}
	return writeOutput(w, out)
}

func writeOutput(w io.Writer, out protocol.Output) error {
	var s string
	if err := json.Unmarshal(out.Raw(), &s); err == nil {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	_, err := fmt.Fprintln(w, out.String())
	return err
}

// parseKwargs reads key=value pairs. Values that parse as JSON are passed
// as such, anything else as a string.
func parseKwargs(pairs []string) (map[string]any, error) {
	kwargs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: want key=value", pair)
		}
		if _, dup := kwargs[key]; dup {
			return nil, fmt.Errorf("argument %q given twice", key)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		kwargs[key] = v
	}
	return kwargs, nil
}
