// Package commands implements the layerctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/logger"
)

// Options replaces the registry resolver and container engine, mainly for
// tests. Zero values select the real implementations.
type Options struct {
	Inspector builds.Inspector
	Engine    builds.Engine
}

// cli holds what every command shares.
type cli struct {
	opts Options

	logLevel         string
	insecureRegistry bool
	engineName       string

	log       *slog.Logger
	logConfig logger.Config

	engineOnce sync.Once
	engine     builds.Engine
	engineErr  error
}

// NewRootCommand builds the layerctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	c := &cli{opts: opts}
	root := &cobra.Command{
		Use:   "layerctl",
		Short: "Plan, check and build layered container images",
		Long: `layerctl compiles build definitions into a fixed four-step layer plan
(escalate, OS packages, runtime packages, de-escalate), renders them to
Dockerfiles and builds them with docker or podman.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().BoolVar(&c.insecureRegistry, "insecure-registry", false, "allow plain HTTP registries")
	root.PersistentFlags().StringVar(&c.engineName, "engine", "docker", "preferred container engine (docker or podman)")

	root.AddCommand(
		c.planCommand(),
		c.renderCommand(),
		c.lintCommand(),
		c.importCommand(),
		c.scanCommand(),
		c.inspectCommand(),
		c.buildCommand(),
	)
	return root
}

// setup creates the logger and, unless injected, the registry resolver.
// Logs are text on a terminal and JSON otherwise.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg := logger.NewConfig()
	cfg.Output = cmd.ErrOrStderr()
	if f, ok := cfg.Output.(*os.File); ok {
		cfg.Text = term.IsTerminal(int(f.Fd()))
	}
	if c.logLevel != "" {
		if err := cfg.DefaultLevel.UnmarshalText([]byte(c.logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}
	c.logConfig = cfg
	c.log = logger.NewSubsystemLogger(logger.SubsystemCLI, cfg, nil)
	cmd.SetContext(logger.AddToContext(cmd.Context(), c.log))

	if c.opts.Inspector == nil {
		resolver, err := images.NewResolver(images.ResolverOptions{
			Insecure: c.insecureRegistry,
			Logger:   logger.NewSubsystemLogger(logger.SubsystemImages, cfg, nil),
		})
		if err != nil {
			return err
		}
		c.opts.Inspector = resolver
	}
	return nil
}

// containerEngine finds a usable engine on first use.
func (c *cli) containerEngine(ctx context.Context) (builds.Engine, error) {
	c.engineOnce.Do(func() {
		if c.opts.Engine != nil {
			c.engine = c.opts.Engine
			return
		}
		preferred, err := builds.ParseEngineType(c.engineName)
		if err != nil {
			c.engineErr = err
			return
		}
		c.engine, c.engineErr = builds.NewEngine(ctx, preferred)
	})
	return c.engine, c.engineErr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
