package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/definitions"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/logger"
	"github.com/onkernel/layerbuild/lib/paths"
)

func (c *cli) inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <image>",
		Short: "Pin an image to its digest and show its accounts and package manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := images.ParseNormalizedRef(args[0])
			if err != nil {
				return err
			}
			info, err := c.opts.Inspector.Inspect(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				*images.BaseImageInfo
				PackageManager images.PackageManager `json:"package_manager,omitempty"`
			}{info, info.PackageManager()})
		},
	}
}

type buildFlags struct {
	variants []string
	dataDir  string
	noCache  bool
	timeout  time.Duration
}

func (c *cli) buildCommand() *cobra.Command {
	var flags buildFlags
	cmd := &cobra.Command{
		Use:   "build <definition>",
		Short: "Build variants of a definition in parallel",
		Long: `Build runs one build per variant, all at once. A failing variant does not
stop the others; each failure is reported with its plan step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := definitions.Load(args[0])
			if err != nil {
				return err
			}
			recipes, err := selectRecipes(def, flags.variants)
			if err != nil {
				return err
			}
			for _, r := range recipes {
				if err := builds.ValidateRecipe(r); err != nil {
					return fmt.Errorf("variant %s: %w", r.Variant, err)
				}
			}
			return c.buildAll(cmd.Context(), cmd.OutOrStdout(), recipes, flags)
		},
	}
	cmd.Flags().StringSliceVar(&flags.variants, "variant", nil, "variants to build (default: all)")
	cmd.Flags().StringVar(&flags.dataDir, "data-dir", defaultDataDir(), "where build records and logs are kept")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "build without the engine's layer cache")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "per-build timeout")
	return cmd
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "layerctl")
	}
	return filepath.Join(dir, "layerctl")
}

// buildAll builds every recipe and reports each result. It fails when any
// build failed.
func (c *cli) buildAll(ctx context.Context, out io.Writer, recipes []definitions.Recipe, flags buildFlags) error {
	engine, err := c.containerEngine(ctx)
	if err != nil {
		return err
	}
	mgr, err := builds.NewManager(
		paths.New(flags.dataDir),
		builds.Config{MaxConcurrentBuilds: len(recipes), DefaultTimeout: flags.timeout},
		c.opts.Inspector,
		engine,
		logger.NewSubsystemLogger(logger.SubsystemBuilds, c.logConfig, nil),
		nil,
	)
	if err != nil {
		return err
	}

	results := make([]*builds.Build, len(recipes))
	var grp errgroup.Group
	for i, r := range recipes {
		grp.Go(func() error {
			req := builds.RequestFromRecipe(r)
			req.NoCache = flags.noCache

			// A failing sibling never cancels this variant.
			b, err := c.buildOne(context.WithoutCancel(ctx), ctx, mgr, req)
			if err != nil {
				return fmt.Errorf("variant %s: %w", r.Variant, err)
			}
			results[i] = b
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	failed := 0
	for i, b := range results {
		printResult(out, recipes[i].Variant, b)
		if b.Status != builds.StatusReady {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d builds failed", failed, len(results))
	}
	return nil
}

// buildOne queues a build and waits for it. Cancelling parent cancels the
// build instead of abandoning it.
func (c *cli) buildOne(ctx, parent context.Context, mgr builds.Manager, req builds.CreateBuildRequest) (*builds.Build, error) {
	b, err := mgr.CreateBuild(ctx, req)
	if err != nil {
		return nil, err
	}
	c.log.InfoContext(ctx, "build queued", "id", b.ID, "name", b.Name)

	stop := context.AfterFunc(parent, func() {
		if err := mgr.CancelBuild(context.Background(), b.ID); err != nil {
			c.log.Debug("cancel build", "id", b.ID, "error", err)
		}
	})
	defer stop()

	updates, err := mgr.Subscribe(ctx, b.ID)
	if err == nil {
		go func() {
			for u := range updates {
				if u.Step != nil {
					c.log.Debug("build progress", "id", b.ID, "status", u.Status, "step", *u.Step)
				}
			}
		}()
	}
	return mgr.Wait(ctx, b.ID)
}

func printResult(w io.Writer, variant string, b *builds.Build) {
	switch {
	case b.Status == builds.StatusReady:
		target := b.ImageID
		if b.Tag != "" {
			target = b.Tag + " (" + b.ImageID + ")"
		}
		fmt.Fprintf(w, "%s: ready %s\n", variant, target)
	case b.Error != nil:
		step := "-"
		if b.Error.Step != nil {
			step = fmt.Sprint(*b.Error.Step)
		}
		fmt.Fprintf(w, "%s: %s at step %s [%s] %s\n", variant, b.Status, step, b.Error.Code, firstLine(b.Error.Message))
		if b.Error.Output != "" {
			for _, line := range strings.Split(strings.TrimRight(b.Error.Output, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	default:
		fmt.Fprintf(w, "%s: %s\n", variant, b.Status)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
