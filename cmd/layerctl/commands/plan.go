package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onkernel/layerbuild/lib/builds"
	"github.com/onkernel/layerbuild/lib/builds/templates"
	"github.com/onkernel/layerbuild/lib/definitions"
	"github.com/onkernel/layerbuild/lib/images"
	"github.com/onkernel/layerbuild/lib/layers"
)

type planFlags struct {
	variants []string
	offline  bool
	json     bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.variants, "variant", nil, "variants to use (default: all)")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "skip base image inspection; needs an explicit osPackageManager")
}

// planned is one compiled variant.
type planned struct {
	Variant    string        `json:"variant"`
	Base       string        `json:"base"`
	Steps      []layers.Step `json:"steps"`
	Summary    []string      `json:"summary"`
	FinalUser  string        `json:"final_user"`
	Dockerfile string        `json:"dockerfile,omitempty"`

	plan *layers.Plan
}

func (c *cli) planCommand() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "plan <definition>",
		Short: "Show the layer plan of each variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := c.planDefinition(cmd.Context(), args[0], flags)
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			for i, p := range results {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				printPlan(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.json, "json", false, "print plans as JSON")
	return cmd
}

func printPlan(w io.Writer, p planned) {
	fmt.Fprintf(w, "%s: %s\n", p.Variant, p.Base)
	for i, s := range p.Summary {
		fmt.Fprintf(w, "  %d  %s\n", i+1, s)
	}
	fmt.Fprintf(w, "  runs as %s\n", p.FinalUser)
}

// planDefinition compiles the selected variants of a definition file.
func (c *cli) planDefinition(ctx context.Context, path string, flags planFlags) ([]planned, error) {
	def, err := definitions.Load(path)
	if err != nil {
		return nil, err
	}
	recipes, err := selectRecipes(def, flags.variants)
	if err != nil {
		return nil, err
	}

	out := make([]planned, 0, len(recipes))
	for _, r := range recipes {
		plan, err := c.planRecipe(ctx, r, flags.offline)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", r.Variant, err)
		}
		out = append(out, planned{
			Variant:   r.Variant,
			Base:      plan.Base.Pinned(),
			Steps:     plan.Steps,
			Summary:   plan.Summary(),
			FinalUser: plan.FinalPrivilege().String(),
			plan:      plan,
		})
	}
	return out, nil
}

func (c *cli) planRecipe(ctx context.Context, r definitions.Recipe, offline bool) (*layers.Plan, error) {
	if err := builds.ValidateRecipe(r); err != nil {
		return nil, err
	}
	if offline {
		installer, err := r.OSInstaller(images.PackageManagerUnknown)
		if err != nil {
			return nil, fmt.Errorf("--offline needs an explicit osPackageManager: %w", err)
		}
		return r.Plan(installer)
	}
	plan, _, err := builds.ResolvePlan(ctx, c.opts.Inspector, r)
	return plan, err
}

// selectRecipes resolves the named variants, or every variant when none
// are named.
func selectRecipes(def *definitions.Definition, variants []string) ([]definitions.Recipe, error) {
	if len(variants) == 0 {
		variants = def.VariantNames()
	}
	out := make([]definitions.Recipe, 0, len(variants))
	for _, v := range variants {
		r, err := def.Recipe(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *cli) renderCommand() *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "render <definition>",
		Short: "Render the Dockerfile of each variant",
		Long: `Render prints the Dockerfile of one variant. With several variants each
Dockerfile is preceded by a "# variant: <name>" line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := c.planDefinition(cmd.Context(), args[0], flags)
			if err != nil {
				return err
			}
			for i, p := range results {
				rendered, err := templates.Render(p.plan)
				if err != nil {
					return err
				}
				if len(results) > 1 {
					if i > 0 {
						fmt.Fprintln(cmd.OutOrStdout())
					}
					fmt.Fprintf(cmd.OutOrStdout(), "# variant: %s\n", p.Variant)
				}
				io.WriteString(cmd.OutOrStdout(), rendered.Dockerfile)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
