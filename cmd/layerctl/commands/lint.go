package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/onkernel/layerbuild/lib/definitions"
	"github.com/onkernel/layerbuild/lib/dockerfile"
)

var errLintFailed = errors.New("lint found errors")

func (c *cli) lintCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lint <Dockerfile>...",
		Short: "Check Dockerfiles for privilege and ordering problems",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := map[string][]dockerfile.Finding{}
			failed := false
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				instructions, err := dockerfile.Parse(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				findings := dockerfile.Lint(instructions)
				report[path] = findings
				failed = failed || dockerfile.HasErrors(findings)
				if !asJSON {
					for _, finding := range findings {
						fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", path, finding)
					}
				}
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			if failed {
				return errLintFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")
	return cmd
}

func (c *cli) importCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <variant>=<Dockerfile>...",
		Short: "Import legacy Dockerfiles into one definition",
		Long: `Import reads each Dockerfile as one variant and prints the resulting
definition. Variants that diverge are reported; nothing is merged by guess.
A bare path uses the name of its directory as the variant.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := map[string]string{}
			for _, arg := range args {
				variant, path, ok := cutVariant(arg)
				if !ok {
					path = arg
					variant = filepath.Base(filepath.Dir(arg))
				}
				if _, dup := files[variant]; dup {
					return fmt.Errorf("variant %q given twice", variant)
				}
				files[variant] = path
			}

			imported, err := definitions.FromDockerfiles(name, files)
			if err != nil {
				return err
			}
			for variant, skipped := range imported.Skipped {
				for _, line := range skipped {
					c.log.Warn("instruction has no place in a definition", "variant", variant, "instruction", line)
				}
			}
			reportDivergence(c, imported.Definition)

			data, err := imported.Definition.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "imported", "definition name")
	return cmd
}

func cutVariant(arg string) (string, string, bool) {
	for i := 0; i < len(arg); i++ {
		switch arg[i] {
		case '=':
			return arg[:i], arg[i+1:], i > 0
		case '/', '.':
			return "", "", false
		}
	}
	return "", "", false
}

// reportDivergence logs how every pair of variants differs.
func reportDivergence(c *cli, def *definitions.Definition) {
	names := def.VariantNames()[1:]
	for i := range names {
		for _, other := range names[i+1:] {
			cmp, err := def.CompareVariants(names[i], other)
			if err != nil || cmp.Identical() {
				continue
			}
			c.log.Info("variants diverge",
				"a", cmp.A, "b", cmp.B,
				"base_differs", cmp.BaseDiffers,
				"user_differs", cmp.UserDiffers,
				"installer_differs", cmp.InstallerDiffers,
				"os_only_a", cmp.OSPackages.OnlyA, "os_only_b", cmp.OSPackages.OnlyB,
				"runtime_only_a", cmp.RuntimePackages.OnlyA, "runtime_only_b", cmp.RuntimePackages.OnlyB)
		}
	}
}

func (c *cli) scanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "List the Python distributions the scripts in a directory import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dists, err := definitions.ScanPython(args[0])
			if err != nil {
				return err
			}
			for _, d := range dists {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
}
