package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/konflux-ci/pipeline-migration-tool/internal/executor"
	"github.com/konflux-ci/pipeline-migration-tool/internal/migrate"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

func newScriptRunner() executor.ScriptRunner {
	return executor.NewBashRunner()
}

func newMigrateCmd(a *app) *cobra.Command {
	var upgradesJSON, upgradesFile string
	var taskRepo, fromStr, toStr, file string
	var newTag, newDigest string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply migrations for upgraded task bundles",
		Long: "Apply migrations either for a Renovate upgrades list\n" +
			"(--renovate-upgrades or --upgrades-file, pass - to read stdin) or for a\n" +
			"single explicit bundle upgrade (--task, --from, --to, --file).",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.newService(dryRun)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if upgradesJSON != "" && upgradesFile != "" {
				return fmt.Errorf("--renovate-upgrades and --upgrades-file are mutually exclusive")
			}

			if upgradesJSON != "" || upgradesFile != "" {
				data, err := readUpgrades(upgradesJSON, upgradesFile)
				if err != nil {
					return err
				}
				upgrades, err := migrate.ParseUpgrades(data)
				if err != nil {
					return err
				}
				if len(upgrades) == 0 {
					a.logger.Info().Msg("no tekton-bundle upgrades to handle")
					return nil
				}
				reports, err := svc.MigrateUpgrades(ctx, upgrades)
				printReports(cmd.OutOrStdout(), reports)
				return err
			}

			if taskRepo == "" || fromStr == "" || toStr == "" || file == "" {
				return fmt.Errorf("either an upgrades list or all of --task, --from, --to and --file are required")
			}
			from, err := version.Parse(fromStr)
			if err != nil {
				return err
			}
			to, err := version.Parse(toStr)
			if err != nil {
				return err
			}
			report, err := svc.Migrate(ctx, migrate.Request{
				Repo:      taskRepo,
				From:      from,
				To:        to,
				File:      file,
				NewTag:    newTag,
				NewDigest: newDigest,
			})
			if report != nil {
				printReports(cmd.OutOrStdout(), []*migrate.RunReport{report})
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&upgradesJSON, "renovate-upgrades", "u", "",
		"Renovate upgrades as an inline JSON list")
	cmd.Flags().StringVar(&upgradesFile, "upgrades-file", "",
		"path to a Renovate upgrades JSON file, or - for stdin")
	cmd.Flags().StringVar(&taskRepo, "task", "", "task bundle repository")
	cmd.Flags().StringVar(&fromStr, "from", "", "current bundle version")
	cmd.Flags().StringVar(&toStr, "to", "", "target bundle version")
	cmd.Flags().StringVarP(&file, "file", "f", "", "pipeline definition file to migrate")
	cmd.Flags().StringVar(&newTag, "new-tag", "", "tag to pin the bundle reference to after migrating")
	cmd.Flags().StringVar(&newDigest, "new-digest", "", "digest to pin the bundle reference to after migrating")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, do not fetch or apply migrations")
	return cmd
}

func readUpgrades(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read upgrades from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read upgrades file: %w", err)
	}
	return data, nil
}

func printReports(w io.Writer, reports []*migrate.RunReport) {
	for _, r := range reports {
		fmt.Fprintf(w, "%s %s -> %s (%s): %s\n", r.Repo, r.From, r.To, r.File, r.State)
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", s.Step.Version, s.Step.Tag.Name, s.State)
		}
	}
}
