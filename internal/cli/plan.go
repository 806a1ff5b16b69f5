package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <bundle-repo> <from> <to>",
		Short: "Show the migration plan for a bundle upgrade without applying it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := version.Parse(args[1])
			if err != nil {
				return err
			}
			to, err := version.Parse(args[2])
			if err != nil {
				return err
			}

			svc, err := a.newService(true)
			if err != nil {
				return err
			}
			p, err := svc.Plan(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if p.Empty() {
				fmt.Fprintf(out, "no migrations between %s and %s\n", from, to)
				return nil
			}
			for _, s := range p.Steps {
				fmt.Fprintf(out, "%s\t%s\t%s\n", s.Version, s.Tag.Name, s.Tag.Digest)
			}
			return nil
		},
	}
	return cmd
}
