package agents

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"devcrew/internal/app"
	"devcrew/internal/crew"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "agents",
	Short: "List the crew members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.Setup(cmd.Flag("config").Value.String())
		if err != nil {
			return err
		}

		defs, err := crew.LoadDefinitions(cfg.Crew.Definitions)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tROLE\tTOOLS")
		for _, p := range defs.Profiles() {
			role := p.Role
			if p.Key == defs.Manager {
				role += " (manager)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Key, role, strings.Join(p.Tools, ", "))
		}
		return w.Flush()
	},
}
