package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skills available to agents",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		reg, n, err := newSkillRegistry(cfg, dir, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if n == 0 {
			fmt.Fprintf(out, "No skills found in %s\n", config.Resolve(dir, cfg.Skills.Dir))
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tAPPROVAL\tDESCRIPTION")
		for _, m := range reg.List() {
			approval := "-"
			if m.RequiresApproval {
				approval = "required"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Kind, approval, m.Description)
		}
		return w.Flush()
	},
}

func init() {
	skillsCmd.AddCommand(skillsListCmd)
}
