package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/roster"
	"github.com/ShayCichocki/crew/pkg/models"
)

var rosterProject string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Inspect the employee roster",
}

var rosterShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the roster and department counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		path := config.Resolve(dir, cfg.Roster.Path)
		if len(args) == 1 {
			path = args[0]
		}
		project := cfg.Roster.Project
		if cmd.Flags().Changed("project") {
			project = rosterProject
		}
		r, err := roster.LoadProject(path, project)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDEPARTMENT\tAI\tSTATUS")
		for _, e := range r.Employees {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Department, e.AIType, e.Status)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		counts := r.ByDepartment()
		fmt.Fprintln(out)
		for _, d := range []models.Department{
			models.DepartmentPlanning,
			models.DepartmentDesign,
			models.DepartmentDevelopment,
			models.DepartmentQA,
			models.DepartmentMarketing,
		} {
			fmt.Fprintf(out, "%-12s %d\n", d, counts[d])
			delete(counts, d)
		}
		for d, n := range counts {
			fmt.Fprintf(out, "%-12s %d\n", d, n)
		}
		return nil
	},
}

func init() {
	rosterShowCmd.Flags().StringVar(&rosterProject, "project", "", "Project to use from a company.json roster")
	rosterCmd.AddCommand(rosterShowCmd)
}
