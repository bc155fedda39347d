package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/signals"
)

// signalDir is where a running session looks for control files.
func signalDir(projectDir string) string {
	return filepath.Join(projectDir, ".crew", "signals")
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the session running in the project directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.CancelFile, "Cancel requested")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <agent-id>",
	Short: "Pause a running agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.PausePrefix+args[0], "Pause requested for "+args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, signals.ResumePrefix+args[0], "Resume requested for "+args[0])
	},
}

func sendSignal(cmd *cobra.Command, name, message string) error {
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}
	if err := signals.Send(signalDir(dir), name); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}
