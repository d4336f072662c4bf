package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proj/proj/internal/control"
	"github.com/proj/proj/internal/project"
)

var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Register the current directory as a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	name := args[0]
	// Validate before the round trip; the daemon validates again.
	if err := project.ValidateName(name); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	resp, err := client().DoEnsure(cmd.Context(), &control.Request{Op: "create", Name: name, Path: cwd})
	if err != nil {
		return err
	}
	fmt.Printf("Created project %s\n", resp.Project.Name)
	fmt.Printf("  path: %s\n", resp.Project.Path)
	fmt.Printf("  url:  http://%s.localhost:%d (once something is running)\n", resp.Project.Name, resp.HTTPPort)
	return nil
}
