package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/proj/proj/internal/control"
	"github.com/proj/proj/internal/gitinfo"
)

var lsOutput string

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "", "output format: json or yaml")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	resp, err := client().DoEnsure(cmd.Context(), &control.Request{Op: "status"})
	if err != nil {
		return err
	}

	switch lsOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Projects)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(resp.Projects)
	case "":
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", lsOutput)
	}

	if len(resp.Projects) == 0 {
		fmt.Println("No projects yet.")
		fmt.Println()
		fmt.Println("Create one with: proj new <name>")
		return nil
	}

	for _, p := range resp.Projects {
		dot := "○"
		port := ""
		if p.PID > 0 {
			dot = "●"
			if p.Port > 0 {
				port = fmt.Sprintf(":%d", p.Port)
			} else {
				port = " (detecting)"
			}
		}
		branch := ""
		if gi, err := gitinfo.Lookup(p.Path); err == nil && gi.Branch != "" {
			branch = "  [" + gi.Branch + "]"
		}
		fmt.Printf("%s %s%s%s\n", dot, p.Name, port, branch)
		fmt.Printf("    %s\n", p.Path)
	}
	return nil
}
