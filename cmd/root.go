package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proj/proj/internal/control"
	"github.com/proj/proj/internal/ipcclient"
	"github.com/proj/proj/internal/paths"
)

var rootCmd = &cobra.Command{
	Use:   "proj",
	Short: "proj - stable hostnames and isolated profiles for local dev servers",
	Long: `proj makes "project" a routing primitive for local development.

Register a project, run any dev server under it, and reach it at
http://<project>.localhost:8080 no matter which port the server picked.

  proj new my-app          register the current directory as my-app
  proj my-app npm run dev  run a command under my-app
  proj my-app              show project status and recent output
  proj my-app stop         stop the running command
  proj ls                  list projects`,
	Args: cobra.ArbitraryArgs,
	// Everything after a project name belongs to the child command, so
	// the root never interprets flags itself.
	DisableFlagParsing: true,
	RunE:               runRoot,
}

func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}

func client() *ipcclient.Client {
	return ipcclient.New(paths.SocketPath())
}

// reserved verbs usable without a project name; the project is then
// resolved from the working directory.
var cwdVerbs = map[string]bool{
	"run": true, "stop": true, "open": true, "info": true, "history": true,
}

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return printOverview(cmd.Context())
	}
	switch args[0] {
	case "-h", "--help", "help":
		return cmd.Help()
	}

	name := args[0]
	rest := args[1:]
	if cwdVerbs[name] {
		resolved, err := resolveCwd(cmd.Context())
		if err != nil {
			return err
		}
		name, rest = resolved, args
	}

	if len(rest) == 0 {
		return printInfo(cmd.Context(), name)
	}
	switch rest[0] {
	case "run":
		if len(rest) < 2 {
			return fmt.Errorf("usage: proj %s run <command...>", name)
		}
		return runProject(cmd.Context(), name, rest[1:])
	case "stop":
		return stopProject(cmd.Context(), name)
	case "open":
		return openProject(cmd.Context(), name)
	case "info":
		return printInfo(cmd.Context(), name)
	case "history":
		return printHistory(cmd.Context(), name)
	default:
		return runProject(cmd.Context(), name, rest)
	}
}

func resolveCwd(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	resp, err := client().DoEnsure(ctx, &control.Request{Op: "resolve", Cwd: cwd})
	if err != nil {
		return "", fmt.Errorf("not inside a registered project (try: proj new <name>)")
	}
	return resp.Name, nil
}

func printOverview(ctx context.Context) error {
	c := client()
	ping, err := c.DoEnsure(ctx, &control.Request{Op: "ping"})
	if err != nil {
		return err
	}
	status, err := c.Do(ctx, &control.Request{Op: "status"})
	if err != nil {
		return err
	}
	running := 0
	for _, p := range status.Projects {
		if p.PID > 0 {
			running++
		}
	}
	fmt.Printf("proj daemon v%s\n", ping.Version)
	fmt.Printf("  %d project(s), %d running\n", len(status.Projects), running)
	fmt.Printf("  proxy: http://*.localhost:%d\n", status.HTTPPort)
	return nil
}
