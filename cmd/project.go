package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/proj/proj/internal/browser"
	"github.com/proj/proj/internal/control"
	"github.com/proj/proj/internal/paths"
	"github.com/proj/proj/internal/project"
)

func runProject(ctx context.Context, name string, argv []string) error {
	resp, err := client().DoEnsure(ctx, &control.Request{Op: "run", Name: name, Argv: argv})
	if err != nil {
		return err
	}
	fmt.Printf("Started %s (pid %d)\n", strings.Join(argv, " "), resp.PID)
	fmt.Printf("  http://%s.localhost:%d\n", name, resp.HTTPPort)
	return nil
}

func stopProject(ctx context.Context, name string) error {
	if _, err := client().DoEnsure(ctx, &control.Request{Op: "stop", Name: name}); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", name)
	return nil
}

func openProject(ctx context.Context, name string) error {
	c := client()
	if _, err := c.DoEnsure(ctx, &control.Request{Op: "info", Name: name}); err != nil {
		return err
	}
	status, err := c.Do(ctx, &control.Request{Op: "status"})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s.localhost:%d", name, status.HTTPPort)
	fmt.Printf("Opening %s with isolated browser profile\n", url)
	return browser.Open(url, paths.BrowserProfileDir(name))
}

func printInfo(ctx context.Context, name string) error {
	resp, err := client().DoEnsure(ctx, &control.Request{Op: "info", Name: name})
	if err != nil {
		return err
	}
	p := resp.Project

	fmt.Printf("%s\n", p.Name)
	fmt.Printf("  path:    %s\n", p.Path)
	fmt.Printf("  created: %s\n", p.CreatedAt.Local().Format(time.RFC1123))
	if resp.GitBranch != "" {
		dirty := ""
		if resp.GitDirty {
			dirty = " (dirty)"
		}
		fmt.Printf("  branch:  %s%s\n", resp.GitBranch, dirty)
	}
	if p.Status() == project.StatusRunning {
		fmt.Printf("  status:  running (pid %d)\n", p.PID)
		if resp.Command != "" {
			fmt.Printf("  command: %s\n", resp.Command)
		}
		if p.Port > 0 {
			fmt.Printf("  port:    %d\n", p.Port)
			fmt.Printf("  url:     http://%s.localhost:%d\n", p.Name, resp.HTTPPort)
		} else {
			fmt.Printf("  port:    (detecting...)\n")
		}
	} else {
		fmt.Printf("  status:  idle\n")
	}

	if out := strings.TrimSpace(resp.RecentOutput); out != "" {
		fmt.Println("\nRecent output:")
		for _, line := range tail(strings.Split(out, "\n"), 20) {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

func printHistory(ctx context.Context, name string) error {
	resp, err := client().DoEnsure(ctx, &control.Request{Op: "history", Name: name})
	if err != nil {
		return err
	}
	if len(resp.Runs) == 0 {
		fmt.Printf("No run history for %s\n", name)
		return nil
	}
	for _, r := range resp.Runs {
		when := r.StartedAt.Local().Format("2006-01-02 15:04:05")
		state := "running"
		if r.ExitedAt != nil {
			if r.ExitCode != nil {
				state = fmt.Sprintf("exit %d", *r.ExitCode)
			} else {
				state = "exited"
			}
		}
		port := ""
		if r.Port > 0 {
			port = fmt.Sprintf("  :%d", r.Port)
		}
		fmt.Printf("%s  %-10s%s  %s\n", when, state, port, r.Argv)
	}
	return nil
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
