package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/proj/proj/internal/config"
	"github.com/proj/proj/internal/daemon"
	"github.com/proj/proj/internal/ipcclient"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run or manage the proj daemon",
	Long: `Run the proj daemon.

Without -f the daemon is started detached, logging to $PROJ_HOME/daemon.log.
Clients also start it automatically on first use.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Args:  cobra.NoArgs,
	RunE:  statusDaemon,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE:  stopDaemon,
}

func init() {
	daemonCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "run in the foreground")
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if !daemonForeground {
		if st := daemon.GetStatus(cfg.Socket); st.Running {
			fmt.Printf("proj daemon already running (pid %d)\n", st.PID)
			return nil
		}
		if err := ipcclient.SpawnDetached(cmd.Context(), cfg.Socket); err != nil {
			return err
		}
		fmt.Println("proj daemon started")
		return nil
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return daemon.New(cfg, log).Run(cmd.Context())
}

func statusDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st := daemon.GetStatus(cfg.Socket)
	if st.Running {
		fmt.Printf("proj daemon running (pid %d)\n", st.PID)
		fmt.Printf("  socket: %s\n", st.SocketPath)
		fmt.Printf("  proxy:  http://*.localhost:%d\n", cfg.HTTPPort)
	} else if st.PID > 0 {
		fmt.Printf("proj daemon not responding (stale pid %d)\n", st.PID)
		fmt.Printf("  socket: %s\n", st.SocketPath)
	} else {
		fmt.Println("proj daemon is not running")
		fmt.Printf("  socket: %s\n", st.SocketPath)
	}
	return nil
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	if err := daemon.StopRunning(); err != nil {
		return err
	}
	fmt.Println("proj daemon stopped")
	return nil
}
