package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/myfw/internal/packaging"
)

var (
	installQueueNum  uint16
	installInterface string
	installEnable    bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install myfw as a systemd service",
	Long: "Copy this binary to /usr/local/bin, write a default config to\n" +
		"/etc/myfw/config.yaml unless one exists, and install the myfw systemd\n" +
		"unit. Requires root.",
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().Uint16Var(&installQueueNum, "queue-num", 0, "netfilter queue number written to the default config")
	installCmd.Flags().StringVar(&installInterface, "interface", "", "restrict the hook to one interface in the default config")
	installCmd.Flags().BoolVar(&installEnable, "enable", false, "enable the service to start on boot")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(logLevel)

	cfg := packaging.InstallConfig{
		QueueNum:  installQueueNum,
		Interface: installInterface,
		Enable:    installEnable,
	}
	installer := packaging.NewInstaller(cfg, packaging.NewSystemdController(), packaging.NewRootChecker(), logger)
	if err := installer.Install(); err != nil {
		return fmt.Errorf("myfw install: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "myfw installed successfully")
	return nil
}
