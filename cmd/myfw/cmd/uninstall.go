package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/myfw/internal/packaging"
)

var purge bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the myfw systemd service",
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

func init() {
	uninstallCmd.Flags().BoolVar(&purge, "purge", false, "also remove the config and data directories, including saved rules")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(logLevel)

	installer := packaging.NewInstaller(packaging.InstallConfig{}, packaging.NewSystemdController(), packaging.NewRootChecker(), logger)
	if err := installer.Uninstall(purge); err != nil {
		return fmt.Errorf("myfw uninstall: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "myfw uninstalled successfully")
	return nil
}
