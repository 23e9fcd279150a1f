package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plexsphere/myfw/internal/ctlapi"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start evaluating packets",
	Long:  "Tell the running daemon to evaluate packets against the rule list.",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop evaluating packets",
	Long: "Tell the running daemon to stop evaluating packets. Traffic passes\n" +
		"unfiltered until the next start; the rule list is kept.",
	Args: cobra.NoArgs,
	RunE: runShutdown,
}

var defaultCmd = &cobra.Command{
	Use:   "default <P|R>",
	Short: "Set the default verdict",
	Long:  "Set the verdict for packets no rule matches: P permits, R rejects.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDefault,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show filter status",
	Long:  "Connect to the running daemon via Unix socket and display the filter state.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(defaultCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	if err := socketCall(http.MethodPost, "/v1/filter/start", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("myfw start: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "filter started")
	return nil
}

func runShutdown(cmd *cobra.Command, _ []string) error {
	if err := socketCall(http.MethodPost, "/v1/filter/shutdown", nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("myfw shutdown: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "filter shut down")
	return nil
}

func runDefault(cmd *cobra.Command, args []string) error {
	var st ctlapi.StatusResponse
	if err := socketCall(http.MethodPut, "/v1/filter/default", strings.NewReader(args[0]), http.StatusOK, &st); err != nil {
		return fmt.Errorf("myfw default: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "default verdict: %s\n", st.Default)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var st ctlapi.StatusResponse
	if err := socketCall(http.MethodGet, "/v1/filter", nil, http.StatusOK, &st); err != nil {
		return fmt.Errorf("myfw status: %w", err)
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func printStatus(w io.Writer, st ctlapi.StatusResponse) {
	state := "shut down"
	if st.Active {
		state = "active"
	}
	fmt.Fprintf(w, "Filter:          %s\n", state)
	fmt.Fprintf(w, "Default verdict: %s\n", st.Default)
	if st.Capacity > 0 {
		fmt.Fprintf(w, "Rules:           %d/%d\n", st.Rules, st.Capacity)
	} else {
		fmt.Fprintf(w, "Rules:           %d\n", st.Rules)
	}
	if q := st.Queue; q != nil {
		fmt.Fprintf(w, "Packets:         %d processed, %d accepted, %d dropped\n", q.Processed, q.Accepted, q.Dropped)
		if q.VerdictErrors > 0 {
			fmt.Fprintf(w, "Verdict errors:  %d\n", q.VerdictErrors)
		}
	}
}
