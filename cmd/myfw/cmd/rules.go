package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plexsphere/myfw/internal/ctlapi"
)

var (
	addFront bool
	delMatch bool
)

const ruleSyntax = "A rule is written as\n\n" +
	"  <proto> <src-addr>/<mask>:<src-port> <dst-addr>/<mask>:<dst-port> <verdict>\n\n" +
	"with proto T, U, I or A (any), verdict P (permit) or R (reject), and A in\n" +
	"place of an address or port for any. Example:\n\n" +
	"  T 10.0.0.0/24:A 10.0.0.5/32:80 P"

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules in evaluation order",
	Long: "Print the rule list, one rule per line, first rule first. A listing\n" +
		"too long for the daemon's buffer ends with \"More Rules ...\".",
	Args: cobra.NoArgs,
	RunE: runList,
}

var confCmd = &cobra.Command{
	Use:   "conf <file>",
	Short: "Load rules from a file",
	Long: "Load one rule per line from file (\"-\" reads stdin). Each rule is\n" +
		"inserted in front of the existing ones, so the last line of the file\n" +
		"is evaluated first. Blank lines and lines starting with # are skipped;\n" +
		"malformed lines are reported and skipped.\n\n" + ruleSyntax,
	Args: cobra.ExactArgs(1),
	RunE: runConf,
}

var addCmd = &cobra.Command{
	Use:   "add <rule>",
	Short: "Add a rule",
	Long:  "Append a rule to the rule list, or insert it first with --front.\n\n" + ruleSyntax,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var delCmd = &cobra.Command{
	Use:   "del <index> | del --match <pattern>",
	Short: "Delete rules",
	Long: "Delete the rule at a 1-based position as shown by \"myfw list\", or with\n" +
		"--match every rule the pattern matches. The pattern uses the rule syntax;\n" +
		"its verdict is ignored.",
	Args: cobra.MinimumNArgs(1),
	RunE: runDel,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all rules",
	Long:  "Delete every rule and reset the default verdict to P.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	addCmd.Flags().BoolVar(&addFront, "front", false, "insert the rule before all others")
	delCmd.Flags().BoolVar(&delMatch, "match", false, "delete every rule matched by a pattern")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(confCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(clearCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	resp, err := socketDo(http.MethodGet, "/v1/rules", nil)
	if err != nil {
		return fmt.Errorf("myfw list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("myfw list: %w", apiError(resp))
	}
	if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
		return fmt.Errorf("myfw list: read response: %w", err)
	}
	return nil
}

func runConf(cmd *cobra.Command, args []string) error {
	var in io.Reader
	if args[0] == "-" {
		in = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("myfw conf: %w", err)
		}
		defer f.Close()
		in = f
	}

	var res ctlapi.BatchResponse
	if err := socketCall(http.MethodPost, "/v1/rules/batch", in, http.StatusOK, &res); err != nil {
		return fmt.Errorf("myfw conf: %w", err)
	}
	for _, e := range res.Errors {
		fmt.Fprintln(cmd.ErrOrStderr(), e)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules loaded, %d rejected\n", res.Accepted, res.Rejected)
	if res.Rejected > 0 {
		return fmt.Errorf("myfw conf: %d lines rejected", res.Rejected)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	position := "tail"
	if addFront {
		position = "front"
	}
	var added ctlapi.RuleResponse
	body := strings.NewReader(strings.Join(args, " "))
	if err := socketCall(http.MethodPost, "/v1/rules?position="+position, body, http.StatusCreated, &added); err != nil {
		return fmt.Errorf("myfw add: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added: %s\n", added.Rule)
	return nil
}

func runDel(cmd *cobra.Command, args []string) error {
	if delMatch {
		var res ctlapi.DeleteResponse
		body := strings.NewReader(strings.Join(args, " "))
		if err := socketCall(http.MethodPost, "/v1/rules/delete", body, http.StatusOK, &res); err != nil {
			return fmt.Errorf("myfw del: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules deleted\n", res.Removed)
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("myfw del: expected one rule index, or --match with a pattern")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil || index < 1 {
		return fmt.Errorf("myfw del: invalid rule index %q", args[0])
	}
	var removed ctlapi.RuleResponse
	if err := socketCall(http.MethodDelete, "/v1/rules/"+strconv.Itoa(index), nil, http.StatusOK, &removed); err != nil {
		return fmt.Errorf("myfw del: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", removed.Rule)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if err := socketCall(http.MethodDelete, "/v1/rules", nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("myfw clear: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "rules cleared")
	return nil
}
