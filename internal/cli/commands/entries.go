package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/plevy/pkg/adapter/api"
	"github.com/marmos91/plevy/pkg/store/entry"
)

var (
	entriesAPI     string
	entriesTimeout time.Duration
	entriesJSON    bool
)

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Manage entries through a running plevy API",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, skipped, err := newAPIClient(entriesAPI, entriesTimeout).List(cmd.Context())
		if err != nil {
			return err
		}
		if entriesJSON {
			return printJSON(cmd.OutOrStdout(), list)
		}
		printEntries(cmd.OutOrStdout(), list)
		if skipped > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d unreadable entries skipped\n", skipped)
		}
		return nil
	},
}

var entriesAddCmd = &cobra.Command{
	Use:   "add <name> <source_id> [source_index]",
	Short: "Add an entry",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := entry.Entry{Name: args[0], SourceID: args[1]}
		if len(args) == 3 {
			idx, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid source index %q", args[2])
			}
			e.SourceIndex = idx
		}

		id, err := newAPIClient(entriesAPI, entriesTimeout).Add(cmd.Context(), e)
		if err != nil {
			return err
		}
		if entriesJSON {
			return printJSON(cmd.OutOrStdout(), id)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
		return nil
	},
}

var entriesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}

		e, err := newAPIClient(entriesAPI, entriesTimeout).Get(cmd.Context(), entry.ID(id))
		if err != nil {
			return err
		}
		if entriesJSON {
			return printJSON(cmd.OutOrStdout(), e)
		}
		printEntries(cmd.OutOrStdout(), []api.EntryResponse{*e})
		return nil
	},
}

func init() {
	pf := entriesCmd.PersistentFlags()
	pf.StringVar(&entriesAPI, "api", "http://127.0.0.1:3000", "management API address")
	pf.DurationVar(&entriesTimeout, "timeout", 10*time.Second, "request timeout")
	pf.BoolVar(&entriesJSON, "json", false, "print raw JSON")

	entriesCmd.AddCommand(entriesListCmd, entriesAddCmd, entriesGetCmd)
	rootCmd.AddCommand(entriesCmd)
}

func printEntries(w io.Writer, list []api.EntryResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tINDEX")
	for _, e := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", e.ID, e.Name, e.SourceID, e.SourceIndex)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
