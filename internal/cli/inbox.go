package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/migration"
	"github.com/rbaliyan/inbox/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newAddCmd(v *viper.Viper) *cobra.Command {
	var encoded bool
	cmd := &cobra.Command{
		Use:   "add <peer> <message>",
		Short: "Append a message to a peer's inbox",
		Long: `Append a message to the peer's inbox on behalf of --caller and print the
assigned message id.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := store.ParseAccount(args[0])
			if err != nil {
				return fmt.Errorf("peer: %w", err)
			}
			msg := []byte(args[1])
			if encoded {
				if msg, err = base64.StdEncoding.DecodeString(args[1]); err != nil {
					return fmt.Errorf("message: %w", err)
				}
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			caller, err := e.caller()
			if err != nil {
				return err
			}
			id, err := e.svc.Client(caller).AddValue(ctx, peer, msg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&encoded, "base64", false, "message argument is base64 encoded")
	return cmd
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete messages from the caller's inbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]inbox.MessageID, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseUint(a, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid message id %q: %w", a, err)
				}
				ids = append(ids, inbox.MessageID(id))
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			caller, err := e.caller()
			if err != nil {
				return err
			}
			return e.svc.Client(caller).DeleteValues(ctx, ids)
		},
	}
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var encoded bool
	cmd := &cobra.Command{
		Use:   "list <account>",
		Short: "Print the messages of an inbox, one per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := store.ParseAccount(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			msgs, err := e.svc.Inbox(ctx, account)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				if encoded {
					fmt.Fprintln(out, base64.StdEncoding.EncodeToString(m))
				} else {
					fmt.Fprintln(out, string(m))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&encoded, "base64", false, "print messages base64 encoded")
	return cmd
}

// entryView renders an entry the way migration batches spell it.
type entryView struct {
	ID      inbox.MessageID `json:"id" yaml:"id"`
	Text    string          `json:"text,omitempty" yaml:"text,omitempty"`
	Message string          `json:"message,omitempty" yaml:"message,omitempty"`
}

func viewEntries(entries []inbox.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{ID: e.ID}
		if utf8.Valid(e.Message) {
			v.Text = string(e.Message)
		} else {
			v.Message = base64.StdEncoding.EncodeToString(e.Message)
		}
		out = append(out, v)
	}
	return out
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newEntriesCmd(v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "entries <account>",
		Short: "Print the (id, message) pairs of an inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := store.ParseAccount(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			entries, err := e.svc.Client(account).Entries(ctx)
			if err != nil {
				return err
			}
			return writeStructured(cmd.OutOrStdout(), format, viewEntries(entries))
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats <account>",
		Short: "Print aggregate statistics of an inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := store.ParseAccount(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			st, err := e.svc.Client(account).Stats(ctx)
			if err != nil {
				return err
			}
			return writeStructured(cmd.OutOrStdout(), format, map[string]any{
				"message_count": st.MessageCount,
				"total_bytes":   st.TotalBytes,
				"next_index":    st.NextIndex,
				"lowest_id":     st.LowestID,
				"highest_id":    st.HighestID,
				"exhausted":     st.Exhausted(),
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "json", "output format: json or yaml")
	return cmd
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "export <account>",
		Short: "Write an inbox as a migration batch document",
		Long: `Write the account's entries and next index as a JSON batch document that
"inboxctl migrate" can import into another store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := store.ParseAccount(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := open(ctx, v)
			if err != nil {
				return err
			}
			defer e.Close(ctx)

			engine := e.svc.Engine()
			entries, err := engine.Entries(ctx, account)
			if err != nil {
				return err
			}
			next, err := engine.NextIndex(ctx, account)
			if err != nil {
				return err
			}
			return migration.Encode(cmd.OutOrStdout(), &migration.Batch{
				Account:   account,
				NextIndex: next,
				Entries:   entries,
			})
		},
	}
}
