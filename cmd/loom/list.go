package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-go-golems/loom/pkg/savestate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSavesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saves",
		Short: "List saved states, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := viper.GetString("saves-dir")
			if dir == "" {
				dir = savestate.DefaultDir
			}
			s := savestate.NewStore(dir)

			byTree, _ := cmd.Flags().GetBool("by-tree")
			asJSON, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			if byTree {
				trees, err := s.ByConversation(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONTo(out, trees)
				}
				for _, t := range trees {
					fmt.Fprintf(out, "%s (%d saved states)\n", t.Name, len(t.States))
					for _, st := range t.States {
						fmt.Fprintf(out, "  %s\n", st.Label())
					}
				}
				return nil
			}

			states, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(out, states)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tSAVED\tSUMMARY")
			for _, st := range states {
				summary := ""
				if st.Summary != nil {
					summary = *st.Summary
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Slug, st.Name, st.SavedAt.Local().Format("2006-01-02 15:04"), summary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("by-tree", false, "Group saves by conversation")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func newConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.Close()
			}()

			summaries, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSONTo(out, summaries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED\tMESSAGES")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Name, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.MessageCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func writeJSONTo(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
