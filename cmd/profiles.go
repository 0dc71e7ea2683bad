package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var profilesShowFormat string

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage saved dataset profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unexpired saved profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), c)
		if err != nil {
			return err
		}
		defer st.Close()
		items, err := st.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "(no profiles)")
			return nil
		}
		for _, s := range items {
			fmt.Fprintf(out, "- %s: %s (%d rows, %d columns, expires %s)\n", s.ID, s.Name, s.Rows, s.Columns, s.ExpiresAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		render, err := profileRenderer(profilesShowFormat)
		if err != nil {
			return err
		}
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), c)
		if err != nil {
			return err
		}
		defer st.Close()
		p, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		body, err := render(p)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	},
}

var profilesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired profiles from the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), c)
		if err != nil {
			return err
		}
		defer st.Close()
		n, err := st.DeleteExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d expired profile(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesPruneCmd)
	profilesShowCmd.Flags().StringVarP(&profilesShowFormat, "format", "f", "markdown", "output format: markdown|json")
}
