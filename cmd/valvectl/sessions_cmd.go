package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"valvectl/internal/app"
	logx "valvectl/pkg/logx"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent irrigation sessions from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(cfgPath)
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("storage is disabled in this config")
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entries, err := store.RecentSessions(ctx, sessionsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tCHANNEL\tORIGIN\tREQUESTED\tELAPSED\tREASON")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\t%dm\t%s\t%s\n",
				e.StartedAt.Local().Format(time.DateTime),
				e.Channel,
				e.Origin,
				e.RequestedMinutes,
				(time.Duration(e.ElapsedSeconds) * time.Second).String(),
				e.Reason,
			)
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "number of sessions to show")
}
