package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"valvectl/internal/app"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and print what it enables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.CheckConfig(cfgPath)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "config\t%s\n", cfgPath)
		fmt.Fprintf(w, "channels\t%d\n", orInt(cfg.Controller.Channels, 4))
		fmt.Fprintf(w, "outputs\t%s\n", orStr(cfg.Outputs.Driver, "log"))
		fmt.Fprintf(w, "time source\t%s\n", orStr(cfg.Time.Source, "system"))
		storage := "off"
		if cfg.Storage != nil {
			storage = orStr(cfg.Storage.Driver, "off")
		}
		fmt.Fprintf(w, "storage\t%s\n", storage)
		fmt.Fprintf(w, "mqtt\t%t\n", cfg.MQTT != nil && cfg.MQTT.Enabled)
		fmt.Fprintf(w, "http\t%t\n", cfg.HTTP != nil && cfg.HTTP.Enabled)
		fmt.Fprintf(w, "influx\t%t\n", cfg.Influx != nil && cfg.Influx.Enabled)
		fmt.Fprintf(w, "seed schedules\t%d\n", len(cfg.Controller.SeedSchedules))
		return w.Flush()
	},
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
