package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	envPath string
)

var rootCmd = &cobra.Command{
	Use:   "valvectl",
	Short: "Irrigation valve controller",
	Long:  `valvectl runs weekly watering schedules and manual sessions on a set of valve outputs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine; a broken one is not
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("env %s: %w", envPath, err)
		}
		return nil
	},
	SilenceUsage: true,
	RunE:         runController,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "optional dotenv file with VALVECTL_* secrets")

	rootCmd.AddCommand(runCmd, checkCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
