package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cohsim",
	Short: "cohsim simulates the caches and the memory of a multi-core system.",
	Long: `cohsim simulates the caches and the memory of a multi-core system ` +
		`at the cycle level. Programs are fast-forwarded on functional cores ` +
		`and measured on timing cores.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}

		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return err
		}

		logrus.SetLevel(parsed)

		return nil
	},
}

func init() {
	loadEnv(".env")

	rootCmd.PersistentFlags().String("log-level",
		envOr("COHSIM_LOG_LEVEL", "info"),
		"The logging level (trace, debug, info, warn, error).")
}

// loadEnv reads the defaults of the flags from an env file, if present.
func loadEnv(path string) {
	err := godotenv.Load(path)
	if err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("env file not loaded")
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}

	return fallback
}
