package main

import (
	"fmt"
	"os"

	"github.com/berguner/looper/internal/cli"
	"github.com/berguner/looper/internal/config"
	"github.com/berguner/looper/internal/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "looper",
	Short: "Submit pipeline runs per sample and track their flags",
}

func main() {
	env, loaded := config.LoadEnv()
	logger := log.New(env.LogLevel)
	if !loaded {
		logger.Debugf("No .env file loaded, using the process environment")
	}
	cli.SetupCLI(rootCmd, env, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
