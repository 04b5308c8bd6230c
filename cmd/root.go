package cmd

import (
	"fmt"
	"os"

	"github.com/fieldhand/agrichat/pkg/config"
	"github.com/fieldhand/agrichat/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agrichat",
	Short: "Farming assistant chat client",
	Long:  `Streaming chat client for the farming-assistant gateway: crop questions, plant-health diagnosis, and localized answers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
			return err
		}
		defer logger.Sync()

		prompt := viper.GetString("prompt")
		image := viper.GetString("image")
		return RunApplication(cfg, prompt, image)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", ".agrichat/settings.yaml", "config file")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("server", "s", "", "gateway base URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().String("language", "", "language code for requests and messages")
	viper.BindPFlag("language", rootCmd.PersistentFlags().Lookup("language"))

	rootCmd.PersistentFlags().StringP("prompt", "p", "", "send one prompt and exit instead of entering the REPL")
	viper.BindPFlag("prompt", rootCmd.PersistentFlags().Lookup("prompt"))

	rootCmd.PersistentFlags().String("image", "", "diagnose a plant image (path), paired with --prompt as caption")
	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./.agrichat")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("AGRICHAT")
	viper.AutomaticEnv()

	// Missing config files are fine; defaults and flags cover everything.
	_ = viper.ReadInConfig()
}
