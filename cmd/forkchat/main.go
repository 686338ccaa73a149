package main

import (
	"os"

	"github.com/go-go-golems/forkchat/cmd/forkchat/cmds"
	"github.com/go-go-golems/forkchat/pkg/config"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var settings *config.Settings

var rootCmd = &cobra.Command{
	Use:           "forkchat",
	Short:         "forkchat is a chat client with branching conversations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		configFile, _ := cmd.Flags().GetString("config")
		if err := config.InitViper(viper.GetViper(), configFile); err != nil {
			return err
		}
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag and the config file
		initLogger()

		s, err := config.FromViper(viper.GetViper())
		if err != nil {
			return err
		}
		settings = s
		log.Debug().
			Str("transport", s.Transport.Kind).
			Str("remote", s.Remote.Kind).
			Str("session", s.Chat.Session).
			Msg("Loaded settings")
		return nil
	},
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	if viper.GetBool("verbose") && logLevel != "trace" {
		logLevel = "debug"
	}

	err := config.InitLogger(&config.LogConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

func loadSettings() *config.Settings {
	return settings
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// settingFlags maps persistent flags onto nested settings keys.
var settingFlags = map[string]string{
	"transport":   "transport.kind",
	"model":       "transport.model",
	"api-key":     "transport.api-key",
	"base-url":    "transport.base-url",
	"session":     "chat.session",
	"category":    "chat.category",
	"prompt":      "chat.system-prompt",
	"cache-dir":   "cache.dir",
	"remote":      "remote.kind",
	"remote-dsn":  "remote.dsn",
	"remote-url":  "remote.url",
	"listen":      "server.listen",
	"autosave":    "timing.autosave-delay",
	"loader-show": "timing.loader-show-delay",
}

func init() {
	flags := rootCmd.PersistentFlags()

	// logging flags
	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default: stderr)")
	flags.Bool("verbose", false, "Verbose output")

	flags.String("config", "", "Path to config file (default $XDG_CONFIG_HOME/forkchat/config.yaml)")

	flags.String("transport", "", "Model transport (openai, ollama, echo)")
	flags.String("model", "", "Model name")
	flags.String("api-key", "", "API key of the openai transport")
	flags.String("base-url", "", "Base URL of the model API")
	flags.String("session", "", "Local cache session name")
	flags.String("category", "", "Conversation category")
	flags.String("prompt", "", "Custom system prompt")
	flags.String("cache-dir", "", "Directory of the local cache (default: in memory)")
	flags.String("remote", "", "Remote store (none, sqlite, http)")
	flags.String("remote-dsn", "", "Path of the sqlite remote store")
	flags.String("remote-url", "", "Base URL of the http remote store")
	flags.String("listen", "", "Listen address of the conversation server")
	flags.Duration("autosave", 0, "Delay of the remote autosave")
	flags.Duration("loader-show", 0, "Delay before the loader is shown")

	for _, name := range []string{"with-caller", "log-level", "log-format", "log-file", "verbose"} {
		cobra.CheckErr(viper.BindPFlag(name, flags.Lookup(name)))
	}
	for name, key := range settingFlags {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(name)))
	}

	branchesCmd, err := cmds.NewBranchesCommand(loadSettings)
	cobra.CheckErr(err)
	branchesCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(branchesCmd)
	cobra.CheckErr(err)

	conversationsCmd, err := cmds.NewConversationsCommand(loadSettings)
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewChatCommand(loadSettings),
		cmds.NewReplCommand(loadSettings),
		cmds.NewServeCommand(loadSettings),
		branchesCobraCmd,
		conversationsCmd,
		cmds.NewConfigCommand(loadSettings),
	)
}
