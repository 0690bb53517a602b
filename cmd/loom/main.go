package main

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "loom holds branching conversations with language models",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	SilenceUsage: true,
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initConfig(configPath string) error {
	// Load the variables from the environment
	viper.SetEnvPrefix("loom")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.loom")

		// get XDG config path for loom
		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/loom")
		}
	}

	// Read the configuration file into Viper
	err := viper.ReadInConfig()
	// if the file does not exist, continue normally
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// Config file not found; ignore error
	} else if err != nil {
		// Config file was found but another error was produced
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Bind the variables to the command-line flags
	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	var logWriter io.Writer
	switch {
	case config.LogFormat == "text":
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	case config.LogFormat == "" && isatty.IsTerminal(os.Stderr.Fd()):
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	default:
		logWriter = os.Stderr
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28,    //days
					Compress:   false, // disabled by default
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// a missing .env is the normal case
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to the loom config file")
	pf.String("settings", "", "Path to the provider settings YAML")
	pf.String("presets", "", "Path to the model presets YAML")
	pf.String("provider", "", "Provider (openai, claude, gemini, openrouter, anyscale, fireworks)")
	pf.String("model", "", "Model alias from the presets")
	pf.String("engine", "", "Provider model name, wins over --model")
	pf.String("system", "", "System prompt, or @path to read it from a file")
	pf.String("store", "", "Conversation store type (memory, file, sqlite)")
	pf.String("store-path", "", "Conversation store path")
	pf.String("saves-dir", "", "Directory of saved states")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	pf.String("log-format", "", "Log format (json, text). Text is used on a terminal")
	pf.String("log-file", "", "Log file, rotated")
	pf.Bool("with-caller", false, "Log caller")
	pf.BoolP("verbose", "v", false, "Shortcut for --log-level debug")

	cobra.OnInitialize(func() {
		cobra.CheckErr(initConfig(viper.GetString("config")))
	})
	_ = viper.BindPFlag("config", pf.Lookup("config"))

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSavesCommand())
	rootCmd.AddCommand(newConversationsCommand())
}
