package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/MarcoPoloResearchLab/studytrack/internal/config"
	"github.com/MarcoPoloResearchLab/studytrack/internal/logging"
	"github.com/MarcoPoloResearchLab/studytrack/internal/resource"
	"github.com/MarcoPoloResearchLab/studytrack/internal/studysync"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "studytrack",
		Short:         "Work with StudyTrack records from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newNotesCommand(),
		newListCommand("decks", "List flashcard decks", func(s *studysync.Session) lister { return kitLister(s.Decks(), deckRow) }),
		newListCommand("flashcards", "List flashcards", func(s *studysync.Session) lister { return kitLister(s.Flashcards(), flashcardRow) }),
		newListCommand("homeworks", "List homework", func(s *studysync.Session) lister { return kitLister(s.Homeworks(), homeworkRow) }),
		newListCommand("topics", "List topic searches", func(s *studysync.Session) lister { return kitLister(s.TopicSearches(), topicSearchRow) }),
	)

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", resource.Describe(err))
		}
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("base-url", defaults.GetString("client.base_url"), "StudyTrack API origin")
	cmd.PersistentFlags().String("token", "", "Access token (overrides env)")
	cmd.PersistentFlags().Duration("timeout", defaults.GetDuration("client.timeout"), "Per-request timeout")
	cmd.PersistentFlags().Float64("requests-per-second", defaults.GetFloat64("client.requests_per_second"), "Request throttle, 0 disables")
	cmd.PersistentFlags().Bool("live", defaults.GetBool("client.live_updates"), "Follow the server change stream while watching")
	cmd.PersistentFlags().Duration("revalidate-interval", defaults.GetDuration("cache.revalidate_interval"), "Refetch watched data on this interval, 0 disables")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "client.base_url", "base-url")
	bindFlag(cmd, "client.token", "token")
	bindFlag(cmd, "client.timeout", "timeout")
	bindFlag(cmd, "client.requests_per_second", "requests-per-second")
	bindFlag(cmd, "client.live_updates", "live")
	bindFlag(cmd, "cache.revalidate_interval", "revalidate-interval")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// openSession builds a sync session from the resolved client configuration. The caller owns
// both the session and the logger.
func openSession() (*studysync.Session, *zap.Logger, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	session, err := studysync.New(studysync.Config{
		BaseURL:            clientConfig.BaseURL,
		Token:              clientConfig.Token,
		Timeout:            clientConfig.Timeout,
		RequestsPerSecond:  clientConfig.RequestsPerSecond,
		FetchTimeout:       clientConfig.Cache.FetchTimeout,
		RevalidateInterval: clientConfig.Cache.RevalidateInterval,
		Retention:          clientConfig.Cache.Retention,
		LiveUpdates:        clientConfig.LiveUpdates,
		Logger:             logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return session, logger, nil
}
