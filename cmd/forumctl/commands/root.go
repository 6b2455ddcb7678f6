package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-forum/internal/config"
	"github.com/noah-isme/gema-forum/pkg/forumclient"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

var rootCmd = &cobra.Command{
	Use:   "forumctl",
	Short: "Terminal client for the GEMA course forum",
	Long: `forumctl talks to a GEMA forum server. It lists and opens discussion threads,
joins the live course chat and asks the study assistant.

Connection settings come from GEMA_FORUM_URL, GEMA_FORUM_TOKEN, GEMA_FORUM_COURSE_ID
and GEMA_FORUM_USER_ID (or a .env file). Flags override the environment.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("course", "c", "", "course id (overrides GEMA_FORUM_COURSE_ID)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}

// clientEnv resolves the client configuration and a logger for a command.
func clientEnv(cmd *cobra.Command) (config.ClientConfig, zerolog.Logger, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return config.ClientConfig{}, zerolog.Nop(), err
	}
	if course, _ := cmd.Flags().GetString("course"); course != "" {
		cfg.CourseID = course
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if cfg.CourseID == "" {
		return config.ClientConfig{}, zerolog.Nop(), fmt.Errorf("course id is required (--course or GEMA_FORUM_COURSE_ID)")
	}

	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	return cfg, logger, nil
}

func apiClient(cfg config.ClientConfig) *forumclient.APIClient {
	return forumclient.NewAPIClient(cfg.BaseURL, cfg.Token, nil)
}

func currentUser(cfg config.ClientConfig) realtime.UserRef {
	name := cfg.UserName
	if name == "" {
		name = cfg.UserID
	}
	return realtime.UserRef{ID: cfg.UserID, Name: name, AvatarURL: cfg.UserAvatar}
}
