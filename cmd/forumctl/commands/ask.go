package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the study assistant a one-off question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := clientEnv(cmd)
		if err != nil {
			return err
		}
		reply, err := apiClient(cfg).Ask(cmd.Context(), realtime.AssistantQuery{Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n(confidence %.0f%%)\n", reply.Message, reply.Confidence*100)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
