package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-forum/pkg/forumclient"
	"github.com/noah-isme/gema-forum/pkg/realtime"
)

const chatHelp = `commands:
  /dm <user-id> [message]   invite a classmate to a private chat
  /accept <room-id>         accept an invitation
  /decline <room-id>        decline an invitation
  /group                    switch back to the course chat
  /ask <question>           ask the study assistant
  /quit                     leave`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the live chat of a course",
	Long:  "Join the live chat of a course. Lines typed on stdin are sent to the open chat panel.\n\n" + chatHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := clientEnv(cmd)
		if err != nil {
			return err
		}
		if cfg.UserID == "" {
			return fmt.Errorf("user id is required (GEMA_FORUM_USER_ID)")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printer := &transcriptPrinter{out: cmd.OutOrStdout(), self: cfg.UserID, seen: map[string]struct{}{}}
		view, err := forumclient.Mount(ctx, forumclient.Options{
			RealtimeURL: cfg.RealtimeURL(),
			CourseID:    cfg.CourseID,
			User:        currentUser(cfg),
			API:         apiClient(cfg),
			Logger:      logger,
			OnChange:    printer.print,
		})
		if err != nil {
			return err
		}
		defer view.Close()

		if err := view.OpenPanel(ctx, forumclient.PanelGroupChat); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), chatHelp)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-view.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				quit, err := runChatLine(ctx, view, line)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
				if quit {
					return nil
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChatLine(ctx context.Context, view *forumclient.Controller, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		state, err := view.State(ctx)
		if err != nil {
			return false, err
		}
		if state.ActiveP2P != nil {
			return false, view.SendP2PMessage(ctx, line)
		}
		return false, view.SendGroupMessage(ctx, line)
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/quit":
		return true, nil
	case "/group":
		return false, view.OpenPanel(ctx, forumclient.PanelGroupChat)
	case "/dm":
		target, message, _ := strings.Cut(rest, " ")
		if target == "" {
			return false, fmt.Errorf("usage: /dm <user-id> [message]")
		}
		_, err := view.StartP2P(ctx, realtime.UserRef{ID: target, Name: target}, strings.TrimSpace(message))
		return false, err
	case "/accept":
		return false, view.AcceptInvitation(ctx, rest)
	case "/decline":
		return false, view.DeclineInvitation(ctx, rest)
	case "/ask":
		_, err := view.AskAssistant(ctx, rest)
		return false, err
	}
	return false, fmt.Errorf("unknown command %s", command)
}

// transcriptPrinter writes entries it has not printed before. It runs on the view loop.
type transcriptPrinter struct {
	out  io.Writer
	self string
	seen map[string]struct{}
}

func (p *transcriptPrinter) once(key string) bool {
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	return true
}

func (p *transcriptPrinter) print(state forumclient.ViewState) {
	for _, msg := range state.GroupMessages {
		if !p.once("group:"+msg.ID) || (msg.User != nil && msg.User.ID == p.self) {
			continue
		}
		if msg.User == nil {
			fmt.Fprintf(p.out, "* %s\n", msg.Text)
			continue
		}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", msg.SentAt.Local().Format("15:04"), msg.User.Name, msg.Text)
	}
	for _, msg := range state.P2PMessages {
		if !p.once("p2p:"+msg.ID) || msg.User.ID == p.self {
			continue
		}
		fmt.Fprintf(p.out, "[private %s] %s: %s\n", msg.SentAt.Local().Format("15:04"), msg.User.Name, msg.Text)
	}
	for _, invite := range state.Invitations {
		if p.once("invite:" + invite.RoomID + invite.ReceivedAt.String()) {
			fmt.Fprintf(p.out, "! %s wants to chat privately: /accept %s\n", invite.From.Name, invite.RoomID)
		}
	}
	for _, entry := range state.Assistant {
		if entry.Role != realtime.RoleAssistant || !p.once("assistant:"+entry.At.String()) {
			continue
		}
		fmt.Fprintf(p.out, "assistant: %s\n", entry.Content)
	}
	for _, notice := range state.Notices {
		if p.once("notice:" + notice.Text + notice.At.String()) {
			fmt.Fprintf(p.out, "(%s) %s\n", notice.Level, notice.Text)
		}
	}
}
