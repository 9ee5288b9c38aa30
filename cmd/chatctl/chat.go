package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"playmate-chat/client"
	"playmate-chat/models"
)

var (
	jsonOutput    bool
	historyLimit  int
	historyBefore string
)

func init() {
	rootCmd.AddCommand(conversationsCmd, startCmd, historyCmd, sendCmd, listenCmd, meCmd)

	conversationsCmd.Flags().BoolVar(&jsonOutput, "json", false, "output raw JSON")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "output raw JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", client.DefaultPageSize, "messages per page")
	historyCmd.Flags().StringVar(&historyBefore, "before", "", "message id cursor; only older messages are returned")
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := requestContext()
		defer cancel()
		me, err := s.api.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", displayName(*me), me.ID)
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, newest activity first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := requestContext()
		defer cancel()
		list, err := s.api.Conversations(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, e := range list {
			unread := ""
			if e.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d unread]", e.UnreadCount)
			}
			fmt.Printf("%s  %-20s %s%s\n", e.Conversation.ID, displayName(e.OtherParticipant), preview(e.LastMessage), unread)
		}
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Open the conversation with another user, creating it if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := requestContext()
		defer cancel()
		conv, err := s.api.StartConversation(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(conv.ID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print a page of messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := requestContext()
		defer cancel()
		page, err := s.api.History(ctx, args[0], historyLimit, historyBefore)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(page)
		}
		self, err := s.userID(ctx)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			printMessage(os.Stdout, m, self)
		}
		if page.HasMore && len(page.Messages) > 0 {
			fmt.Printf("-- older messages: chatctl history %s --before %s\n", args[0], page.Messages[0].ID)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message over the realtime connection, falling back to REST",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, cancel := requestContext()
		defer cancel()
		if err := s.rt.Connect(ctx); err != nil {
			s.log.Warn("realtime unavailable, sending over REST")
		}

		self, err := s.userID(ctx)
		if err != nil {
			return err
		}
		engine := client.NewSyncEngine(s.api, s.rt, self, client.SyncOptions{Logger: s.log})
		sender := client.NewSender(s.rt, s.api, engine, client.WithSenderLogger(s.log))

		draft := &client.Draft{}
		draft.Set(strings.Join(args[1:], " "))
		res, err := sender.Send(ctx, args[0], draft)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s via %s\n", res.Message.ID, res.Via)
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen <conversation-id>",
	Short: "Follow a conversation live; lines typed on stdin are sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID := args[0]
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		self, err := s.userID(ctx)
		if err != nil {
			return err
		}
		if err := s.rt.Connect(ctx); err != nil {
			return err
		}
		engine := client.NewSyncEngine(s.api, s.rt, self, client.SyncOptions{Logger: s.log})
		sender := client.NewSender(s.rt, s.api, engine, client.WithSenderLogger(s.log))

		msgs, err := engine.OpenConversation(ctx, convID)
		if err != nil {
			return err
		}
		// OnChange fires from the read goroutine and from local sends
		var mu sync.Mutex
		printed := make(map[string]bool, len(msgs))
		for _, m := range msgs {
			printMessage(os.Stdout, m, self)
			printed[m.ID] = true
		}

		wasTyping := false
		engine.OnChange(func(id string) {
			if id != convID {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, m := range engine.Messages(convID) {
				if !printed[m.ID] {
					printed[m.ID] = true
					printMessage(os.Stdout, m, self)
				}
			}
			if typing := engine.IsTyping(convID); typing != wasTyping {
				wasTyping = typing
				if typing {
					fmt.Println("... typing")
				}
			}
		})
		s.rt.OnStateChange(func(st client.State) {
			if st != client.StateConnected {
				fmt.Fprintf(os.Stderr, "(%s)\n", st)
			}
		})

		lines := make(chan string)
		go readLines(lines)

		draft := &client.Draft{}
		for {
			select {
			case <-ctx.Done():
				return engine.CloseConversation(context.Background(), convID)
			case line, ok := <-lines:
				if !ok {
					return engine.CloseConversation(context.Background(), convID)
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				draft.Set(line)
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err := sender.Send(sendCtx, convID, draft)
				cancel()
				if err != nil {
					fmt.Fprintf(os.Stderr, "not sent: %v\n", err)
				}
			}
		}
	},
}

func readLines(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 4096), 4*models.MaxContentLength)
	for sc.Scan() {
		out <- sc.Text()
	}
}
