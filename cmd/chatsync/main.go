package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatsync/internal/app"
	"chatsync/internal/domain"
	"chatsync/internal/notifications"
	"chatsync/internal/platform"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run chatsync", "error", err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "print version and exit")
	headless := flag.Bool("headless", false, "disable desktop notifications")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())
		return nil
	}

	lock, err := platform.AcquireInstanceLock(app.Name)
	if err != nil {
		if errors.Is(err, platform.ErrInstanceAlreadyRunning) {
			return fmt.Errorf("another %s instance is already running", app.Name)
		}
		if !errors.Is(err, platform.ErrInstanceLockUnsupported) {
			return fmt.Errorf("acquire instance lock: %w", err)
		}
	}
	if lock != nil {
		defer func() {
			_ = lock.Release()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sender notifications.Sender = notifications.NopSender{}
	if !*headless {
		sender = notifications.NewDesktopSender(app.Name, nil)
	}

	rt, err := app.Initialize(ctx, sender)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	if err := rt.Messenger.RefreshConversations(ctx, 1); err != nil {
		slog.Warn("initial conversation refresh failed", "error", err)
	}

	go printChanges(ctx, rt)

	fmt.Println("commands: /ls, /open <id>, /more, /read, /react <msg> <emoji>, /retry <msg>, /quit; anything else sends to the open conversation")
	return repl(ctx, rt)
}

func repl(ctx context.Context, rt *app.Runtime) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendMessage(ctx, rt, line)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return nil
		case "/ls":
			listConversations(rt)
		case "/open":
			if len(fields) < 2 {
				fmt.Println("usage: /open <conversation-id>")
				continue
			}
			if err := rt.Messenger.SetActiveConversation(ctx, fields[1]); err != nil {
				fmt.Println("open failed:", err)
			}
		case "/more":
			conv := rt.Store.ActiveConversation()
			if conv == "" {
				fmt.Println("no open conversation")
				continue
			}
			if err := rt.Messenger.LoadMoreMessages(ctx, conv); err != nil {
				fmt.Println("load more failed:", err)
			}
		case "/read":
			conv := rt.Store.ActiveConversation()
			if conv == "" {
				fmt.Println("no open conversation")
				continue
			}
			rt.Messenger.MarkConversationRead(conv)
		case "/react":
			if len(fields) < 3 {
				fmt.Println("usage: /react <message-id> <emoji>")
				continue
			}
			conv := rt.Store.ActiveConversation()
			if err := rt.Messenger.AddReaction(ctx, conv, fields[1], fields[2]); err != nil {
				fmt.Println("react failed:", err)
			}
		case "/retry":
			if len(fields) < 2 {
				fmt.Println("usage: /retry <message-id>")
				continue
			}
			if err := rt.Messenger.Retry(fields[1]); err != nil {
				fmt.Println("retry failed:", err)
			}
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
	return scanner.Err()
}

func sendMessage(ctx context.Context, rt *app.Runtime, text string) {
	conv := rt.Store.ActiveConversation()
	if conv == "" {
		fmt.Println("open a conversation first: /open <id>")
		return
	}
	rt.Messenger.StopTyping(conv)
	if _, err := rt.Messenger.SendMessage(ctx, conv, text, nil); err != nil {
		fmt.Println("send failed:", err)
	}
}

func listConversations(rt *app.Runtime) {
	convs := rt.Store.Conversations()
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, conv := range convs {
		line := conv.ID
		if conv.UnreadCount > 0 {
			line = fmt.Sprintf("%s (%d unread)", line, conv.UnreadCount)
		}
		if conv.LastMessage != nil {
			line = fmt.Sprintf("%s - %s", line, previewText(conv.LastMessage.Content))
		}
		fmt.Println(line)
	}
}

// printChanges tails the store's coalesced change signal and reprints the
// open conversation.
func printChanges(ctx context.Context, rt *app.Runtime) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.Store.Changes():
		}

		conv := rt.Store.ActiveConversation()
		if conv == "" {
			continue
		}
		msgs := rt.Store.Messages(conv)
		if len(msgs) == 0 {
			continue
		}
		latest := msgs[0]
		fmt.Printf("[%s] %s: %s (%s)\n",
			latest.CreatedAt.Format("15:04:05"),
			senderLabel(latest, rt.Store.SelfID()),
			previewText(latest.Content),
			latest.Status,
		)
		for _, ind := range rt.Store.TypingIndicators(conv) {
			fmt.Printf("%s is typing...\n", ind.Username)
		}
	}
}

func senderLabel(msg domain.Message, selfID string) string {
	if msg.SenderID == selfID {
		return "me"
	}
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.SenderID
}

func previewText(text string) string {
	const maxPreviewLen = 80
	text = strings.TrimSpace(text)
	if len(text) > maxPreviewLen {
		return text[:maxPreviewLen] + "..."
	}
	return text
}
