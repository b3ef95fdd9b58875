// Command chat is a terminal client for a chatline server. It logs in over
// HTTP, keeps a reconnecting WebSocket up, and sends messages optimistically
// the way the browser client does.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/avdeyev/chatline/client"
	"github.com/avdeyev/chatline/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username")
	pass := flag.String("pass", "", "password")
	channel := flag.Int64("channel", 1, "channel to watch")
	flag.Parse()

	if *user == "" || *pass == "" {
		return fmt.Errorf("both -user and -pass are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := login(ctx, *server, *user, *pass)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws"
	mgr := client.NewManager(client.Options{URL: wsURL, Token: token})
	rec := client.NewReconciler()
	rec.Watch(*channel, nil)
	rec.OnTyping(func(channelID, userID int64) {
		fmt.Printf("  (user %d is typing in channel %d)\n", userID, channelID)
	})
	rec.OnSendError(func(tag, code, msg string) {
		fmt.Printf("  send failed (%s): %s\n", code, msg)
	})

	unsubscribe := mgr.Subscribe(func(f proto.Frame) {
		rec.ApplyFrame(f)
		if f.Type == proto.FrameNewMessage && f.Message != nil && f.Message.ChannelID == *channel {
			fmt.Printf("[#%d] user %d: %s\n", f.Message.ChannelID, f.Message.AuthorID, f.Message.Content)
		}
	})
	defer unsubscribe()

	mgr.Start(ctx)
	defer mgr.Close()

	fmt.Printf("Connected to %s, watching channel %d\n", *server, *channel)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			tag := rec.AppendLocal(*channel, nil, 0, line)
			if !mgr.Send(ctx, proto.ChatEvent{ChannelID: *channel, Content: line, ClientTag: tag}) {
				rec.Rollback(tag)
				fmt.Println("  not connected, message dropped")
			}
		}
	}
}

func login(ctx context.Context, server, user, pass string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": user, "password": pass})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	return auth.Token, nil
}
