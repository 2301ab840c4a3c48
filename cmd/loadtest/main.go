package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"termchat/internal/chat"
	"termchat/internal/credentials"
	"termchat/internal/session"
)

var (
	baseURL   = flag.String("server", "http://localhost:8000", "HTTP API base URL")
	wsURL     = flag.String("stream", "ws://localhost:8000/ws", "websocket URL")
	pairCount = flag.Int("pairs", 50, "number of user pairs")
	msgCount  = flag.Int("messages", 20, "messages per user")
	parallel  = flag.Int("parallel", 100, "pairs running at once")
	wait      = flag.Duration("wait", 10*time.Second, "how long to wait for deliveries")
)

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
}

func main() {
	flag.Parse()
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *pairCount*2, *msgCount)

	ctx := context.Background()
	st := &stats{}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)

	// Pairs: user 0a talks to 0b, 1a to 1b...
	for i := 0; i < *pairCount; i++ {
		pairID := i
		g.Go(func() error {
			if err := runPair(ctx, pairID, st); err != nil {
				log.Printf("❌ Pair %d: %v", pairID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	expected := int64(*pairCount * *msgCount * 2 * 2) // every message reaches both members
	log.Printf("✅ LOAD TEST COMPLETE in %s: sent %d, received %d of %d expected",
		time.Since(start).Round(time.Millisecond), st.sent.Load(), st.received.Load(), expected)
}

func newClient() *session.Client {
	return session.New(session.Options{BaseURL: *baseURL, StreamURL: *wsURL}, credentials.NewMemory(), zap.NewNop(), nil)
}

func runPair(ctx context.Context, pairID int, st *stats) error {
	runID := time.Now().UnixNano() % 1_000_000
	userA := fmt.Sprintf("u_%d_%d_a", runID, pairID)
	userB := fmt.Sprintf("u_%d_%d_b", runID, pairID)
	pass := "password123"

	a, b := newClient(), newClient()
	defer a.Close()
	defer b.Close()

	if _, err := authenticate(ctx, a, userA, pass); err != nil {
		return err
	}
	idB, err := authenticate(ctx, b, userB, pass)
	if err != nil {
		return err
	}

	// A starts the conversation with B.
	record, err := a.CreateChat(ctx, chat.NewChatRecord{MemberIDs: []string{idB}})
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range []struct {
		client *session.Client
		name   string
	}{{a, userA}, {b, userB}} {
		g.Go(func() error { return spamChat(ctx, c.client, *record.ID, c.name, st) })
		g.Go(func() error { return drain(ctx, c.client, st) })
	}
	return g.Wait()
}

// authenticate registers and falls back to login when the user exists.
func authenticate(ctx context.Context, c *session.Client, username, password string) (string, error) {
	id, err := c.Register(ctx, username, password)
	if err == nil {
		return id, nil
	}
	id, err = c.Login(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("login %s: %s", username, session.Message(err))
	}
	return id, nil
}

func spamChat(ctx context.Context, c *session.Client, chatID int, user string, st *stats) error {
	for i := 0; i < *msgCount; i++ {
		msg := chat.OutgoingMessage{ChatID: chatID, Text: fmt.Sprintf("LoadTest Msg %d from %s", i, user)}
		if err := c.SendMessage(msg); err != nil {
			return fmt.Errorf("send [%s]: %w", user, err)
		}
		st.sent.Add(1)
		// Small sleep to simulate a real network.
		select {
		case <-time.After(10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	log.Printf("✅ %s finished sending %d msgs", user, *msgCount)
	return nil
}

// drain counts deliveries until every expected message arrived or wait passes.
func drain(ctx context.Context, c *session.Client, st *stats) error {
	deadline := time.Now().Add(*wait)
	got := 0
	for got < *msgCount*2 && time.Now().Before(deadline) {
		_, ok, err := c.ReceiveMessage()
		if errors.Is(err, session.ErrStreamClosed) {
			return err
		}
		if !ok {
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		got++
		st.received.Add(1)
	}
	return nil
}
