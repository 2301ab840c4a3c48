package app_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"termchat/internal/app"
	"termchat/internal/chat"
	"termchat/internal/credentials"
	"termchat/internal/server"
	"termchat/internal/session"
)

type backend struct {
	url string
	reg *prometheus.Registry
}

func startBackend(t *testing.T) *backend {
	t.Helper()
	logger := zap.NewNop()
	store := server.NewMemoryStore()
	issuer := server.NewIssuer("integration", time.Minute, time.Hour)
	reg := prometheus.NewRegistry()
	hub := server.NewHub(store, server.NewLocalBroker(), logger, reg)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	h := server.NewHandler(store, issuer, hub, bcrypt.MinCost, logger)
	srv := httptest.NewServer(server.NewRouter(h, server.NewAuthMiddleware(issuer), reg, logger))
	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return &backend{url: srv.URL, reg: reg}
}

// connections reads the hub's connection gauge from the registry.
func (b *backend) connections() float64 {
	families, err := b.reg.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() == "termchat_server_connections" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func (b *backend) signUp(t *testing.T, username string) (*app.Service, *session.Client) {
	t.Helper()
	c := session.New(session.Options{
		BaseURL:   b.url,
		StreamURL: "ws" + strings.TrimPrefix(b.url, "http") + "/ws",
	}, credentials.NewMemory(), zap.NewNop(), nil)
	t.Cleanup(c.Close)

	_, err := c.Register(t.Context(), username, "password123")
	require.NoError(t, err)
	me, ok := c.CurrentUser()
	require.True(t, ok)
	return app.NewService(c, me, nil), c
}

// pollOne waits until svc applies an inbound message.
func pollOne(t *testing.T, svc *app.Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		applied, err := svc.Poll(t.Context())
		require.NoError(t, err)
		if applied {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no message arrived")
}

func texts(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func TestConversationBetweenTwoClients(t *testing.T) {
	b := startBackend(t)
	alice, _ := b.signUp(t, "alice")
	bob, _ := b.signUp(t, "bob")
	require.Eventually(t, func() bool { return b.connections() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.LoadChats(t.Context()))
	require.NoError(t, bob.LoadChats(t.Context()))
	assert.Empty(t, alice.Chats().ActiveChats())

	// Alice finds bob and writes first; the chat is created by that message.
	require.NoError(t, alice.Search(t.Context(), "bob"))
	results := alice.Chats().ActiveChats()
	require.Len(t, results, 1)
	require.False(t, results[0].Created())
	require.NoError(t, alice.Open(t.Context(), results[0].InternalID))
	require.NoError(t, alice.Send(t.Context(), "hi bob"))

	opened, ok := alice.Chats().LoadedChat()
	require.True(t, ok)
	require.True(t, opened.Created())
	id := opened.InternalID

	// Bob hears of the chat through the stream and pulls it in.
	pollOne(t, bob)
	require.True(t, bob.Chats().HasChat(id))
	assert.Equal(t, "alice", bob.Chats().Chat(id).Name)
	assert.Equal(t, uint(1), bob.Chats().Chat(id).UnreadCount)
	assert.Equal(t, []string{"hi bob"}, texts(bob.Chats().Messages(id)))

	// Alice's own message comes back as an echo.
	pollOne(t, alice)
	assert.Equal(t, []string{"hi bob"}, texts(alice.Chats().Messages(id)))
	assert.Equal(t, uint(0), alice.Chats().Chat(id).UnreadCount)

	require.NoError(t, bob.Open(t.Context(), id))
	assert.Equal(t, uint(0), bob.Chats().Chat(id).UnreadCount)
	require.NoError(t, bob.Send(t.Context(), "hey alice"))

	pollOne(t, alice)
	pollOne(t, bob)
	assert.Equal(t, []string{"hi bob", "hey alice"}, texts(alice.Chats().Messages(id)))
	assert.Equal(t, []string{"hi bob", "hey alice"}, texts(bob.Chats().Messages(id)))
	assert.Equal(t, uint(0), alice.Chats().Chat(id).UnreadCount)
	assert.Equal(t, "hey alice", alice.Chats().Chat(id).LastMessage.Text)
}

func TestReloadAfterConversationCountsUnread(t *testing.T) {
	b := startBackend(t)
	alice, _ := b.signUp(t, "alice")
	_, bobClient := b.signUp(t, "bob")
	require.Eventually(t, func() bool { return b.connections() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.LoadChats(t.Context()))
	require.NoError(t, alice.Search(t.Context(), "bob"))
	require.NoError(t, alice.Open(t.Context(), alice.Chats().ActiveChats()[0].InternalID))
	require.NoError(t, alice.Send(t.Context(), "one"))
	pollOne(t, alice)
	require.NoError(t, alice.Send(t.Context(), "two"))
	pollOne(t, alice)

	// A fresh service for bob loads the history without double counting.
	me, _ := bobClient.CurrentUser()
	reloaded := app.NewService(bobClient, me, nil)
	require.NoError(t, reloaded.LoadChats(t.Context()))

	chats := reloaded.Chats().ActiveChats()
	require.Len(t, chats, 1)
	assert.Equal(t, uint(2), chats[0].UnreadCount)
	assert.Equal(t, []string{"one", "two"}, texts(reloaded.Chats().Messages(chats[0].InternalID)))
}
