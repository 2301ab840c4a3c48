package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"termchat/internal/app"
	"termchat/internal/chat"
	"termchat/internal/session"
)

const help = `Commands:
  /list              show chats (search results while searching)
  /next, /prev       move the selection
  /open [n]          open the selected chat, or the n-th listed
  /search <query>    search chats and users; /search alone clears
  /history           show the open chat
  /close             close the open chat
  /quit              exit
Anything else is sent to the open chat.`

// repl is the single owner of the chat state: input lines, ticks and
// inbound messages are all handled on its goroutine.
type repl struct {
	svc     *app.Service
	conn    app.Connector
	policy  app.ReconnectPolicy
	tick    time.Duration
	timeout time.Duration
	out     io.Writer
	log     *zap.Logger
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	fmt.Fprintln(r.out, help)
	printChats(r.out, r.svc.Chats())

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := r.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				if errors.Is(err, session.ErrUnauthenticated) {
					return errors.New("session expired, log in again")
				}
				fmt.Fprintf(r.out, "! %s\n", session.Message(err))
			}
			if quit {
				return nil
			}

		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// drain applies every queued inbound message.
func (r *repl) drain(ctx context.Context) error {
	for {
		applied, err := r.svc.Poll(ctx)
		switch {
		case err == nil && !applied:
			return nil
		case err == nil:
			r.showLatest()
		case errors.Is(err, session.ErrStreamClosed):
			fmt.Fprintln(r.out, "! connection lost, reconnecting")
			if err := app.Reconnect(ctx, r.conn, r.policy, r.log); err != nil {
				return fmt.Errorf("reconnect: %s", session.Message(err))
			}
			fmt.Fprintln(r.out, "! reconnected")
			return nil
		case errors.Is(err, session.ErrUnauthenticated):
			return errors.New("session expired, log in again")
		default:
			r.log.Warn("inbound message dropped", zap.Error(err))
			return nil
		}
	}
}

func (r *repl) showLatest() {
	chats := r.svc.Chats()
	if chats.Searching() {
		return
	}
	top := chats.ActiveChats()
	// AddMessage moved the chat that got the message to the top.
	if len(top) == 0 || top[0].LastMessage == nil {
		return
	}
	c := top[0]
	loaded, ok := chats.LoadedChat()
	if ok && loaded.InternalID == c.InternalID {
		printMessage(r.out, *c.LastMessage)
		return
	}
	fmt.Fprintf(r.out, "* %s (%d unread): %s\n", c.Name, c.UnreadCount, c.LastMessage.Text)
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	chats := r.svc.Chats()
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, help)
	case "/list":
		printChats(r.out, chats)
	case "/next":
		chats.SelectNext()
		printChats(r.out, chats)
	case "/prev":
		chats.SelectPrevious()
		printChats(r.out, chats)
	case "/search":
		if err := r.svc.Search(ctx, arg); err != nil {
			return false, err
		}
		printChats(r.out, chats)
	case "/open":
		id, err := r.pick(arg)
		if err != nil {
			return false, err
		}
		if err := r.svc.Open(ctx, id); err != nil {
			return false, err
		}
		r.history()
	case "/history":
		r.history()
	case "/close":
		chats.UnloadChat()
	default:
		if strings.HasPrefix(cmd, "/") {
			return false, fmt.Errorf("unknown command %s", cmd)
		}
		if err := r.svc.Send(ctx, line); err != nil {
			return false, err
		}
	}
	return false, nil
}

// pick resolves the /open argument to an internal id.
func (r *repl) pick(arg string) (string, error) {
	chats := r.svc.Chats()
	if arg == "" {
		c, ok := chats.SelectedChat()
		if !ok {
			return "", errors.New("nothing selected, use /next or /open <n>")
		}
		return c.InternalID, nil
	}
	n, err := strconv.Atoi(arg)
	listed := chats.ActiveChats()
	if err != nil || n < 1 || n > len(listed) {
		return "", fmt.Errorf("no chat %q", arg)
	}
	id := listed[n-1].InternalID
	chats.SelectChat(id)
	return id, nil
}

func (r *repl) history() {
	chats := r.svc.Chats()
	c, ok := chats.LoadedChat()
	if !ok {
		fmt.Fprintln(r.out, "no chat open")
		return
	}
	fmt.Fprintf(r.out, "── %s ──\n", c.Name)
	if !c.Created() {
		fmt.Fprintln(r.out, "(new chat, your first message creates it)")
		return
	}
	for _, m := range chats.Messages(c.InternalID) {
		printMessage(r.out, m)
	}
}

func printChats(out io.Writer, chats *chat.Manager) {
	listed := chats.ActiveChats()
	if chats.Searching() {
		fmt.Fprintln(out, "Search results:")
	}
	if len(listed) == 0 {
		fmt.Fprintln(out, "(no chats)")
		return
	}
	selected, _ := chats.SelectedChat()
	for i, c := range listed {
		marker := " "
		if c.InternalID == selected.InternalID {
			marker = ">"
		}
		line := fmt.Sprintf("%s %2d. %s", marker, i+1, c.Name)
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d)", c.UnreadCount)
		}
		if !c.Created() {
			line += " [new]"
		} else if c.LastMessage != nil {
			line += ": " + c.LastMessage.Text
		}
		fmt.Fprintln(out, line)
	}
}

func printMessage(out io.Writer, m chat.Message) {
	ts := time.Unix(0, int64(m.CreatedAt*float64(time.Second))).Format("15:04")
	fmt.Fprintf(out, "[%s] %s: %s\n", ts, m.SenderUsername, m.Text)
}
