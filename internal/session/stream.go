package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"termchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a frame to the server.
	pongWait       = 90 * time.Second // The server pings well within this window.
	maxFrameSize   = 64 * 1024
	frameQueueSize = 256
)

type frame struct {
	kind int
	data []byte
	err  error
}

// stream is one websocket connection plus the read pump feeding frames.
type stream struct {
	conn    *websocket.Conn
	frames  chan frame
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{
		conn:   conn,
		frames: make(chan frame, frameQueueSize),
		done:   make(chan struct{}),
	}
}

// readPump moves frames from the connection to the queue until the
// connection fails or the stream is closed locally.
func (s *stream) readPump() {
	defer close(s.frames)

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.frames <- frame{err: err}:
			case <-s.done:
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case s.frames <- frame{kind: kind, data: data}:
		case <-s.done:
			return
		}
	}
}

func (s *stream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// close sends a normal close frame (best effort) and tears the connection down.
func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
	})
}

// ConnectMessageStream dials the websocket with the bearer token. A 401
// handshake gets one refresh and one redial; a second rejection
// de-authenticates. Any other failure is returned as KindTransport.
func (c *Client) ConnectMessageStream(ctx context.Context) error {
	mayReauthenticate := true
	for {
		tokens, ok := c.Tokens()
		if !ok {
			return ErrUnauthenticated
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+tokens.AccessToken)

		conn, resp, err := c.dialer.DialContext(ctx, c.opts.StreamURL, header)
		if err == nil {
			c.metrics.ObserveConnect("ok")
			c.attach(conn)
			c.log.Info("message stream connected", zap.String("url", c.opts.StreamURL))
			return nil
		}

		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			c.metrics.ObserveConnect("error")
			return transportError("failed to connect message stream", err)
		}
		c.metrics.ObserveConnect("unauthorized")

		if !mayReauthenticate {
			c.log.Warn("stream handshake still unauthorized after refresh")
			c.deauthenticate()
			return ErrUnauthenticated
		}
		mayReauthenticate = false

		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	s := newStream(conn)

	c.mu.Lock()
	prev := c.stream
	c.stream = s
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	go s.readPump()
}

func (c *Client) currentStream() *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		return nil
	}
	return c.stream
}

func (c *Client) dropStream(s *stream) {
	c.mu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.mu.Unlock()
	s.close()
}

// StreamConnected reports whether a message stream is attached.
func (c *Client) StreamConnected() bool {
	return c.currentStream() != nil
}

// SendMessage writes one message frame. The stream is trusted once
// connected; a failed write is returned for the caller to treat as fatal.
func (c *Client) SendMessage(msg chat.OutgoingMessage) error {
	s := c.currentStream()
	if s == nil {
		return transportError("message stream is not connected", nil)
	}
	if err := s.write(msg); err != nil {
		return transportError("failed to send message", err)
	}
	c.metrics.ObserveFrame("out", "text")
	return nil
}

// ReceiveMessage never blocks. It returns ok=false when no frame is queued,
// or when there is no session or stream. Ping/pong never reach it. A close
// (or read failure) drops the stream and returns ErrStreamClosed; binary and
// malformed frames return KindData.
func (c *Client) ReceiveMessage() (chat.MessageRecord, bool, error) {
	s := c.currentStream()
	if s == nil {
		return chat.MessageRecord{}, false, nil
	}

	select {
	case f, open := <-s.frames:
		if !open {
			c.dropStream(s)
			return chat.MessageRecord{}, false, ErrStreamClosed
		}
		return c.decodeFrame(s, f)
	default:
		return chat.MessageRecord{}, false, nil
	}
}

func (c *Client) decodeFrame(s *stream, f frame) (chat.MessageRecord, bool, error) {
	if f.err != nil {
		c.dropStream(s)
		var closeErr *websocket.CloseError
		if errors.As(f.err, &closeErr) {
			c.metrics.ObserveFrame("in", "close")
			c.log.Info("message stream closed by server", zap.Int("code", closeErr.Code), zap.String("reason", closeErr.Text))
			return chat.MessageRecord{}, false, &Error{
				Kind:    KindStreamClosed,
				Message: fmt.Sprintf("message stream closed by server (code %d)", closeErr.Code),
				Cause:   f.err,
			}
		}
		c.log.Warn("message stream read failed", zap.Error(f.err))
		return chat.MessageRecord{}, false, &Error{Kind: KindStreamClosed, Message: "message stream read failed", Cause: f.err}
	}

	switch f.kind {
	case websocket.TextMessage:
		c.metrics.ObserveFrame("in", "text")
		var record chat.MessageRecord
		if err := json.Unmarshal(f.data, &record); err != nil {
			c.log.Warn("malformed message frame", zap.ByteString("frame", f.data), zap.Error(err))
			return chat.MessageRecord{}, false, dataError("malformed message frame", err)
		}
		return record, true, nil
	default:
		c.metrics.ObserveFrame("in", "binary")
		c.log.Warn("unsupported binary frame", zap.Int("bytes", len(f.data)))
		return chat.MessageRecord{}, false, dataError("unsupported binary frame", nil)
	}
}

// Close shuts the message stream down but keeps the session.
func (c *Client) Close() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
}
