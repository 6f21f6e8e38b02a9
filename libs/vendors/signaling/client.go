package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacky-htg/webcall/libs/interfaces"
	"github.com/rs/zerolog"
)

// Frame is one JSON message on the signaling socket.
type Frame struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
}

// Client is a websocket RuntimeClient. The server authorizes the socket with
// the access token and reports call progress as Frames.
//
// Once StopCall returns, or once call_ended or error has been delivered, the
// call emits nothing further and a new StartCall may begin.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu  sync.Mutex
	cur *call

	hmu      sync.RWMutex
	handlers map[interfaces.RuntimeEvent][]func(error)
}

// call is one signaling connection. stopped and dispatching are guarded by Client.mu.
type call struct {
	conn        *websocket.Conn
	done        chan struct{}
	stopped     bool
	dispatching bool
}

var _ interfaces.RuntimeClient = (*Client)(nil)

// New creates a client for the signaling endpoint at rawURL (ws, wss, http or https).
func New(rawURL string, logger zerolog.Logger) *Client {
	return &Client{
		url:      rawURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger.With().Str("component", "signaling").Logger(),
		handlers: make(map[interfaces.RuntimeEvent][]func(error)),
	}
}

// On registers handler for event.
func (c *Client) On(event interfaces.RuntimeEvent, handler func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *Client) emit(event interfaces.RuntimeEvent, err error) {
	c.hmu.RLock()
	handlers := slices.Clone(c.handlers[event])
	c.hmu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

// StartCall dials the signaling server with accessToken and returns once the
// socket is open. Call progress arrives through the registered handlers.
func (c *Client) StartCall(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return errors.New("access token required")
	}
	wsURL, err := c.dialURL(accessToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return errors.New("call already in progress")
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	cl := &call{conn: conn, done: make(chan struct{})}
	c.cur = cl

	c.logger.Debug().Str("url", c.url).Msg("signaling connected")
	go c.readLoop(cl)
	return nil
}

// StopCall closes the socket, waits for the read loop to exit and reports
// call_ended. Called from inside an event handler it does not wait, since
// the handler runs on the read loop.
func (c *Client) StopCall() error {
	c.mu.Lock()
	cl := c.cur
	if cl == nil {
		c.mu.Unlock()
		return nil
	}
	cl.stopped = true
	c.cur = nil
	inHandler := cl.dispatching
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hangup")
	err := cl.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cl.conn.Close()
	if !inHandler {
		<-cl.done
	}
	c.emit(interfaces.RuntimeCallEnded, nil)

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("send close: %w", err)
	}
	return nil
}

func (c *Client) readLoop(cl *call) {
	defer close(cl.done)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.terminate(cl, interfaces.RuntimeCallEnded, nil)
				return
			}
			c.terminate(cl, interfaces.RuntimeError, fmt.Errorf("signaling connection lost: %w", err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn().Err(err).Msg("undecodable signaling frame")
			continue
		}

		switch interfaces.RuntimeEvent(f.Event) {
		case interfaces.RuntimeCallStarted:
			if !c.dispatch(cl, interfaces.RuntimeCallStarted, nil) {
				return
			}
		case interfaces.RuntimeCallEnded:
			c.terminate(cl, interfaces.RuntimeCallEnded, nil)
			return
		case interfaces.RuntimeError:
			msg := f.Message
			if msg == "" {
				msg = "unknown signaling error"
			}
			c.terminate(cl, interfaces.RuntimeError, errors.New(msg))
			return
		default:
			c.logger.Debug().Str("event", f.Event).Msg("ignoring signaling frame")
		}
	}
}

// dispatch emits a non-terminal event unless the call was stopped. It
// reports whether the call is still live.
func (c *Client) dispatch(cl *call, event interfaces.RuntimeEvent, err error) bool {
	c.mu.Lock()
	if cl.stopped {
		c.mu.Unlock()
		return false
	}
	cl.dispatching = true
	c.mu.Unlock()

	c.emit(event, err)

	c.mu.Lock()
	cl.dispatching = false
	live := !cl.stopped
	c.mu.Unlock()
	return live
}

// terminate detaches the call before emitting its final event, so a handler
// may start the next call right away. Nothing is emitted after StopCall.
func (c *Client) terminate(cl *call, event interfaces.RuntimeEvent, err error) {
	c.mu.Lock()
	if cl.stopped {
		c.mu.Unlock()
		cl.conn.Close()
		return
	}
	cl.stopped = true
	if c.cur == cl {
		c.cur = nil
	}
	c.mu.Unlock()
	cl.conn.Close()

	if event == interfaces.RuntimeError {
		c.logger.Warn().Err(err).Msg("signaling call failed")
	}
	c.emit(event, err)
}

func (c *Client) dialURL(accessToken string) (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported signaling scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
