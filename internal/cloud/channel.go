// Package cloud maintains the websocket channel between the device and
// its cloud service: inbound command execution requests, outbound state
// and command status updates.
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weftlabs/weft/internal/command"
)

// Delegate is the device-side surface the channel drives. Calls arrive
// from the channel's read goroutine; implementations are responsible
// for moving work onto their own execution context.
type Delegate interface {
	// ExecuteCommand submits a cloud command document and returns the
	// resulting command document. On rejection the returned id may
	// still identify the failed submission.
	ExecuteCommand(doc map[string]any) (result map[string]any, id string, err error)
	// CancelCommand cancels a queued command by id.
	CancelCommand(id string) error
	// Hello describes the device for the post-connect announcement.
	Hello() HelloMessage
}

type Config struct {
	URL            string
	Token          string
	ReconnectDelay time.Duration
}

type Channel struct {
	cfg      Config
	delegate Delegate
	logf     func(format string, args ...any)

	// onConnChange is invoked with true after connect, false after drop.
	onConnChange func(connected bool)

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewChannel(cfg Config, delegate Delegate) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Channel{
		cfg:      cfg,
		delegate: delegate,
		logf:     func(string, ...any) {},
	}
}

// SetLogf installs the channel's log sink. Must be called before Run.
func (ch *Channel) SetLogf(logf func(format string, args ...any)) {
	ch.logf = logf
}

// OnConnectionChange installs the connectivity callback. Must be called
// before Run.
func (ch *Channel) OnConnectionChange(fn func(connected bool)) {
	ch.onConnChange = fn
}

// Run connects and serves the channel until ctx is cancelled,
// reconnecting with a fixed delay after drops.
func (ch *Channel) Run(ctx context.Context) {
	for {
		if err := ch.connectAndServe(ctx); err != nil {
			ch.logf("cloud channel: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ch.cfg.ReconnectDelay):
		}
	}
}

func (ch *Channel) connectAndServe(ctx context.Context) error {
	header := http.Header{}
	if ch.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+ch.cfg.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ch.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ch.cfg.URL, err)
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()

	defer func() {
		ch.mu.Lock()
		ch.conn = nil
		ch.mu.Unlock()
		conn.Close()
		if ch.onConnChange != nil {
			ch.onConnChange(false)
		}
	}()

	if ch.onConnChange != nil {
		ch.onConnChange(true)
	}

	hello := ch.delegate.Hello()
	hello.Type = TypeHello
	if err := ch.send(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	// Close the connection when ctx is cancelled to unblock the reader.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ch.handleMessage(data)
	}
}

func (ch *Channel) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ch.logf("cloud channel: malformed message: %v", err)
		return
	}

	switch env.Type {
	case TypeCommandExecute:
		var msg CommandExecuteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logf("cloud channel: malformed %s: %v", env.Type, err)
			return
		}
		ch.handleExecute(msg)

	case TypeCommandCancel:
		var msg CommandCancelMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.logf("cloud channel: malformed %s: %v", env.Type, err)
			return
		}
		ch.handleCancel(msg)

	default:
		ch.logf("cloud channel: unknown message type %q", env.Type)
	}
}

func (ch *Channel) handleExecute(msg CommandExecuteMessage) {
	result, id, err := ch.delegate.ExecuteCommand(msg.Command)
	if err != nil {
		ch.sendError(id, err)
		return
	}
	ch.sendIgnore(CommandStateMessage{Type: TypeCommandState, Command: result})
}

func (ch *Channel) handleCancel(msg CommandCancelMessage) {
	if err := ch.delegate.CancelCommand(msg.CommandID); err != nil {
		ch.sendError(msg.CommandID, err)
	}
}

// NotifyCommandState pushes a command document to the cloud. Dropped
// silently when disconnected; the cloud resynchronizes on reconnect via
// the hello announcement.
func (ch *Channel) NotifyCommandState(doc map[string]any) {
	ch.sendIgnore(CommandStateMessage{Type: TypeCommandState, Command: doc})
}

// NotifyStateChanged pushes a device state snapshot to the cloud.
func (ch *Channel) NotifyStateChanged(state map[string]any) {
	ch.sendIgnore(StateChangedMessage{Type: TypeStateChanged, State: state})
}

func (ch *Channel) sendError(commandID string, err error) {
	ch.sendIgnore(CommandErrorMessage{
		Type:      TypeCommandError,
		CommandID: commandID,
		Code:      command.ErrorCode(err),
		Message:   err.Error(),
	})
}

func (ch *Channel) sendIgnore(v any) {
	if err := ch.send(v); err != nil {
		ch.logf("cloud channel: send dropped: %v", err)
	}
}

func (ch *Channel) send(v any) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.conn == nil {
		return fmt.Errorf("not connected")
	}
	return ch.conn.WriteJSON(v)
}
