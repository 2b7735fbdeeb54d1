package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeDelegate struct {
	mu        sync.Mutex
	executed  []map[string]any
	cancelled []string
	result    map[string]any
	resultID  string
	err       error
	cancelErr error
}

func (f *fakeDelegate) ExecuteCommand(doc map[string]any) (map[string]any, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, doc)
	return f.result, f.resultID, f.err
}

func (f *fakeDelegate) CancelCommand(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeDelegate) Hello() HelloMessage {
	return HelloMessage{
		DeviceName: "testLock",
		Commands:   []string{"lock.setConfig"},
	}
}

// startChannel runs a websocket server and a connected Channel against
// it. Returns the server side of the first connection.
func startChannel(t *testing.T, delegate Delegate) (*Channel, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ch := NewChannel(Config{URL: url, ReconnectDelay: time.Hour}, delegate)
	ch.SetLogf(t.Logf)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ch.Run(ctx)

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return ch, conn
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not connect")
		return nil, nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("server unmarshal: %v", err)
	}
	return msg
}

func TestChannel_HelloOnConnect(t *testing.T) {
	_, conn := startChannel(t, &fakeDelegate{})

	msg := readMessage(t, conn)
	if msg["type"] != TypeHello {
		t.Fatalf("expected %s, got %v", TypeHello, msg["type"])
	}
	if msg["deviceName"] != "testLock" {
		t.Errorf("expected deviceName testLock, got %v", msg["deviceName"])
	}
	commands, _ := msg["commands"].([]any)
	if len(commands) != 1 || commands[0] != "lock.setConfig" {
		t.Errorf("unexpected commands: %v", msg["commands"])
	}
}

func TestChannel_ExecuteCommand(t *testing.T) {
	delegate := &fakeDelegate{
		result:   map[string]any{"id": "cmd_1", "name": "lock.setConfig", "state": "queued"},
		resultID: "cmd_1",
	}
	_, conn := startChannel(t, delegate)
	readMessage(t, conn) // hello

	err := conn.WriteJSON(CommandExecuteMessage{
		Type:    TypeCommandExecute,
		Command: map[string]any{"name": "lock.setConfig", "parameters": map[string]any{"lockedState": "locked"}},
	})
	if err != nil {
		t.Fatalf("server write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg["type"] != TypeCommandState {
		t.Fatalf("expected %s, got %v", TypeCommandState, msg["type"])
	}
	cmd, _ := msg["command"].(map[string]any)
	if cmd["id"] != "cmd_1" || cmd["state"] != "queued" {
		t.Errorf("unexpected command document: %v", cmd)
	}

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	if len(delegate.executed) != 1 {
		t.Fatalf("expected 1 executed command, got %d", len(delegate.executed))
	}
	if delegate.executed[0]["name"] != "lock.setConfig" {
		t.Errorf("unexpected submitted document: %v", delegate.executed[0])
	}
}

func TestChannel_ExecuteRejected(t *testing.T) {
	delegate := &fakeDelegate{
		resultID: "cmd_rejected",
		err:      errors.New("unknown command: lock.nope"),
	}
	_, conn := startChannel(t, delegate)
	readMessage(t, conn) // hello

	conn.WriteJSON(CommandExecuteMessage{
		Type:    TypeCommandExecute,
		Command: map[string]any{"name": "lock.nope"},
	})

	msg := readMessage(t, conn)
	if msg["type"] != TypeCommandError {
		t.Fatalf("expected %s, got %v", TypeCommandError, msg["type"])
	}
	if msg["commandId"] != "cmd_rejected" {
		t.Errorf("expected rejected command id, got %v", msg["commandId"])
	}
	if msg["code"] != "internal_error" {
		t.Errorf("expected internal_error for plain error, got %v", msg["code"])
	}
}

func TestChannel_CancelCommand(t *testing.T) {
	delegate := &fakeDelegate{}
	_, conn := startChannel(t, delegate)
	readMessage(t, conn) // hello

	conn.WriteJSON(CommandCancelMessage{Type: TypeCommandCancel, CommandID: "cmd_42"})

	// Cancel has no success reply; poll the delegate.
	deadline := time.Now().Add(5 * time.Second)
	for {
		delegate.mu.Lock()
		n := len(delegate.cancelled)
		delegate.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cancel never reached the delegate")
		}
		time.Sleep(10 * time.Millisecond)
	}

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	if delegate.cancelled[0] != "cmd_42" {
		t.Errorf("expected cmd_42, got %q", delegate.cancelled[0])
	}
}

func TestChannel_CancelRejected(t *testing.T) {
	delegate := &fakeDelegate{cancelErr: errors.New("no such command")}
	_, conn := startChannel(t, delegate)
	readMessage(t, conn) // hello

	conn.WriteJSON(CommandCancelMessage{Type: TypeCommandCancel, CommandID: "cmd_43"})

	msg := readMessage(t, conn)
	if msg["type"] != TypeCommandError {
		t.Fatalf("expected %s, got %v", TypeCommandError, msg["type"])
	}
	if msg["commandId"] != "cmd_43" {
		t.Errorf("expected commandId cmd_43, got %v", msg["commandId"])
	}
}

func TestChannel_NotifyStateChanged(t *testing.T) {
	ch, conn := startChannel(t, &fakeDelegate{})
	readMessage(t, conn) // hello

	ch.NotifyStateChanged(map[string]any{"lock": map[string]any{"lockedState": "locked"}})

	msg := readMessage(t, conn)
	if msg["type"] != TypeStateChanged {
		t.Fatalf("expected %s, got %v", TypeStateChanged, msg["type"])
	}
	state, _ := msg["state"].(map[string]any)
	if _, ok := state["lock"]; !ok {
		t.Errorf("expected lock package in state snapshot: %v", state)
	}
}

func TestChannel_NotifyWhileDisconnected(t *testing.T) {
	// A channel that never connected must drop notifications silently.
	ch := NewChannel(Config{URL: "ws://127.0.0.1:1/never"}, &fakeDelegate{})
	ch.NotifyCommandState(map[string]any{"id": "cmd_1"})
	ch.NotifyStateChanged(map[string]any{})
}

func TestEnvelopeRouting(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
	}{
		{
			name:     "command.execute",
			input:    `{"type":"command.execute","command":{"name":"lock.setConfig"}}`,
			wantType: TypeCommandExecute,
		},
		{
			name:     "command.cancel",
			input:    `{"type":"command.cancel","commandId":"cmd_1"}`,
			wantType: TypeCommandCancel,
		},
		{
			name:     "device.hello",
			input:    `{"type":"device.hello","deviceName":"d"}`,
			wantType: TypeHello,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tt.input), &env); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if env.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, env.Type)
			}
		})
	}
}
