package wsserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/kolabrooms/internal/ot"
	"github.com/shiv248/kolabrooms/internal/protocol"
	"github.com/shiv248/kolabrooms/internal/room"
)

// testServer spins up an httptest.Server over a fresh in-memory registry,
// the same pattern kolabpad's server_test.go uses for its own handler.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := room.NewRegistry(room.Options{Expiry: 30 * time.Minute, OutboxSize: 16})
	srv := NewServer(registry, Options{ReadTimeout: time.Second, WriteTimeout: time.Second})
	return httptest.NewServer(srv)
}

func connectWebSocket(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/api/socket"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendClientMsg(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	env := struct {
		Event   string      `json:"event"`
		Payload interface{} `json:"payload"`
	}{event, payload}
	if err := wsjson.Write(context.Background(), conn, env); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readServerMsg(t *testing.T, conn *websocket.Conn) protocol.ServerEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var raw struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		t.Fatalf("read: %v", err)
	}
	return protocol.ServerEnvelope{Event: raw.Event, Payload: raw.Payload}
}

// TestCreateAndJoinRoom exercises the wire protocol end to end: a host
// creates a room and is marked host, a second client joins it and gets
// room_joined, and the host receives user_joined.
func TestCreateAndJoinRoom(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	hostConn := connectWebSocket(t, server)
	defer hostConn.Close(websocket.StatusNormalClosure, "")

	sendClientMsg(t, hostConn, protocol.EventCreateRoom, protocol.CreateRoomPayload{Username: "alice", Color: "red"})
	created := readServerMsg(t, hostConn)
	if created.Event != protocol.EventRoomCreated {
		t.Fatalf("got event %q, want %q", created.Event, protocol.EventRoomCreated)
	}

	var snap protocol.RoomSnapshotPayload
	if err := json.Unmarshal(created.Payload.(json.RawMessage), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.RoomCode == "" || !snap.IsHost {
		t.Fatalf("got snapshot %+v, want a room code and IsHost=true", snap)
	}

	joinerConn := connectWebSocket(t, server)
	defer joinerConn.Close(websocket.StatusNormalClosure, "")

	sendClientMsg(t, joinerConn, protocol.EventJoinRoom, protocol.JoinRoomPayload{Username: "bob", Color: "blue", RoomCode: snap.RoomCode})
	joined := readServerMsg(t, joinerConn)
	if joined.Event != protocol.EventRoomJoined {
		t.Fatalf("got event %q, want %q", joined.Event, protocol.EventRoomJoined)
	}

	userJoined := readServerMsg(t, hostConn)
	if userJoined.Event != protocol.EventUserJoined {
		t.Fatalf("got event %q, want %q", userJoined.Event, protocol.EventUserJoined)
	}
}

// TestSendOperationBroadcasts verifies an edit from one subscriber is
// broadcast to another subscriber of the same document.
func TestSendOperationBroadcasts(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	hostConn := connectWebSocket(t, server)
	defer hostConn.Close(websocket.StatusNormalClosure, "")
	sendClientMsg(t, hostConn, protocol.EventCreateRoom, protocol.CreateRoomPayload{Username: "alice", Color: "red"})
	created := readServerMsg(t, hostConn)
	var snap protocol.RoomSnapshotPayload
	json.Unmarshal(created.Payload.(json.RawMessage), &snap)
	docID := snap.Editors[0].ID

	sendClientMsg(t, hostConn, protocol.EventJoinEditor, docID)
	readServerMsg(t, hostConn) // editor_synced

	joinerConn := connectWebSocket(t, server)
	defer joinerConn.Close(websocket.StatusNormalClosure, "")
	sendClientMsg(t, joinerConn, protocol.EventJoinRoom, protocol.JoinRoomPayload{Username: "bob", Color: "blue", RoomCode: snap.RoomCode})
	readServerMsg(t, joinerConn) // room_joined
	readServerMsg(t, hostConn)   // user_joined broadcast to host

	sendClientMsg(t, joinerConn, protocol.EventJoinEditor, docID)
	readServerMsg(t, joinerConn) // editor_synced

	sendClientMsg(t, hostConn, protocol.EventSendOperation, protocol.SendOperationPayload{
		EditorID: docID, Operation: ot.New().Insert("hi"), BaseRevision: 0,
	})

	recv := readServerMsg(t, joinerConn)
	if recv.Event != protocol.EventReceiveOperation {
		t.Fatalf("got event %q, want %q", recv.Event, protocol.EventReceiveOperation)
	}
}
