// Package protocol defines the wire contract between a client and the
// server: named events carrying JSON payloads, per spec.md section 6.
package protocol

import (
	"encoding/json"

	"github.com/shiv248/kolabrooms/internal/ot"
)

// ClientEnvelope is the shape of every message a client sends: an event
// name and its payload, decoded lazily so the connection handler can pick
// the matching payload type per spec.md section 6.1.
type ClientEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEnvelope is the shape of every message the server sends.
type ServerEnvelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Client -> server event names.
const (
	EventCreateRoom    = "create_room"
	EventJoinRoom      = "join_room"
	EventAddEditor     = "add_editor"
	EventRemoveEditor  = "remove_editor"
	EventJoinEditor    = "join_editor"
	EventLeaveEditor   = "leave_editor"
	EventSendOperation = "send_operation"
	EventRequestSync   = "request_sync"
	EventKickUser      = "kick_user"
	EventCloseRoom     = "close_room"
)

// Server -> client event names.
const (
	EventRoomCreated      = "room_created"
	EventRoomJoined       = "room_joined"
	EventRoomError        = "room_error"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventHostTransferred  = "host_transferred"
	EventKicked           = "kicked"
	EventRoomClosed       = "room_closed"
	EventEditorAdded      = "editor_added"
	EventEditorRemoved    = "editor_removed"
	EventEditorSynced     = "editor_synced"
	EventReceiveOperation = "receive_operation"
	EventOperationError   = "operation_error"
	EventSyncError        = "sync_error"
)

// User is a member's display information, as broadcast in room_joined,
// user_joined, etc.
type User struct {
	ID       uint64 `json:"socketId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	IsHost   bool   `json:"isHost"`
}

// Editor is a document's wire representation.
type Editor struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// --- Client -> server payloads ---

type CreateRoomPayload struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type JoinRoomPayload struct {
	Username string `json:"username"`
	Color    string `json:"color"`
	RoomCode string `json:"roomCode"`
}

type AddEditorPayload struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// RemoveEditorPayload / JoinEditorPayload / LeaveEditorPayload /
// RequestSyncPayload are bare editor ids on the wire (spec.md section
// 6.1), so ClientEnvelope.Payload is decoded directly as an int for those
// events rather than through a struct.

type SendOperationPayload struct {
	EditorID     int           `json:"editorId"`
	Operation    *ot.Operation `json:"operation"`
	BaseRevision int           `json:"baseRevision"`
}

type KickUserPayload struct {
	TargetSocketID uint64 `json:"targetSocketId"`
}

// --- Server -> client payloads ---

type RoomSnapshotPayload struct {
	RoomCode string   `json:"roomCode"`
	Editors  []Editor `json:"editors"`
	Users    []User   `json:"users"`
	IsHost   bool     `json:"isHost,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserEventPayload struct {
	SocketID uint64 `json:"socketId"`
	Username string `json:"username,omitempty"`
	Color    string `json:"color,omitempty"`
}

type HostTransferredPayload struct {
	NewHostID uint64 `json:"newHostId"`
}

type EditorSyncedPayload struct {
	EditorID int    `json:"editorId"`
	Content  string `json:"content"`
	Revision int    `json:"revision"`
}

type ReceiveOperationPayload struct {
	EditorID       int           `json:"editorId"`
	Operation      *ot.Operation `json:"operation"`
	Revision       int           `json:"revision"`
	AuthorSocketID uint64        `json:"authorSocketId"`
}

// NewEnvelope builds a ServerEnvelope.
func NewEnvelope(event string, payload interface{}) *ServerEnvelope {
	return &ServerEnvelope{Event: event, Payload: payload}
}
