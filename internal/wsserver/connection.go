package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shiv248/kolabrooms/internal/protocol"
	"github.com/shiv248/kolabrooms/internal/room"
	"github.com/shiv248/kolabrooms/pkg/logger"
)

// connection is one client's socket plus its registry-assigned identity,
// modeled on kolabpad's Connection type.
type connection struct {
	id           uint64
	registry     *room.Registry
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newConnection(registry *room.Registry, conn *websocket.Conn, readTimeout, writeTimeout time.Duration) *connection {
	return &connection{
		id:           registry.Connect(),
		registry:     registry,
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Handle drives one connection's lifetime: an outbox-forwarding goroutine
// plus an inbound read loop, matching kolabpad's broadcastUpdates/read-loop
// split.
func (c *connection) Handle(ctx context.Context) error {
	defer c.registry.Disconnect(c.id)

	logger.Debug("connection established, id = %d", c.id)

	forwardDone := make(chan struct{})
	go c.forwardOutbox(ctx, forwardDone)
	defer func() { <-forwardDone }()

	for {
		readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		var env protocol.ClientEnvelope
		err := wsjson.Read(readCtx, c.conn, &env)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		if err := c.dispatch(&env); err != nil {
			logger.Debug("participant %d: %v", c.id, err)
		}
	}
}

// forwardOutbox relays registry-emitted events to the socket until the
// registry closes this connection's outbox.
func (c *connection) forwardOutbox(ctx context.Context, done chan struct{}) {
	defer close(done)
	out := c.registry.Outbox(c.id)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			if err := c.send(msg); err != nil {
				logger.Debug("send to participant %d failed: %v", c.id, err)
				return
			}
		}
	}
}

func (c *connection) send(msg *protocol.ServerEnvelope) error {
	writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.conn, msg)
}

// dispatch decodes one client event and routes it to the matching
// registry command, per spec.md section 6.1.
func (c *connection) dispatch(env *protocol.ClientEnvelope) error {
	switch env.Event {
	case protocol.EventCreateRoom:
		var p protocol.CreateRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		snap, err := c.registry.CreateRoom(c.id, p.Username, p.Color)
		if err != nil {
			return c.roomError(err)
		}
		return c.send(protocol.NewEnvelope(protocol.EventRoomCreated, snap))

	case protocol.EventJoinRoom:
		var p protocol.JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		snap, err := c.registry.JoinRoom(c.id, p.Username, p.Color, p.RoomCode)
		if err != nil {
			return c.roomError(err)
		}
		return c.send(protocol.NewEnvelope(protocol.EventRoomJoined, snap))

	case protocol.EventAddEditor:
		var p protocol.AddEditorPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if _, err := c.registry.AddDocument(c.id, p.Name, p.Language); err != nil {
			return c.roomError(err)
		}
		return nil

	case protocol.EventRemoveEditor:
		var docID int
		if err := json.Unmarshal(env.Payload, &docID); err != nil {
			return err
		}
		if err := c.registry.RemoveDocument(c.id, docID); err != nil {
			return c.roomError(err)
		}
		return nil

	case protocol.EventJoinEditor:
		var docID int
		if err := json.Unmarshal(env.Payload, &docID); err != nil {
			return err
		}
		synced, err := c.registry.SubscribeDocument(c.id, docID)
		if err != nil {
			return c.syncError(err)
		}
		return c.send(protocol.NewEnvelope(protocol.EventEditorSynced, synced))

	case protocol.EventLeaveEditor:
		var docID int
		if err := json.Unmarshal(env.Payload, &docID); err != nil {
			return err
		}
		return c.registry.UnsubscribeDocument(c.id, docID)

	case protocol.EventSendOperation:
		var p protocol.SendOperationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if err := c.registry.SendOperation(c.id, p.EditorID, p.Operation, p.BaseRevision); err != nil {
			return c.operationError(err)
		}
		return nil

	case protocol.EventRequestSync:
		var docID int
		if err := json.Unmarshal(env.Payload, &docID); err != nil {
			return err
		}
		synced, err := c.registry.RequestSync(c.id, docID)
		if err != nil {
			return c.syncError(err)
		}
		return c.send(protocol.NewEnvelope(protocol.EventEditorSynced, synced))

	case protocol.EventKickUser:
		var p protocol.KickUserPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if err := c.registry.KickUser(c.id, p.TargetSocketID); err != nil {
			return c.roomError(err)
		}
		return nil

	case protocol.EventCloseRoom:
		if err := c.registry.CloseRoom(c.id); err != nil {
			return c.roomError(err)
		}
		return nil

	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

// roomError reports a failure on the room_error channel (spec.md
// section 7: RoomNotFound, NotInRoom, NotHost).
func (c *connection) roomError(err error) error {
	return c.send(protocol.NewEnvelope(protocol.EventRoomError, &protocol.ErrorPayload{Message: err.Error()}))
}

// operationError reports a failure on the operation_error channel
// (EditorNotFound, FutureRevision, InvalidOperation); NotInRoom goes to
// room_error instead.
func (c *connection) operationError(err error) error {
	var domainErr *room.Error
	if errors.As(err, &domainErr) && domainErr.Kind == room.KindNotInRoom {
		return c.roomError(err)
	}
	return c.send(protocol.NewEnvelope(protocol.EventOperationError, &protocol.ErrorPayload{Message: err.Error()}))
}

// syncError reports a failure on the sync_error channel (EditorNotFound
// for join_editor / request_sync).
func (c *connection) syncError(err error) error {
	var domainErr *room.Error
	if errors.As(err, &domainErr) && domainErr.Kind == room.KindNotInRoom {
		return c.roomError(err)
	}
	return c.send(protocol.NewEnvelope(protocol.EventSyncError, &protocol.ErrorPayload{Message: err.Error()}))
}
