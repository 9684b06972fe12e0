// Package room implements the room registry and session manager (spec
// component C4): room lifecycle, membership, host transfer, and routing
// of client commands to the right per-document store.
package room

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shiv248/kolabrooms/internal/document"
	"github.com/shiv248/kolabrooms/internal/ot"
	"github.com/shiv248/kolabrooms/internal/protocol"
	"github.com/shiv248/kolabrooms/pkg/logger"
)

// PersistedDocument is one durably stored document row, as returned by a
// Persister's LoadDocuments.
type PersistedDocument struct {
	ID       int
	Content  string
	Revision int
}

// Persister is everything the registry needs from the durability layer
// (spec component C5). Implemented by *durability.Writer; accepted here as
// an interface so room logic can be tested without a database.
type Persister interface {
	InitDocuments(code string, ids []int) error
	LoadDocuments(code string) ([]PersistedDocument, error)
	ScheduleSave(code string, id int, content string, revision int)
	CleanupRoom(code string) error
}

// Registry owns every live room and the participant->room routing table.
// Locking discipline: registry -> room -> document, never the reverse
// (spec.md section 5).
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	location   map[uint64]string // participantID -> room code
	outboxes   map[uint64]chan *protocol.ServerEnvelope
	nextID     atomic.Uint64
	persister  Persister
	expiry     time.Duration
	outboxSize int
}

// Options configures a Registry; zero values fall back to spec.md
// defaults (Texp = 30 minutes).
type Options struct {
	Persister  Persister
	Expiry     time.Duration
	OutboxSize int
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Expiry == 0 {
		opts.Expiry = 30 * time.Minute
	}
	if opts.OutboxSize == 0 {
		opts.OutboxSize = 32
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		location:   make(map[uint64]string),
		outboxes:   make(map[uint64]chan *protocol.ServerEnvelope),
		persister:  opts.Persister,
		expiry:     opts.Expiry,
		outboxSize: opts.OutboxSize,
	}
}

// Connect allocates a new participant id and its outbox channel. The
// connection layer calls this once per accepted socket.
func (reg *Registry) Connect() uint64 {
	id := reg.nextID.Add(1) - 1
	ch := make(chan *protocol.ServerEnvelope, reg.outboxSize)

	reg.mu.Lock()
	reg.outboxes[id] = ch
	reg.mu.Unlock()

	return id
}

// Outbox returns the channel a connection should drain and forward to its
// socket.
func (reg *Registry) Outbox(id uint64) <-chan *protocol.ServerEnvelope {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.outboxes[id]
}

// emit pushes an event onto a participant's outbox without blocking; a
// slow or departed subscriber drops the message rather than stalling the
// sender, matching kolabpad's broadcast discipline.
func (reg *Registry) emit(id uint64, msg *protocol.ServerEnvelope) {
	reg.mu.RLock()
	ch := reg.outboxes[id]
	reg.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		logger.Debug("dropping event %s for participant %d: outbox full", msg.Event, id)
	}
}

func (reg *Registry) emitMany(ids []uint64, msg *protocol.ServerEnvelope) {
	for _, id := range ids {
		reg.emit(id, msg)
	}
}

// roomOf resolves the room a participant currently belongs to, or
// returns a KindNotInRoom error.
func (reg *Registry) roomOf(participantID uint64) (*Room, error) {
	reg.mu.RLock()
	code, ok := reg.location[participantID]
	reg.mu.RUnlock()
	if !ok {
		return nil, errNotInRoom()
	}

	reg.mu.RLock()
	r, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, errNotInRoom()
	}
	return r, nil
}

// CreateRoom creates a new room, joining the caller as its host.
func (reg *Registry) CreateRoom(participantID uint64, username, color string) (*protocol.RoomSnapshotPayload, error) {
	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		reg.mu.RLock()
		_, exists := reg.rooms[c]
		reg.mu.RUnlock()
		if !exists {
			code = c
			break
		}
	}

	r := newRoom(code)

	reg.mu.Lock()
	r.mu().Lock()
	r.addMemberLocked(participantID, username, color)
	ids := r.documentIDsLocked()
	snap := &protocol.RoomSnapshotPayload{RoomCode: code, Editors: r.editorsLocked(), Users: r.usersLocked(), IsHost: true}
	r.mu().Unlock()
	reg.rooms[code] = r
	reg.location[participantID] = code
	reg.mu.Unlock()

	if reg.persister != nil {
		if err := reg.persister.InitDocuments(code, ids); err != nil {
			logger.Error("init documents for room %s: %v", code, err)
		}
	}

	return snap, nil
}

// JoinRoom adds the caller to an existing room, loading persisted
// documents from C5 if the room is being revived after a restart.
func (reg *Registry) JoinRoom(participantID uint64, username, color, code string) (*protocol.RoomSnapshotPayload, error) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	if !ok && reg.persister != nil {
		if rows, err := reg.persister.LoadDocuments(code); err == nil && len(rows) > 0 {
			r = restoreRoom(code, rows)
			reg.rooms[code] = r
			ok = true
		}
	}
	if !ok {
		reg.mu.Unlock()
		return nil, errRoomNotFound(code)
	}
	reg.mu.Unlock()

	r.mu().Lock()
	r.addMemberLocked(participantID, username, color)
	snap := &protocol.RoomSnapshotPayload{RoomCode: code, Editors: r.editorsLocked(), Users: r.usersLocked()}
	others := r.allMemberIDsExceptLocked(participantID)
	r.mu().Unlock()

	reg.mu.Lock()
	reg.location[participantID] = code
	reg.mu.Unlock()

	reg.emitMany(others, protocol.NewEnvelope(protocol.EventUserJoined, &protocol.UserEventPayload{
		SocketID: participantID, Username: username, Color: color,
	}))

	return snap, nil
}

// AddDocument creates a new document in the caller's room.
func (reg *Registry) AddDocument(participantID uint64, name, language string) (*protocol.Editor, error) {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return nil, err
	}

	r.mu().Lock()
	doc := r.createDocumentLocked(name, language)
	editor := protocol.Editor{ID: doc.ID(), Name: name, Language: language}
	all := r.allMemberIDsLocked()
	r.mu().Unlock()

	if reg.persister != nil {
		if err := reg.persister.InitDocuments(r.Code(), []int{doc.ID()}); err != nil {
			logger.Error("init document %d for room %s: %v", doc.ID(), r.Code(), err)
		}
	}

	reg.emitMany(all, protocol.NewEnvelope(protocol.EventEditorAdded, &editor))
	return &editor, nil
}

// RemoveDocument deletes a document, refusing (silently, per spec.md
// section 7 LastEditor) to remove the last one.
func (reg *Registry) RemoveDocument(participantID uint64, docID int) error {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return err
	}

	r.mu().Lock()
	rerr := r.removeDocumentLocked(docID)
	var all []uint64
	if rerr == nil {
		all = r.allMemberIDsLocked()
	}
	r.mu().Unlock()

	if rerr != nil {
		var domainErr *Error
		if errors.As(rerr, &domainErr) && domainErr.Kind == KindLastEditor {
			return nil // silently ignored, per spec.md section 7
		}
		return rerr
	}

	reg.emitMany(all, protocol.NewEnvelope(protocol.EventEditorRemoved, docID))
	return nil
}

// SubscribeDocument joins the caller to a document's topic and returns
// the snapshot it should bootstrap from.
func (reg *Registry) SubscribeDocument(participantID uint64, docID int) (*protocol.EditorSyncedPayload, error) {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return nil, err
	}

	r.mu().Lock()
	doc, ok := r.documents[docID]
	if ok {
		r.subscribeLocked(docID, participantID)
	}
	r.mu().Unlock()

	if !ok {
		return nil, errEditorNotFound(docID)
	}

	content, revision := doc.Snapshot()
	return &protocol.EditorSyncedPayload{EditorID: docID, Content: content, Revision: revision}, nil
}

// UnsubscribeDocument removes the caller from a document's topic.
func (reg *Registry) UnsubscribeDocument(participantID uint64, docID int) error {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return err
	}
	r.mu().Lock()
	r.unsubscribeLocked(docID, participantID)
	r.mu().Unlock()
	return nil
}

// RequestSync emits a fresh Synced snapshot to the caller only.
func (reg *Registry) RequestSync(participantID uint64, docID int) (*protocol.EditorSyncedPayload, error) {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return nil, err
	}
	r.mu().Lock()
	doc, ok := r.documents[docID]
	r.mu().Unlock()
	if !ok {
		return nil, errEditorNotFound(docID)
	}
	content, revision := doc.Snapshot()
	return &protocol.EditorSyncedPayload{EditorID: docID, Content: content, Revision: revision}, nil
}

// SendOperation routes a client edit to its Document Store, broadcasts
// the transformed result to every subscriber (including the author), and
// schedules a debounced persistence write.
//
// On RevisionTooOld the spec's chosen policy (section 9, "Resynchronization
// decision") is applied: the caller is pushed a fresh Synced snapshot
// instead of an error.
func (reg *Registry) SendOperation(participantID uint64, docID int, op *ot.Operation, baseRevision int) error {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return err
	}

	r.mu().Lock()
	doc, ok := r.documents[docID]
	if !ok {
		r.mu().Unlock()
		return errEditorNotFound(docID)
	}
	subs := r.subscribersLocked(docID)
	code := r.code
	r.mu().Unlock()

	transformed, revision, ierr := doc.Ingest(op, baseRevision)
	if ierr != nil {
		if errors.Is(ierr, document.ErrRevisionTooOld) {
			content, rev := doc.Snapshot()
			reg.emit(participantID, protocol.NewEnvelope(protocol.EventEditorSynced, &protocol.EditorSyncedPayload{
				EditorID: docID, Content: content, Revision: rev,
			}))
			return nil
		}
		if errors.Is(ierr, document.ErrFutureRevision) {
			return &Error{Kind: KindFutureRevision, Message: ierr.Error()}
		}
		return &Error{Kind: KindInvalidOperation, Message: ierr.Error()}
	}

	reg.emitMany(subs, protocol.NewEnvelope(protocol.EventReceiveOperation, &protocol.ReceiveOperationPayload{
		EditorID: docID, Operation: transformed, Revision: revision, AuthorSocketID: participantID,
	}))

	if reg.persister != nil {
		content, rev := doc.Snapshot()
		reg.persister.ScheduleSave(code, docID, content, rev)
	}

	return nil
}

// KickUser disconnects a target participant; host-only.
func (reg *Registry) KickUser(participantID, targetID uint64) error {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return err
	}

	r.mu().Lock()
	if !r.isHostLocked(participantID) {
		r.mu().Unlock()
		return errNotHost()
	}
	_, transferred, empty := r.removeMemberLocked(targetID)
	newHost := r.hostID
	hasHost := r.hasHost
	all := r.allMemberIDsLocked()
	r.mu().Unlock()

	reg.mu.Lock()
	delete(reg.location, targetID)
	reg.mu.Unlock()

	reg.emit(targetID, protocol.NewEnvelope(protocol.EventKicked, &protocol.ErrorPayload{Message: "you were removed from the room"}))
	reg.emitMany(all, protocol.NewEnvelope(protocol.EventUserLeft, &protocol.UserEventPayload{SocketID: targetID}))
	if transferred {
		reg.emitMany(all, protocol.NewEnvelope(protocol.EventHostTransferred, &protocol.HostTransferredPayload{NewHostID: newHost}))
	}
	if empty && !hasHost {
		reg.armExpiry(r)
	}
	return nil
}

// CloseRoom tears a room down immediately; host-only.
func (reg *Registry) CloseRoom(participantID uint64) error {
	r, err := reg.roomOf(participantID)
	if err != nil {
		return err
	}

	r.mu().Lock()
	if !r.isHostLocked(participantID) {
		r.mu().Unlock()
		return errNotHost()
	}
	all := r.allMemberIDsLocked()
	code := r.code
	r.mu().Unlock()

	reg.emitMany(all, protocol.NewEnvelope(protocol.EventRoomClosed, &protocol.ErrorPayload{Message: "the host closed this room"}))

	reg.mu.Lock()
	delete(reg.rooms, code)
	for _, id := range all {
		delete(reg.location, id)
	}
	reg.mu.Unlock()

	if reg.persister != nil {
		if err := reg.persister.CleanupRoom(code); err != nil {
			logger.Error("cleanup room %s: %v", code, err)
		}
	}
	return nil
}

// Disconnect removes a participant from whatever room it is in (a no-op
// if it is in none) and releases its outbox.
func (reg *Registry) Disconnect(participantID uint64) {
	reg.mu.RLock()
	code, inRoom := reg.location[participantID]
	reg.mu.RUnlock()

	if inRoom {
		reg.mu.RLock()
		r, ok := reg.rooms[code]
		reg.mu.RUnlock()
		if ok {
			r.mu().Lock()
			_, transferred, empty := r.removeMemberLocked(participantID)
			newHost := r.hostID
			hasHost := r.hasHost
			all := r.allMemberIDsLocked()
			r.mu().Unlock()

			reg.mu.Lock()
			delete(reg.location, participantID)
			reg.mu.Unlock()

			reg.emitMany(all, protocol.NewEnvelope(protocol.EventUserLeft, &protocol.UserEventPayload{SocketID: participantID}))
			if transferred {
				reg.emitMany(all, protocol.NewEnvelope(protocol.EventHostTransferred, &protocol.HostTransferredPayload{NewHostID: newHost}))
			}
			if empty && !hasHost {
				reg.armExpiry(r)
			}
		}
	}

	reg.mu.Lock()
	if ch, ok := reg.outboxes[participantID]; ok {
		close(ch)
		delete(reg.outboxes, participantID)
	}
	reg.mu.Unlock()
}

// armExpiry schedules a room's removal after Texp of emptiness.
func (reg *Registry) armExpiry(r *Room) {
	r.mu().Lock()
	r.armExpiryLocked(reg.expiry, func() { reg.expireRoom(r.Code()) })
	r.mu().Unlock()
}

// expireRoom transitions a room to Expired and discards it, per spec.md
// section 3.
func (reg *Registry) expireRoom(code string) {
	reg.mu.Lock()
	r, ok := reg.rooms[code]
	if ok {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}

	r.mu().Lock()
	r.state = StateExpired
	r.mu().Unlock()

	if reg.persister != nil {
		if err := reg.persister.CleanupRoom(code); err != nil {
			logger.Error("cleanup expired room %s: %v", code, err)
		}
	}
	logger.Info("room %s expired", code)
}

// StartJanitor runs a periodic backstop sweep for rooms whose expiry
// timer may have been lost, as described in SPEC_FULL.md's "idle-based
// expiry heartbeat". The per-room timer armed in armExpiry remains the
// primary mechanism; this is a safety net, not a replacement.
func (reg *Registry) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			reg.sweepExpired()
		}
	}
}

func (reg *Registry) sweepExpired() {
	reg.mu.RLock()
	var empties []string
	for code, r := range reg.rooms {
		r.mu().Lock()
		if len(r.members) == 0 && r.expiryTimer == nil {
			empties = append(empties, code)
		}
		r.mu().Unlock()
	}
	reg.mu.RUnlock()

	for _, code := range empties {
		reg.mu.RLock()
		r, ok := reg.rooms[code]
		reg.mu.RUnlock()
		if ok {
			logger.Debug("janitor: arming expiry for empty room %s", code)
			reg.armExpiry(r)
		}
	}
}

// restoreRoom rebuilds an in-memory Room from persisted document rows,
// used when a join arrives for a room with no live in-memory state
// (process restart), per spec.md section 4.5.
func restoreRoom(code string, rows []PersistedDocument) *Room {
	r := &Room{
		code:      code,
		documents: make(map[int]*document.Document),
		docMeta:   make(map[int]*editorMeta),
		members:   make(map[uint64]*member),
		topics:    make(map[int]map[uint64]struct{}),
		state:     StateActive,
	}
	for _, row := range rows {
		r.documents[row.ID] = document.FromPersisted(row.ID, row.Content, row.Revision)
		r.docMeta[row.ID] = &editorMeta{name: "untitled", language: "plaintext"}
		r.topics[row.ID] = make(map[uint64]struct{})
		if row.ID >= r.nextDocID {
			r.nextDocID = row.ID + 1
		}
	}
	return r
}
