package room

import (
	"sort"
	"sync"
	"time"

	"github.com/shiv248/kolabrooms/internal/document"
	"github.com/shiv248/kolabrooms/internal/protocol"
)

// State is one of the three lifecycle states from spec.md section 3.
type State int

const (
	StateActive State = iota
	StateEmpty
	StateExpired
)

// member is one participant's membership record. joinSeq orders members by
// arrival so host transfer can pick "the oldest remaining member".
type member struct {
	id            uint64
	displayName   string
	colorTag      string
	currentDocID  *int
	joinSeq       uint64
}

// Room holds one room's canonical state: its documents, its members, and
// its host. All mutation goes through the registry, which holds this
// room's mutex before touching it (locking order: registry -> room ->
// document, per spec.md section 5).
type Room struct {
	sync.Mutex
	code        string
	documents   map[int]*document.Document
	docMeta     map[int]*editorMeta
	nextDocID   int
	members     map[uint64]*member
	joinSeqGen  uint64
	hostID      uint64
	hasHost     bool
	topics      map[int]map[uint64]struct{} // docID -> subscribed participant ids
	state       State
	expiryTimer *time.Timer
}

// mu exposes the room's embedded mutex so the registry can hold it across
// a sequence of *Locked calls.
func (r *Room) mu() *sync.Mutex { return &r.Mutex }

// editorMeta is the descriptive (non-OT) metadata the spec's add_editor
// payload carries: a display name and a syntax-highlighting language.
type editorMeta struct {
	name     string
	language string
}

func newRoom(code string) *Room {
	r := &Room{
		code:      code,
		documents: make(map[int]*document.Document),
		docMeta:   make(map[int]*editorMeta),
		members:   make(map[uint64]*member),
		topics:    make(map[int]map[uint64]struct{}),
		state:     StateActive,
	}
	r.createDocumentLocked("untitled", "plaintext")
	return r
}

// Code returns the room's join code.
func (r *Room) Code() string { return r.code }

func (r *Room) createDocumentLocked(name, language string) *document.Document {
	id := r.nextDocID
	r.nextDocID++
	doc := document.New(id)
	r.documents[id] = doc
	r.docMeta[id] = &editorMeta{name: name, language: language}
	r.topics[id] = make(map[uint64]struct{})
	return doc
}

func (r *Room) addMemberLocked(id uint64, displayName, colorTag string) *member {
	r.joinSeqGen++
	m := &member{id: id, displayName: displayName, colorTag: colorTag, joinSeq: r.joinSeqGen}
	r.members[id] = m
	if !r.hasHost {
		r.hostID = id
		r.hasHost = true
	}
	r.state = StateActive
	r.cancelExpiryLocked()
	return m
}

// armExpiryLocked schedules onExpire to run after d of emptiness, matching
// the Texp armed-on-empty lifecycle from spec.md section 3. Any
// previously armed timer is replaced.
func (r *Room) armExpiryLocked(d time.Duration, onExpire func()) {
	r.cancelExpiryLocked()
	r.expiryTimer = time.AfterFunc(d, onExpire)
}

// cancelExpiryLocked cancels any armed expiry timer; safe to call when
// none is armed.
func (r *Room) cancelExpiryLocked() {
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
		r.expiryTimer = nil
	}
}

// removeMemberLocked removes a member, transferring host if needed. It
// returns the new host id (if a transfer happened) and whether the room
// is now empty.
func (r *Room) removeMemberLocked(id uint64) (newHost uint64, transferred bool, empty bool) {
	delete(r.members, id)
	for docID, subs := range r.topics {
		delete(subs, id)
		_ = docID
	}

	if r.hasHost && r.hostID == id {
		r.hasHost = false
		if next, ok := r.oldestMemberLocked(); ok {
			r.hostID = next.id
			r.hasHost = true
			newHost = next.id
			transferred = true
		}
	}

	if len(r.members) == 0 {
		r.state = StateEmpty
		empty = true
	}
	return
}

func (r *Room) oldestMemberLocked() (*member, bool) {
	var oldest *member
	for _, m := range r.members {
		if oldest == nil || m.joinSeq < oldest.joinSeq {
			oldest = m
		}
	}
	return oldest, oldest != nil
}

func (r *Room) isHostLocked(id uint64) bool {
	return r.hasHost && r.hostID == id
}

// documentIDsLocked returns all document ids in a stable order, used when
// seeding persistence rows at room creation.
func (r *Room) documentIDsLocked() []int {
	ids := make([]int, 0, len(r.documents))
	for id := range r.documents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Room) editorsLocked() []protocol.Editor {
	ids := r.documentIDsLocked()
	out := make([]protocol.Editor, 0, len(ids))
	for _, id := range ids {
		meta := r.docMeta[id]
		out = append(out, protocol.Editor{ID: id, Name: meta.name, Language: meta.language})
	}
	return out
}

func (r *Room) usersLocked() []protocol.User {
	out := make([]protocol.User, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, protocol.User{
			ID:       m.id,
			Username: m.displayName,
			Color:    m.colorTag,
			IsHost:   r.isHostLocked(m.id),
		})
	}
	return out
}

func (r *Room) subscribeLocked(docID int, participantID uint64) bool {
	subs, ok := r.topics[docID]
	if !ok {
		return false
	}
	if m, ok := r.members[participantID]; ok {
		if m.currentDocID != nil {
			if old, ok := r.topics[*m.currentDocID]; ok {
				delete(old, participantID)
			}
		}
		id := docID
		m.currentDocID = &id
	}
	subs[participantID] = struct{}{}
	return true
}

func (r *Room) unsubscribeLocked(docID int, participantID uint64) {
	if subs, ok := r.topics[docID]; ok {
		delete(subs, participantID)
	}
	if m, ok := r.members[participantID]; ok && m.currentDocID != nil && *m.currentDocID == docID {
		m.currentDocID = nil
	}
}

// documentCountLocked returns the number of live documents in the room.
func (r *Room) documentCountLocked() int {
	return len(r.documents)
}

// removeDocumentLocked deletes a document, provided it is not the last
// one remaining (spec.md section 4.4, remove_editor / LastEditor).
func (r *Room) removeDocumentLocked(id int) error {
	if _, ok := r.documents[id]; !ok {
		return errEditorNotFound(id)
	}
	if r.documentCountLocked() <= 1 {
		return errLastEditor()
	}
	delete(r.documents, id)
	delete(r.docMeta, id)
	delete(r.topics, id)
	for _, m := range r.members {
		if m.currentDocID != nil && *m.currentDocID == id {
			m.currentDocID = nil
		}
	}
	return nil
}

// allMemberIDsLocked returns every member id currently in the room.
func (r *Room) allMemberIDsLocked() []uint64 {
	out := make([]uint64, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// allMemberIDsExceptLocked returns every member id except the given one,
// used to broadcast a join to everyone already present.
func (r *Room) allMemberIDsExceptLocked(except uint64) []uint64 {
	out := make([]uint64, 0, len(r.members))
	for id := range r.members {
		if id != except {
			out = append(out, id)
		}
	}
	return out
}

func (r *Room) subscribersLocked(docID int) []uint64 {
	subs, ok := r.topics[docID]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}
