package room

import "fmt"

// Kind tags the wire error category a Error maps onto, per spec.md
// section 7.
type Kind int

const (
	KindRoomNotFound Kind = iota
	KindNotInRoom
	KindEditorNotFound
	KindFutureRevision
	KindInvalidOperation
	KindNotHost
	KindLastEditor
)

// Error is a domain error the registry returns. The wsserver layer picks
// the wire event (room_error / operation_error / sync_error) by the command
// that failed, and checks Kind, without string matching, to send
// NotInRoom on room_error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func errRoomNotFound(code string) error {
	return &Error{Kind: KindRoomNotFound, Message: fmt.Sprintf("room %q not found", code)}
}

func errNotInRoom() error {
	return &Error{Kind: KindNotInRoom, Message: "not in a room"}
}

func errEditorNotFound(id int) error {
	return &Error{Kind: KindEditorNotFound, Message: fmt.Sprintf("editor %d not found", id)}
}

func errNotHost() error {
	return &Error{Kind: KindNotHost, Message: "only the host may do that"}
}

func errLastEditor() error {
	return &Error{Kind: KindLastEditor, Message: "cannot remove the only remaining editor"}
}
