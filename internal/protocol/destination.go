package protocol

import "fmt"

// Broadcast destinations are per note; unicast destinations are per session and
// resolved by the server to the connected user.
const (
	UserInitialContent = "/user/queue/notepad/initial"
	UserWindowPosition = "/user/queue/notepad/window"
	UserErrors         = "/user/queue/errors"
)

func OperationsTopic(noteID string) string { return fmt.Sprintf("/topic/notes/%s/operations", noteID) }
func CursorsTopic(noteID string) string    { return fmt.Sprintf("/topic/notes/%s/cursors", noteID) }
func TypingTopic(noteID string) string     { return fmt.Sprintf("/topic/notes/%s/typing", noteID) }
func SyncTopic(noteID string) string       { return fmt.Sprintf("/topic/notes/%s/sync", noteID) }
func PresenceTopic(noteID string) string   { return fmt.Sprintf("/topic/notes/%s/presence", noteID) }

// NoteDestinations is the full subscription set a client needs to edit noteID.
func NoteDestinations(noteID string) []string {
	return []string{
		OperationsTopic(noteID),
		CursorsTopic(noteID),
		TypingTopic(noteID),
		SyncTopic(noteID),
		PresenceTopic(noteID),
		UserInitialContent,
		UserWindowPosition,
		UserErrors,
	}
}
