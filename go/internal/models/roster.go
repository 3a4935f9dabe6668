package models

// RosterEntry is one monster in the master's roster.
type RosterEntry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// LogEntry is a write-once roll log record.
type LogEntry struct {
	Key       string `json:"-"`
	Msg       string `json:"msg"`
	Autor     string `json:"autor"`
	Timestamp int64  `json:"timestamp"`
}

// Wire returns the store payload of the entry.
func (e LogEntry) Wire() map[string]any {
	return map[string]any{
		"msg":       e.Msg,
		"autor":     e.Autor,
		"timestamp": e.Timestamp,
	}
}

// Role is the local client's role in the room.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

// IsMaster reports whether the role may run master-only operations.
func (r Role) IsMaster() bool {
	return r == RoleOwner
}
