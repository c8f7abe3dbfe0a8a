package models

// UnreadSnapshot is the unread-message badge state of the signed-in user.
//
// TotalUnread is not required to equal the sum of PerConversation: the
// conversation the user is currently viewing is excluded from the total.
// Both the total and every per-conversation count are never negative.
type UnreadSnapshot struct {
	TotalUnread     int           `json:"total_unread"`
	PerConversation map[int64]int `json:"per_conversation"`
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (s UnreadSnapshot) Clone() UnreadSnapshot {
	per := make(map[int64]int, len(s.PerConversation))
	for id, n := range s.PerConversation {
		per[id] = n
	}
	return UnreadSnapshot{TotalUnread: s.TotalUnread, PerConversation: per}
}
