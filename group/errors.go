package group

import "fmt"

// GroupFull is returned by AddMember when the group already holds max
// members.
type GroupFull struct {
	Max int
}

func (e *GroupFull) Error() string { return fmt.Sprintf("group: full at max %d members", e.Max) }

// MemberNotFound is returned when a member lookup misses.
type MemberNotFound struct {
	SocketID uint32
}

func (e *MemberNotFound) Error() string {
	return fmt.Sprintf("group: no member with socket id %d", e.SocketID)
}
