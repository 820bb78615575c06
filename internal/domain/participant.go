package domain

import "time"

// Participant is a user's membership record within a room.
// It is stable across reconnects: rejoin only moves PrimarySocketID.
type Participant struct {
	UserID          UserID    `json:"userId"`
	Username        string    `json:"username"`
	Role            Role      `json:"role"`
	PrimarySocketID string    `json:"socketId"`
	JoinedAt        time.Time `json:"joinedAt"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoEnabled  bool      `json:"isVideoEnabled"`
}

func NewParticipant(user *User, role Role, socketID string) *Participant {
	return &Participant{
		UserID:          user.ID,
		Username:        user.Username,
		Role:            role,
		PrimarySocketID: socketID,
		JoinedAt:        time.Now(),
		IsVideoEnabled:  true,
	}
}
