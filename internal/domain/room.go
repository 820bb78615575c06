package domain

import "time"

type RoomID string

// RoomSettings are the per-room feature toggles persisted with the room.
type RoomSettings struct {
	MaxParticipants  int  `json:"maxParticipants"`
	AllowScreenShare bool `json:"allowScreenShare"`
	AllowChat        bool `json:"allowChat"`
	RecordingEnabled bool `json:"recordingEnabled"`
}

// RoomInfo is the serializable shape of a room, used for snapshots
// and for persisting to the directory.
type RoomInfo struct {
	RoomID     RoomID       `json:"roomId"`
	HostID     UserID       `json:"hostId"`
	SubHostIDs []UserID     `json:"subHostIds"`
	CreatedAt  time.Time    `json:"createdAt"`
	Settings   RoomSettings `json:"settings"`
}
