package domain

import "time"

// StreamInfo describes a live broadcast running out of a room.
type StreamInfo struct {
	RoomID      RoomID     `json:"roomId"`
	IsLive      bool       `json:"isLive"`
	StartedAt   *time.Time `json:"startedAt"`
	ViewerCount int        `json:"viewerCount"`
	StreamKey   string     `json:"streamKey"`
	HostID      UserID     `json:"hostId"`
}
