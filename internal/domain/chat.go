package domain

import "time"

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageSystem       MessageType = "system"
	MessageAnnouncement MessageType = "announcement"
)

type ChatMessage struct {
	ID        string      `json:"id"`
	RoomID    RoomID      `json:"roomId"`
	UserID    UserID      `json:"userId"`
	Username  string      `json:"username"`
	Message   string      `json:"message"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}
