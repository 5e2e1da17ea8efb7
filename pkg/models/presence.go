package models

import (
	"time"
)

// PresenceStatus is a user's availability state
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusBusy    PresenceStatus = "busy"
	PresenceStatusAway    PresenceStatus = "away"
	PresenceStatusDND     PresenceStatus = "dnd"
	PresenceStatusOffline PresenceStatus = "offline"
)

// Presence is one row per user, globally scoped. Best-effort telemetry,
// never authoritative for access control.
type Presence struct {
	UserID            string         `json:"user_id"`
	Status            PresenceStatus `json:"status"`
	StatusMessage     string         `json:"status_message,omitempty"`
	CurrentPage       string         `json:"current_page,omitempty"`
	CurrentEntityType string         `json:"current_entity_type,omitempty"`
	CurrentEntityID   string         `json:"current_entity_id,omitempty"`
	IsTyping          bool           `json:"is_typing"`
	TypingField       string         `json:"typing_field,omitempty"`
	ConnectionID      string         `json:"connection_id,omitempty"`
	ClientInfo        ClientInfo     `json:"client_info,omitempty"`
	LastHeartbeat     time.Time      `json:"last_heartbeat"`
}

// ClientInfo describes the client software behind a connection
type ClientInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// UpdatePresenceRequest is the request to change presence status
type UpdatePresenceRequest struct {
	Status        PresenceStatus `json:"status" validate:"required,oneof=online busy away dnd offline"`
	StatusMessage string         `json:"status_message,omitempty"`
}

// PresenceListResponse is the response for listing online users
type PresenceListResponse struct {
	Items []Presence `json:"items"`
}
