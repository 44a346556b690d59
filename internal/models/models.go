// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

// Package models defines the domain entities shared by the store, the
// realtime hub and the HTTP API. All wire-facing structs use one canonical
// camelCase JSON shape; there is no dual snake_case reading anywhere.
package models

import "time"

// User roles.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleDoctor     = "doctor"
	RoleNurse      = "nurse"
	RoleParamedic  = "paramedic"
)

// Transport session statuses.
const (
	SessionActive     = "active"
	SessionOnboarded  = "onboarded"
	SessionInTransit  = "in_transit"
	SessionOffboarded = "offboarded"
	SessionCancelled  = "cancelled"
)

// Message types carried on the chat channel.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// Organization is a hospital or an ambulance operator.
type Organization struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Kind      string    `json:"kind" gorm:"size:32"` // hospital | fleet_operator
	Address   string    `json:"address" gorm:"size:512"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ambulance is a fleet vehicle. The list endpoint is served through a
// 5-minute TTL cache; see internal/fleet.
type Ambulance struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string    `json:"organizationId" gorm:"size:36;index"`
	CallSign       string    `json:"callSign" gorm:"size:64;uniqueIndex"`
	Plate          string    `json:"plate" gorm:"size:32"`
	Status         string    `json:"status" gorm:"size:32"` // available | dispatched | maintenance
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// User is a platform account (hospital staff or ambulance crew).
// PasswordHash never crosses the wire.
type User struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string    `json:"organizationId" gorm:"size:36;index"`
	Username       string    `json:"username" gorm:"size:128;uniqueIndex"`
	FirstName      string    `json:"firstName" gorm:"size:128"`
	LastName       string    `json:"lastName" gorm:"size:128"`
	Role           string    `json:"role" gorm:"size:32"`
	PasswordHash   string    `json:"-" gorm:"size:128"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Session is one ambulance-patient transport instance. It is created on
// patient onboarding, moves through in_transit, and terminates as
// offboarded or cancelled. Sessions are never deleted, only re-fetched.
type Session struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	Status        string     `json:"status" gorm:"size:32;index"`
	AmbulanceID   string     `json:"ambulanceId" gorm:"size:36;index"`
	PatientName   string     `json:"patientName" gorm:"size:255"`
	PatientRef    string     `json:"patientRef" gorm:"size:64"`
	DestinationID string     `json:"destinationId" gorm:"size:36;index"` // hospital organization
	OnboardedAt   time.Time  `json:"onboardedAt"`
	OffboardedAt  *time.Time `json:"offboardedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Terminal reports whether the session can no longer change state.
func (s *Session) Terminal() bool {
	return s.Status == SessionOffboarded || s.Status == SessionCancelled
}

// ChatMessage is one message on a session's chat channel. IDs are ULIDs,
// so lexicographic order matches creation order.
type ChatMessage struct {
	ID              string    `json:"id" gorm:"primaryKey;size:26"`
	SessionID       string    `json:"sessionId" gorm:"size:36;index:idx_messages_session_created,priority:1"`
	SenderID        string    `json:"senderId" gorm:"size:36;index"`
	SenderFirstName string    `json:"senderFirstName" gorm:"size:128"`
	SenderLastName  string    `json:"senderLastName" gorm:"size:128"`
	SenderRole      string    `json:"senderRole" gorm:"size:32"`
	Message         string    `json:"message" gorm:"type:text"`
	MessageType     string    `json:"messageType" gorm:"size:32"`
	CreatedAt       time.Time `json:"createdAt" gorm:"index:idx_messages_session_created,priority:2"`
}

// Notification is a server-pushed alert for one user.
type Notification struct {
	ID        string    `json:"id" gorm:"primaryKey;size:26"`
	UserID    string    `json:"userId" gorm:"size:36;index"`
	Title     string    `json:"title" gorm:"size:255"`
	Message   string    `json:"message" gorm:"type:text"`
	IsRead    bool      `json:"isRead" gorm:"index"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// OnlineUser is one entry in a session room's presence listing.
type OnlineUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

// TypingUser is one entry in a session's ephemeral typing set.
type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
