// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantID string

// NewParticipantID avoids ad-hoc uuid calls in adapters.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

// OccupantRecord is what a participant tracks into its presence channel entry.
// Created on admission, removed on leave/cleanup, never mutated in place.
type OccupantRecord struct {
	ParticipantID ParticipantID `json:"participant_id"`
	JoinedAt      time.Time     `json:"joined_at"`
}

func NewOccupantRecord(id ParticipantID) OccupantRecord {
	return OccupantRecord{ParticipantID: id, JoinedAt: time.Now()}
}
