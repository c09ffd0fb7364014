// Package record defines the domain records captured in the field.
//
// Every record gets a local UUID at capture time. The remote ID is assigned
// by the sync server once a push lands; a record that has only ever been
// staged on the device simply has none yet. Staging identity is always the
// local ID, so updates and removals behave the same whether or not the
// record has reached the server.
package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fix is a location sample attached to a record at capture time.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"` // meters, 0 = unknown
	Timestamp time.Time `json:"timestamp"`
}

// Session is one field session log: a facilitator-led village visit.
type Session struct {
	LocalID      string    `json:"local_id"`
	RemoteID     string    `json:"remote_id,omitempty"`
	Village      string    `json:"village"`
	UnionCouncil string    `json:"union_council,omitempty"`
	Facilitator  string    `json:"facilitator"`
	Attendees    int       `json:"attendees"`
	Notes        string    `json:"notes,omitempty"`
	HeldAt       time.Time `json:"held_at"`
	Location     *Fix      `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewSession creates a session with a fresh local ID and timestamps.
func NewSession(village, facilitator string, attendees int, heldAt time.Time) Session {
	now := time.Now().UTC()
	if heldAt.IsZero() {
		heldAt = now
	}
	return Session{
		LocalID:     uuid.NewString(),
		Village:     village,
		Facilitator: facilitator,
		Attendees:   attendees,
		HeldAt:      heldAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Identity returns the stable staging identifier.
func (s Session) Identity() string { return s.LocalID }

// Validate checks required session fields.
func (s Session) Validate() error {
	if s.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if s.Village == "" {
		return fmt.Errorf("village is required")
	}
	if s.Facilitator == "" {
		return fmt.Errorf("facilitator is required")
	}
	if s.Attendees < 0 {
		return fmt.Errorf("attendees cannot be negative")
	}
	return nil
}

// NutritionStatus classifies a screening by MUAC.
type NutritionStatus string

const (
	// StatusSAM is severe acute malnutrition: MUAC below 115mm.
	StatusSAM NutritionStatus = "sam"
	// StatusMAM is moderate acute malnutrition: MUAC 115mm to below 125mm.
	StatusMAM NutritionStatus = "mam"
	// StatusNormal is MUAC at or above 125mm.
	StatusNormal NutritionStatus = "normal"
)

// MUAC thresholds in millimeters (WHO cut-offs for children 6-59 months).
const (
	muacSAMThreshold = 115
	muacMAMThreshold = 125
)

// ClassifyMUAC maps a mid-upper-arm circumference in millimeters to a
// nutrition status.
func ClassifyMUAC(muacMM int) NutritionStatus {
	switch {
	case muacMM < muacSAMThreshold:
		return StatusSAM
	case muacMM < muacMAMThreshold:
		return StatusMAM
	default:
		return StatusNormal
	}
}

// Screening is one child health screening record.
type Screening struct {
	LocalID    string          `json:"local_id"`
	RemoteID   string          `json:"remote_id,omitempty"`
	ChildName  string          `json:"child_name"`
	FatherName string          `json:"father_name,omitempty"`
	AgeMonths  int             `json:"age_months"`
	MUACMM     int             `json:"muac_mm"`
	Status     NutritionStatus `json:"status"`
	Village    string          `json:"village"`
	ScreenedAt time.Time       `json:"screened_at"`
	Location   *Fix            `json:"location,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewScreening creates a screening with a fresh local ID; the nutrition
// status is derived from the MUAC value.
func NewScreening(childName, village string, ageMonths, muacMM int, screenedAt time.Time) Screening {
	now := time.Now().UTC()
	if screenedAt.IsZero() {
		screenedAt = now
	}
	return Screening{
		LocalID:    uuid.NewString(),
		ChildName:  childName,
		Village:    village,
		AgeMonths:  ageMonths,
		MUACMM:     muacMM,
		Status:     ClassifyMUAC(muacMM),
		ScreenedAt: screenedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Identity returns the stable staging identifier.
func (s Screening) Identity() string { return s.LocalID }

// Validate checks required screening fields.
func (s Screening) Validate() error {
	if s.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if s.ChildName == "" {
		return fmt.Errorf("child_name is required")
	}
	if s.Village == "" {
		return fmt.Errorf("village is required")
	}
	if s.AgeMonths < 0 || s.AgeMonths > 72 {
		return fmt.Errorf("age_months out of range: %d", s.AgeMonths)
	}
	if s.MUACMM <= 0 {
		return fmt.Errorf("muac_mm must be positive")
	}
	return nil
}
