package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Family represents a NYC taxi dataset family (the release tag on the source repo).
type Family string

const (
	Yellow Family = "yellow"
	Green  Family = "green"
	FHV    Family = "fhv"
)

// Validate checks that the family is a known taxi colour.
func (f Family) Validate() error {
	switch f {
	case Yellow, Green, FHV:
		return nil
	default:
		return fmt.Errorf("unknown taxi family %q (want yellow, green or fhv)", string(f))
	}
}

// ActionType selects between the Belgian housing transaction and lease files.
type ActionType string

const (
	Transactions ActionType = "transactions"
	Leases       ActionType = "leases"
)

// Validate checks that the action type is known.
func (a ActionType) Validate() error {
	switch a {
	case Transactions, Leases:
		return nil
	default:
		return fmt.Errorf("unknown action type %q (want transactions or leases)", string(a))
	}
}

// RunID represents a UUIDv7 run identifier.
type RunID string

// NewRunID generates a fresh UUIDv7 run identifier.
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run-id: %w", err)
	}
	return RunID(id.String()), nil
}

// Validate checks that the RunID is a valid UUIDv7.
func (r RunID) Validate() error {
	if r == "" {
		return fmt.Errorf("run-id cannot be empty")
	}
	id, err := uuid.Parse(string(r))
	if err != nil {
		return fmt.Errorf("run-id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("run-id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the run ID as a string.
func (r RunID) String() string {
	return string(r)
}
