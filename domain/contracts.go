package domain

import (
	"github.com/fllarpy/reqprof/domain/profiles"
)

// Snapshot is a point-in-time, read-only copy of the profile history.
type Snapshot struct {
	Profiles []profiles.Summary `json:"profiles"`
	Evicted  uint64             `json:"evicted"`
}

// ProfileReader defines the contract for reading finished profiles from a store.
type ProfileReader interface {
	GetSnapshot() *Snapshot
	GetProfile(id uint64) (profiles.Record, bool)
}

// ProfileWriter defines the contract for writing finished profiles to a store.
// The store assigns the record ID and returns it.
type ProfileWriter interface {
	AddProfile(record profiles.Record) uint64
}

// ProfileStore is the combined interface for a profile store.
type ProfileStore interface {
	ProfileReader
	ProfileWriter
}
