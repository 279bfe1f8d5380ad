package models

import "time"

// Vote records a single citizen vote on a demand. The (demand_id, voter_id)
// pair is unique at the storage layer; a voter casts at most one vote per
// demand and no retraction is supported.
type Vote struct {
	ID       string    `db:"id" json:"id"`
	DemandID string    `db:"demand_id" json:"demandId"`
	VoterID  string    `db:"voter_id" json:"voterId"`
	CastAt   time.Time `db:"cast_at" json:"castAt"`
}
