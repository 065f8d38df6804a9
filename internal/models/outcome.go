package models

import "time"

type OutcomeStatus string

const (
	OutcomePublished OutcomeStatus = "published"
	OutcomeDiscarded OutcomeStatus = "discarded"
	OutcomeParked    OutcomeStatus = "parked"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// UnitOutcome is the terminal result recorded for a unit.
type UnitOutcome struct {
	UnitID    string        `db:"unit_id" json:"unit_id"`
	SourceID  string        `db:"source_id" json:"source_id"`
	ChatRef   string        `db:"chat_ref" json:"chat_ref"`
	Status    OutcomeStatus `db:"status" json:"status"`
	Kind      string        `db:"kind" json:"kind,omitempty"`
	TopicKey  string        `db:"topic_key" json:"topic_key,omitempty"`
	PageTitle string        `db:"page_title" json:"page_title,omitempty"`
	Reason    string        `db:"reason" json:"reason,omitempty"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Final reports whether the unit needs no further processing on redelivery.
func (o *UnitOutcome) Final() bool {
	return o.Status == OutcomePublished || o.Status == OutcomeDiscarded
}
