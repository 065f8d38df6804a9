package models

import (
	"time"

	"github.com/google/uuid"
)

type DeadLetter struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UnitID     string     `db:"unit_id" json:"unit_id"`
	SourceID   string     `db:"source_id" json:"source_id"`
	ChatRef    string     `db:"chat_ref" json:"chat_ref"`
	Kind       string     `db:"kind" json:"kind"`
	Stage      string     `db:"stage" json:"stage"`
	Reason     string     `db:"reason" json:"reason"`
	Attempts   int        `db:"attempts" json:"attempts"`
	Message    RawMessage `db:"message" json:"message"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
