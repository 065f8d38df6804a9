package dto

import (
	"time"

	"chatwiki/internal/models"
)

const timeLayout = time.RFC3339

type DeadLetterResponse struct {
	ID        string `json:"id"`
	UnitID    string `json:"unit_id"`
	SourceID  string `json:"source_id"`
	ChatRef   string `json:"chat_ref"`
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"created_at"`
}

func NewDeadLetterResponse(dl *models.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:        dl.ID.String(),
		UnitID:    dl.UnitID,
		SourceID:  dl.SourceID,
		ChatRef:   dl.ChatRef,
		Kind:      dl.Kind,
		Stage:     dl.Stage,
		Reason:    dl.Reason,
		Attempts:  dl.Attempts,
		CreatedAt: dl.CreatedAt.Format(timeLayout),
	}
}

type DeadLetterListResponse struct {
	Items  []DeadLetterResponse `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
