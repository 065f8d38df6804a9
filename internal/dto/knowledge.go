package dto

import "chatwiki/internal/models"

type EntryResponse struct {
	TopicKey       string   `json:"topic_key"`
	PageTitle      string   `json:"page_title"`
	PageRevisionID string   `json:"page_revision_id"`
	Categories     []string `json:"categories"`
	Contributions  int      `json:"contributions"`
	Version        int64    `json:"version"`
	CreatedAt      string   `json:"created_at"`
	LastUpdated    string   `json:"last_updated"`
}

func NewEntryResponse(e *models.KnowledgeEntry) EntryResponse {
	categories := e.Categories
	if categories == nil {
		categories = []string{}
	}
	return EntryResponse{
		TopicKey:       e.TopicKey,
		PageTitle:      e.PageTitle,
		PageRevisionID: e.PageRevisionID,
		Categories:     categories,
		Contributions:  len(e.Fingerprints),
		Version:        e.Version,
		CreatedAt:      e.CreatedAt.Format(timeLayout),
		LastUpdated:    e.LastUpdated.Format(timeLayout),
	}
}

type StatsResponse struct {
	Outcomes map[models.OutcomeStatus]int `json:"outcomes"`
	Queued   int                          `json:"queued"`
}
