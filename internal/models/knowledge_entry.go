package models

import "time"

// KnowledgeEntry ties a topic to the wiki page that accumulates its content.
type KnowledgeEntry struct {
	TopicKey       string    `db:"topic_key"`
	PageTitle      string    `db:"page_title"`
	PageRevisionID string    `db:"page_revision_id"` // last revision written by this service
	Categories     []string  `db:"categories"`
	Fingerprints   []string  `db:"-"`
	Version        int64     `db:"version"`
	CreatedAt      time.Time `db:"created_at"`
	LastUpdated    time.Time `db:"last_updated"`
}

func (e *KnowledgeEntry) HasFingerprint(fp string) bool {
	for _, f := range e.Fingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// EntryUpdate is a proposed change to the Knowledge Index. An empty
// ExpectedRevision means the topic must not exist yet.
type EntryUpdate struct {
	TopicKey         string
	PageTitle        string
	ExpectedRevision string
	NewRevision      string
	Categories       []string
	Fingerprint      string
	UnitID           string
}
