package models

type WriteAction string

const (
	ActionCreate  WriteAction = "create"
	ActionUpdate  WriteAction = "update"
	ActionDiscard WriteAction = "discard"
)

// PageWriteIntent is the decision produced by synthesis.
type PageWriteIntent struct {
	Action          WriteAction
	Title           string
	BodyDelta       string
	Categories      []string
	BasedOnRevision string // page revision the merge assumes
	EntryRevision   string // index revision the decision read; empty for create

	TopicKey    string
	Fingerprint string
	UnitID      string
	// Reason is set for discards and wraps a failure sentinel.
	Reason error
}

type PageResult struct {
	Title          string
	RevisionID     string
	Created        bool
	AlreadyApplied bool
}
