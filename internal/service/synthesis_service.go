package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"
	"chatwiki/internal/repository"
)

// maxTitleSuffix bounds the " (n)" disambiguation search.
const maxTitleSuffix = 50

// KnowledgeReader is the read side of the Knowledge Index.
type KnowledgeReader interface {
	Lookup(ctx context.Context, topicKey string) (*models.KnowledgeEntry, error)
	LookupByTitle(ctx context.Context, title string) (*models.KnowledgeEntry, error)
	LookupByFingerprint(ctx context.Context, fingerprint string) (*models.KnowledgeEntry, error)
}

// SynthesisService decides what a unit does to the knowledge base. It only
// reads the index it is given and never calls external services; the
// resulting intent is published and committed by the pipeline.
type SynthesisService struct {
	threshold float64
	nowFunc   func() time.Time
}

func NewSynthesisService(confidenceThreshold float64) *SynthesisService {
	return &SynthesisService{
		threshold: confidenceThreshold,
		nowFunc:   func() time.Time { return time.Now().UTC() },
	}
}

// Fingerprint hashes a normalized payload. Whitespace differences do not
// change it.
func Fingerprint(payload string) string {
	sum := sha256.Sum256([]byte(collapseSpaces(payload)))
	return hex.EncodeToString(sum[:])
}

// UnitMarker is the hidden tag left in a page for every folded unit. The
// publisher looks for it to recognise writes that already happened.
func UnitMarker(unitID string) string {
	return "<!-- chatwiki-unit:" + unitID + " -->"
}

// Rebase records that a page was edited outside this service: while the
// index still holds From for Title, the wiki is really at To.
type Rebase struct {
	Title string
	From  string
	To    string
}

// SynthesisOptions carries what earlier conflicts taught about the wiki.
type SynthesisOptions struct {
	// ExcludedTitles are taken on the wiki by pages the index does not
	// track; they are skipped when naming a new page.
	ExcludedTitles []string
	Rebase         *Rebase
}

// Synthesize turns an analyzed unit into a page write intent.
func (s *SynthesisService) Synthesize(
	ctx context.Context,
	unit *models.AnalyzableUnit,
	analysis *models.AnalysisResult,
	index KnowledgeReader,
	opts SynthesisOptions,
) (*models.PageWriteIntent, error) {
	fingerprint := Fingerprint(unit.Payload)
	intent := &models.PageWriteIntent{
		TopicKey:    analysis.TopicKey,
		Fingerprint: fingerprint,
		UnitID:      unit.UnitID,
	}

	folded, err := index.LookupByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if folded != nil {
		intent.Action = models.ActionDiscard
		intent.Title = folded.PageTitle
		intent.Reason = fmt.Errorf("folded into %q: %w", folded.PageTitle, failure.ErrAlreadyIncorporated)
		return intent, nil
	}

	if analysis.Confidence < s.threshold {
		intent.Action = models.ActionDiscard
		intent.Reason = fmt.Errorf("confidence %.2f < %.2f: %w", analysis.Confidence, s.threshold, failure.ErrLowConfidence)
		return intent, nil
	}

	entry, err := index.Lookup(ctx, analysis.TopicKey)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		title, err := s.chooseTitle(ctx, index, analysis.SuggestedTitle, opts.ExcludedTitles)
		if err != nil {
			return nil, err
		}
		intent.Action = models.ActionCreate
		intent.Title = title
		intent.Categories = repository.NormalizeCategories(analysis.Categories)
		intent.BodyDelta = s.pageBody(title, unit, analysis)
		return intent, nil
	}

	intent.Action = models.ActionUpdate
	intent.Title = entry.PageTitle
	intent.EntryRevision = entry.PageRevisionID
	intent.BasedOnRevision = entry.PageRevisionID
	if rb := opts.Rebase; rb != nil && rb.From == entry.PageRevisionID &&
		repository.TitleKey(rb.Title) == repository.TitleKey(entry.PageTitle) {
		intent.BasedOnRevision = rb.To
	}
	intent.Categories = repository.NormalizeCategories(append(append([]string{}, entry.Categories...), analysis.Categories...))
	intent.BodyDelta = s.addendum(unit, analysis)
	return intent, nil
}

// chooseTitle picks the suggested title, or the first "title (n)" that no
// other topic owns and that is not excluded.
func (s *SynthesisService) chooseTitle(ctx context.Context, index KnowledgeReader, title string, excludedTitles []string) (string, error) {
	excluded := make(map[string]bool, len(excludedTitles))
	for _, t := range excludedTitles {
		excluded[repository.TitleKey(t)] = true
	}

	for n := 1; n <= maxTitleSuffix; n++ {
		candidate := title
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)", title, n)
		}
		if excluded[repository.TitleKey(candidate)] {
			continue
		}

		owner, err := index.LookupByTitle(ctx, candidate)
		if err != nil {
			return "", err
		}
		if owner == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free title for %q: %w", title, failure.ErrTitleTaken)
}

func (s *SynthesisService) pageBody(title string, unit *models.AnalyzableUnit, analysis *models.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n%s\n\n=== Source ===\n", title, analysis.Summary)
	s.writeSource(&b, unit)
	return b.String()
}

func (s *SynthesisService) addendum(unit *models.AnalyzableUnit, analysis *models.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Update %s ===\n%s\n\n", s.unitTime(unit).Format("2006-01-02 15:04 UTC"), analysis.Summary)
	s.writeSource(&b, unit)
	return b.String()
}

func (s *SynthesisService) writeSource(b *strings.Builder, unit *models.AnalyzableUnit) {
	fmt.Fprintf(b, "* Date: %s\n", s.unitTime(unit).Format("2006-01-02 15:04 UTC"))
	if unit.AuthorRef != "" {
		fmt.Fprintf(b, "* Author: %s\n", unit.AuthorRef)
	}
	if unit.ChatRef != "" {
		fmt.Fprintf(b, "* Chat: %s\n", unit.ChatRef)
	}
	fmt.Fprintf(b, "* Message: %s\n", unit.SourceID)
	b.WriteString(UnitMarker(unit.UnitID))
}

func (s *SynthesisService) unitTime(unit *models.AnalyzableUnit) time.Time {
	if unit.Timestamp.IsZero() {
		return s.nowFunc()
	}
	return unit.Timestamp.UTC()
}
