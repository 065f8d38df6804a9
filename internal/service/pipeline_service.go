package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"
	"chatwiki/pkg/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	stageNormalize  = "normalize"
	stageAnalyze    = "analyze"
	stageSynthesize = "synthesize"
	stagePublish    = "publish"
	stageCommit     = "commit"
)

type Analyzer interface {
	Analyze(ctx context.Context, unit *models.AnalyzableUnit) (*models.AnalysisResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, intent *models.PageWriteIntent) (*models.PageResult, error)
	Reconcile(ctx context.Context, intent *models.PageWriteIntent) (*models.PageResult, error)
}

// KnowledgeIndex is the Knowledge Index as the pipeline sees it. Commit is
// the only mutation.
type KnowledgeIndex interface {
	KnowledgeReader
	Commit(ctx context.Context, upd models.EntryUpdate) (*models.KnowledgeEntry, error)
}

type OutcomeStore interface {
	Record(ctx context.Context, o *models.UnitOutcome) error
	Get(ctx context.Context, unitID string) (*models.UnitOutcome, error)
}

type DeadLetterStore interface {
	Park(ctx context.Context, dl *models.DeadLetter) error
}

// MessageSource is the chat transport capability: a stream of raw messages
// delivered at least once. The channel closes when the source is exhausted.
type MessageSource interface {
	Messages(ctx context.Context) (<-chan models.RawMessage, error)
}

type PipelineDeps struct {
	Normalizer  *Normalizer
	Analyzer    Analyzer
	Synthesizer *SynthesisService
	Publisher   Publisher
	Index       KnowledgeIndex
	Outcomes    OutcomeStore
	DeadLetters DeadLetterStore
}

// Report summarizes a processed batch.
type Report struct {
	Published int `json:"published"`
	Discarded int `json:"discarded"`
	Parked    int `json:"parked"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (r *Report) add(o *models.UnitOutcome, err error) {
	if err != nil || o == nil {
		r.Failed++
		return
	}
	switch o.Status {
	case models.OutcomePublished:
		r.Published++
	case models.OutcomeDiscarded:
		r.Discarded++
	case models.OutcomeParked:
		r.Parked++
	case models.OutcomeSkipped:
		r.Skipped++
	}
}

// Merge adds the counts of other to r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Published += other.Published
	r.Discarded += other.Discarded
	r.Parked += other.Parked
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// PipelineService drives units through normalize, analyze, synthesize,
// publish and commit. A failing unit is discarded or parked on its own and
// never blocks the others.
type PipelineService struct {
	PipelineDeps
	gate             *TopicGate
	transient        RetryPolicy
	conflictAttempts int
	commitAttempts   int
	workers          int
	logger           *zap.Logger
}

func NewPipelineService(deps PipelineDeps, cfg *config.PipelineConfig, logger *zap.Logger) *PipelineService {
	return &PipelineService{
		PipelineDeps:     deps,
		gate:             NewTopicGate(),
		transient:        RetryPolicyFromConfig(cfg),
		conflictAttempts: cfg.MaxConflictAttempts,
		commitAttempts:   cfg.CommitAttempts,
		workers:          max(cfg.Workers, 1),
		logger:           logger,
	}
}

// Run processes messages from source with up to Workers units in flight,
// until the source closes or ctx is cancelled.
func (p *PipelineService) Run(ctx context.Context, source MessageSource) error {
	messages, err := source.Messages(ctx)
	if err != nil {
		return fmt.Errorf("failed to open message source: %w", err)
	}

	p.logger.Info("Pipeline started", zap.Int("workers", p.workers))

	g := new(errgroup.Group)
	g.SetLimit(p.workers)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case raw, ok := <-messages:
			if !ok {
				break loop
			}
			g.Go(func() error {
				if _, err := p.Process(ctx, raw); err != nil && ctx.Err() == nil {
					p.logger.Error("Failed to process message",
						zap.String("source_id", raw.SourceID),
						zap.String("chat_ref", raw.ChatRef),
						zap.Error(err),
					)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	p.logger.Info("Pipeline stopped")
	return ctx.Err()
}

// ProcessBatch processes a slice of messages concurrently and reports the
// outcomes. Units about the same topic are serialized.
func (p *PipelineService) ProcessBatch(ctx context.Context, batch []models.RawMessage) (*Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, raw := range batch {
		g.Go(func() error {
			outcome, err := p.Process(ctx, raw)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("Failed to process message", zap.String("source_id", raw.SourceID), zap.Error(err))
			}
			mu.Lock()
			report.add(outcome, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return &report, ctx.Err()
}

// Process handles one raw message end to end and returns its recorded
// outcome. An error means the unit did not reach a terminal state, either
// because ctx was cancelled before the publish was applied or because
// the state store failed.
func (p *PipelineService) Process(ctx context.Context, raw models.RawMessage) (*models.UnitOutcome, error) {
	unitID := UnitID(raw.ChatRef, raw.SourceID)
	log := p.logger.With(zap.String("unit_id", unitID), zap.String("source_id", raw.SourceID))

	prev, err := p.Outcomes.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Final() {
		log.Debug("Unit already processed, skipping", zap.String("status", string(prev.Status)))
		return skippedOutcome(prev), nil
	}

	unit, err := p.Normalizer.Normalize(ctx, raw)
	if err != nil {
		return p.fail(ctx, raw, unitID, "", stageNormalize, 1, err)
	}

	var analysis *models.AnalysisResult
	attempts, err := p.retryTransient(ctx, log, stageAnalyze, func() error {
		var aerr error
		analysis, aerr = p.Analyzer.Analyze(ctx, unit)
		return aerr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return p.fail(ctx, raw, unitID, "", stageAnalyze, attempts, err)
	}

	return p.fold(ctx, log, raw, unit, analysis)
}

// fold runs synthesize, publish and commit for an analyzed unit, re-deriving
// the decision from fresh index state after every conflict.
func (p *PipelineService) fold(ctx context.Context, log *zap.Logger, raw models.RawMessage, unit *models.AnalyzableUnit, analysis *models.AnalysisResult) (*models.UnitOutcome, error) {
	fingerprint := Fingerprint(unit.Payload)
	var opts SynthesisOptions

	for round := 1; ; round++ {
		release, err := p.gate.Acquire(ctx, "topic:"+analysis.TopicKey, "fp:"+fingerprint)
		if err != nil {
			return nil, err
		}

		outcome, stage, attempts, err := p.foldOnce(ctx, log, unit, analysis, &opts)
		release()

		if err == nil {
			return outcome, nil
		}
		if ctx.Err() != nil && stage != stageCommit {
			return nil, ctx.Err()
		}
		if failure.KindOf(err) != failure.KindConflict || round >= p.conflictAttempts {
			return p.fail(ctx, raw, unit.UnitID, analysis.TopicKey, stage, attempts, err)
		}

		log.Info("Conflict, re-synthesizing from fresh state",
			zap.String("stage", stage),
			zap.Int("round", round),
			zap.Error(err),
		)
		if err := p.transient.Wait(ctx, round); err != nil {
			return nil, err
		}
	}
}

// foldOnce makes one synthesize, publish, commit pass. Conflicts it sees are
// folded into opts for the next pass.
func (p *PipelineService) foldOnce(ctx context.Context, log *zap.Logger, unit *models.AnalyzableUnit, analysis *models.AnalysisResult, opts *SynthesisOptions) (*models.UnitOutcome, string, int, error) {
	// Another delivery of the same unit holds the same keys and may have
	// finished while this one waited at the gate.
	prev, err := p.Outcomes.Get(ctx, unit.UnitID)
	if err != nil {
		return nil, stageSynthesize, 1, err
	}
	if prev != nil && prev.Final() {
		log.Debug("Unit finished by a concurrent delivery, skipping", zap.String("status", string(prev.Status)))
		return skippedOutcome(prev), "", 1, nil
	}

	var intent *models.PageWriteIntent
	attempts, err := p.retryTransient(ctx, log, stageSynthesize, func() error {
		var serr error
		intent, serr = p.Synthesizer.Synthesize(ctx, unit, analysis, p.Index, *opts)
		return serr
	})
	if err != nil {
		return nil, stageSynthesize, attempts, err
	}

	if intent.Action == models.ActionDiscard {
		outcome, err := p.discard(ctx, unit.UnitID, unit.SourceID, unit.ChatRef, analysis.TopicKey, stageSynthesize, intent.Reason)
		return outcome, stageSynthesize, 1, err
	}

	var result *models.PageResult
	attempts, err = p.retryTransient(ctx, log, stagePublish, func() error {
		var perr error
		result, perr = p.Publisher.Publish(ctx, intent)
		return perr
	})
	if err != nil && (ctx.Err() != nil || failure.KindOf(err) == failure.KindTransient) {
		// The write may have landed before the failure was reported.
		if applied := p.reconcile(ctx, log, intent); applied != nil {
			result, err = applied, nil
		}
	}
	if err != nil {
		var conflict *EditConflictError
		switch {
		case errors.Is(err, failure.ErrTitleTaken):
			opts.ExcludedTitles = append(opts.ExcludedTitles, intent.Title)
		case errors.As(err, &conflict):
			opts.Rebase = &Rebase{Title: intent.Title, From: intent.EntryRevision, To: conflict.Current}
		}
		return nil, stagePublish, attempts, err
	}

	// The wiki has acknowledged the write; from here on the index must be
	// brought in line even if the caller gives up.
	commitCtx := context.WithoutCancel(ctx)
	entry, attempts, err := p.commit(commitCtx, log, intent, result)
	if err != nil {
		return nil, stageCommit, attempts, err
	}

	outcome := &models.UnitOutcome{
		UnitID:    unit.UnitID,
		SourceID:  unit.SourceID,
		ChatRef:   unit.ChatRef,
		Status:    models.OutcomePublished,
		TopicKey:  entry.TopicKey,
		PageTitle: entry.PageTitle,
	}
	if err := p.Outcomes.Record(commitCtx, outcome); err != nil {
		return nil, stageCommit, attempts, err
	}

	log.Info("Unit published",
		zap.String("action", string(intent.Action)),
		zap.String("topic_key", entry.TopicKey),
		zap.String("title", entry.PageTitle),
		zap.String("revision", entry.PageRevisionID),
		zap.Bool("already_applied", result.AlreadyApplied),
	)
	return outcome, "", attempts, nil
}

func (p *PipelineService) commit(ctx context.Context, log *zap.Logger, intent *models.PageWriteIntent, result *models.PageResult) (*models.KnowledgeEntry, int, error) {
	upd := models.EntryUpdate{
		TopicKey:         intent.TopicKey,
		PageTitle:        intent.Title,
		ExpectedRevision: intent.EntryRevision,
		NewRevision:      result.RevisionID,
		Categories:       intent.Categories,
		Fingerprint:      intent.Fingerprint,
		UnitID:           intent.UnitID,
	}
	policy := p.transient
	policy.MaxAttempts = p.commitAttempts

	var entry *models.KnowledgeEntry
	attempts, err := retryWith(ctx, log, policy, stageCommit, func() error {
		var cerr error
		entry, cerr = p.Index.Commit(ctx, upd)
		return cerr
	})
	if errors.Is(err, failure.ErrConcurrentModification) {
		// A retried commit may have landed on the first try.
		if folded, lerr := p.Index.LookupByFingerprint(ctx, intent.Fingerprint); lerr == nil && folded != nil && folded.TopicKey == intent.TopicKey {
			return folded, attempts, nil
		}
	}
	return entry, attempts, err
}

// reconcile checks whether a publish that failed without a definite answer
// was applied anyway. It runs past cancellation since an applied write has to
// reach the index.
func (p *PipelineService) reconcile(ctx context.Context, log *zap.Logger, intent *models.PageWriteIntent) *models.PageResult {
	ctx = context.WithoutCancel(ctx)

	var applied *models.PageResult
	_, err := retryWith(ctx, log, p.transient, stagePublish, func() error {
		var rerr error
		applied, rerr = p.Publisher.Reconcile(ctx, intent)
		return rerr
	})
	if err != nil {
		log.Warn("Failed to read back page after unconfirmed publish",
			zap.String("title", intent.Title),
			zap.Error(err),
		)
		return nil
	}
	if applied != nil {
		log.Info("Unconfirmed publish found on page", zap.String("title", intent.Title))
	}
	return applied
}

func skippedOutcome(prev *models.UnitOutcome) *models.UnitOutcome {
	skipped := *prev
	skipped.Status = models.OutcomeSkipped
	return &skipped
}

func (p *PipelineService) retryTransient(ctx context.Context, log *zap.Logger, stage string, fn func() error) (int, error) {
	return retryWith(ctx, log, p.transient, stage, fn)
}

// retryWith runs fn until it succeeds, fails with a non-transient error or
// policy.MaxAttempts is reached. It returns the number of attempts made.
func retryWith(ctx context.Context, log *zap.Logger, policy RetryPolicy, stage string, fn func() error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil || !failure.Retryable(err) || attempt >= policy.MaxAttempts {
			return attempt, err
		}

		log.Warn("Transient failure, retrying",
			zap.String("stage", stage),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", policy.Backoff(attempt)),
			zap.Error(err),
		)
		if werr := policy.Wait(ctx, attempt); werr != nil {
			return attempt, err
		}
	}
}

// fail records a unit that cannot go on: content failures are discarded,
// everything else is parked for review.
func (p *PipelineService) fail(ctx context.Context, raw models.RawMessage, unitID, topicKey, stage string, attempts int, err error) (*models.UnitOutcome, error) {
	if failure.KindOf(err) == failure.KindContent {
		return p.discard(ctx, unitID, raw.SourceID, raw.ChatRef, topicKey, stage, err)
	}
	return p.park(ctx, raw, unitID, topicKey, stage, attempts, err)
}

func (p *PipelineService) discard(ctx context.Context, unitID, sourceID, chatRef, topicKey, stage string, reason error) (*models.UnitOutcome, error) {
	outcome := &models.UnitOutcome{
		UnitID:   unitID,
		SourceID: sourceID,
		ChatRef:  chatRef,
		Status:   models.OutcomeDiscarded,
		Kind:     string(failure.KindContent),
		TopicKey: topicKey,
		Reason:   reason.Error(),
	}
	if err := p.Outcomes.Record(context.WithoutCancel(ctx), outcome); err != nil {
		return nil, err
	}

	p.logger.Info("Unit discarded",
		zap.String("unit_id", unitID),
		zap.String("kind", outcome.Kind),
		zap.String("stage", stage),
		zap.String("reason", outcome.Reason),
	)
	return outcome, nil
}

func (p *PipelineService) park(ctx context.Context, raw models.RawMessage, unitID, topicKey, stage string, attempts int, reason error) (*models.UnitOutcome, error) {
	kind := string(failure.KindOf(reason))
	ctx = context.WithoutCancel(ctx)

	err := p.DeadLetters.Park(ctx, &models.DeadLetter{
		UnitID:   unitID,
		SourceID: raw.SourceID,
		ChatRef:  raw.ChatRef,
		Kind:     kind,
		Stage:    stage,
		Reason:   reason.Error(),
		Attempts: attempts,
		Message:  raw,
	})
	if err != nil {
		return nil, err
	}

	outcome := &models.UnitOutcome{
		UnitID:   unitID,
		SourceID: raw.SourceID,
		ChatRef:  raw.ChatRef,
		Status:   models.OutcomeParked,
		Kind:     kind,
		TopicKey: topicKey,
		Reason:   reason.Error(),
	}
	if err := p.Outcomes.Record(ctx, outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}
