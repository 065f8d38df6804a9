package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"
	"chatwiki/internal/repository"
	"chatwiki/pkg/config"
	"chatwiki/pkg/mediawiki"

	"go.uber.org/zap"
)

var categoryTag = regexp.MustCompile(`(?i)\[\[\s*(?:category|категория)\s*:\s*([^\]|]+)(?:\|[^\]]*)?\]\]`)

// EditConflictError reports a page that moved past the revision an update
// was based on.
type EditConflictError struct {
	Title   string
	Based   string
	Current string
}

func (e *EditConflictError) Error() string {
	return fmt.Sprintf("page %q is at revision %s, intent based on %s", e.Title, e.Current, e.Based)
}

func (e *EditConflictError) Unwrap() error { return failure.ErrEditConflict }

// WikiBackend is the page read/write surface of the wiki.
type WikiBackend interface {
	ReadPage(ctx context.Context, title string) (*mediawiki.Page, error)
	Edit(ctx context.Context, req mediawiki.EditRequest) (*mediawiki.EditResult, error)
}

// WikiService publishes write intents. Every write is checked against the
// revision the intent was based on, and a unit whose marker is already on
// the page is reported as applied instead of being written twice.
type WikiService struct {
	backend       WikiBackend
	createSummary string
	updateSummary string
	logger        *zap.Logger
}

func NewWikiService(backend WikiBackend, cfg *config.WikiConfig, logger *zap.Logger) *WikiService {
	return &WikiService{
		backend:       backend,
		createSummary: cfg.CreateSummary,
		updateSummary: cfg.UpdateSummary,
		logger:        logger,
	}
}

func (s *WikiService) Publish(ctx context.Context, intent *models.PageWriteIntent) (*models.PageResult, error) {
	if intent.Action != models.ActionCreate && intent.Action != models.ActionUpdate {
		return nil, fmt.Errorf("nothing to publish for action %q", intent.Action)
	}

	page, err := s.backend.ReadPage(ctx, intent.Title)
	if err != nil {
		return nil, classifyWikiError(fmt.Errorf("failed to read page %q: %w", intent.Title, err))
	}

	if applied := s.appliedResult(page, intent); applied != nil {
		return applied, nil
	}

	req := mediawiki.EditRequest{Title: intent.Title}
	switch intent.Action {
	case models.ActionCreate:
		if page.Exists {
			return nil, fmt.Errorf("page %q: %w", intent.Title, failure.ErrTitleTaken)
		}
		req.Text = intent.BodyDelta + "\n\n" + categoryTags(intent.Categories)
		req.Summary = s.createSummary
		req.CreateOnly = true
	case models.ActionUpdate:
		if !page.Exists {
			return nil, fmt.Errorf("page %q no longer exists: %w", intent.Title, failure.ErrEditConflict)
		}
		if current := strconv.FormatInt(page.RevisionID, 10); current != intent.BasedOnRevision {
			return nil, &EditConflictError{Title: intent.Title, Based: intent.BasedOnRevision, Current: current}
		}
		req.Text = mergePage(page.Content, intent.BodyDelta, intent.Categories)
		req.Summary = s.updateSummary
		req.BaseRevID = page.RevisionID
		req.BaseTimestamp = page.Timestamp
		req.NoCreate = true
	}

	res, err := s.backend.Edit(ctx, req)
	if err != nil {
		return nil, classifyWikiError(fmt.Errorf("failed to write page %q: %w", intent.Title, err))
	}

	revision := res.NewRevID
	if res.NoChange || revision == 0 {
		revision = page.RevisionID
	}

	s.logger.Info("Page published",
		zap.String("unit_id", intent.UnitID),
		zap.String("title", intent.Title),
		zap.String("action", string(intent.Action)),
		zap.Int64("revision", revision),
	)

	return &models.PageResult{
		Title:      intent.Title,
		RevisionID: strconv.FormatInt(revision, 10),
		Created:    intent.Action == models.ActionCreate,
	}, nil
}

// Reconcile reads the intent's page back after a write whose outcome is
// unknown. It returns the applied result when the unit marker is on the page
// and nil when the write never landed.
func (s *WikiService) Reconcile(ctx context.Context, intent *models.PageWriteIntent) (*models.PageResult, error) {
	page, err := s.backend.ReadPage(ctx, intent.Title)
	if err != nil {
		return nil, classifyWikiError(fmt.Errorf("failed to read page %q: %w", intent.Title, err))
	}
	return s.appliedResult(page, intent), nil
}

func (s *WikiService) appliedResult(page *mediawiki.Page, intent *models.PageWriteIntent) *models.PageResult {
	if !page.Exists || !strings.Contains(page.Content, UnitMarker(intent.UnitID)) {
		return nil
	}

	s.logger.Info("Unit already on page",
		zap.String("unit_id", intent.UnitID),
		zap.String("title", page.Title),
		zap.Int64("revision", page.RevisionID),
	)
	return &models.PageResult{
		Title:          intent.Title,
		RevisionID:     strconv.FormatInt(page.RevisionID, 10),
		Created:        intent.Action == models.ActionCreate,
		AlreadyApplied: true,
	}
}

// mergePage appends delta above the trailing category block of content and
// adds tags for categories the page does not carry yet.
func mergePage(content, delta string, categories []string) string {
	lines := strings.Split(strings.TrimRight(content, "\n "), "\n")

	split := len(lines)
	for split > 0 {
		line := strings.TrimSpace(lines[split-1])
		if line != "" && categoryTag.ReplaceAllString(line, "") != "" {
			break
		}
		split--
	}

	body := strings.TrimRight(strings.Join(lines[:split], "\n"), "\n ")
	tail := strings.TrimSpace(strings.Join(lines[split:], "\n"))

	present := make(map[string]bool)
	for _, m := range categoryTag.FindAllStringSubmatch(content, -1) {
		present[repository.TitleKey(m[1])] = true
	}
	var missing []string
	for _, c := range categories {
		if !present[repository.TitleKey(c)] {
			missing = append(missing, c)
		}
	}

	var b strings.Builder
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	b.WriteString(delta)

	tags := tail
	if extra := categoryTags(missing); extra != "" {
		if tags != "" {
			tags += "\n"
		}
		tags += extra
	}
	if tags != "" {
		b.WriteString("\n\n")
		b.WriteString(tags)
	}
	return b.String()
}

func categoryTags(categories []string) string {
	tags := make([]string, 0, len(categories))
	for _, c := range categories {
		tags = append(tags, "[[Category:"+c+"]]")
	}
	return strings.Join(tags, "\n")
}

// classifyWikiError maps wiki failures onto the error taxonomy.
func classifyWikiError(err error) error {
	var apiErr *mediawiki.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "editconflict", "missingtitle", "pagedeleted":
			return fmt.Errorf("%w: %w", failure.ErrEditConflict, err)
		case "articleexists":
			return fmt.Errorf("%w: %w", failure.ErrTitleTaken, err)
		case "invalidtitle":
			return fmt.Errorf("%w: %w", failure.ErrAnalysisRejected, err)
		case "permissiondenied", "protectedpage", "protectedtitle", "cascadeprotected", "cantcreate",
			"blocked", "autoblocked", "readonly", "writeapidenied", "noedit", "notloggedin", "assertuserfailed":
			return fmt.Errorf("%w: %w", failure.ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %w", failure.ErrPublishUnavailable, err)
	}

	var httpErr *mediawiki.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Status == http.StatusUnauthorized || httpErr.Status == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", failure.ErrPermissionDenied, err)
	}
	if errors.Is(err, mediawiki.ErrLoginFailed) {
		return fmt.Errorf("%w: %w", failure.ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %w", failure.ErrPublishUnavailable, err)
}
