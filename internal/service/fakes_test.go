package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatwiki/internal/models"
	"chatwiki/internal/repository"
	"chatwiki/pkg/mediawiki"
)

var errTransport = errors.New("connection reset by peer")

// analysisJSON renders a model answer in the analysis schema.
func analysisJSON(title, topic string, categories []string, confidence float64) string {
	out, _ := json.Marshal(map[string]any{
		"title":      title,
		"topic":      topic,
		"summary":    "Summary of " + title + ".",
		"categories": categories,
		"confidence": confidence,
	})
	return string(out)
}

// scriptedGenerator answers with the responses registered for the payload
// found in the prompt, in order; the last one repeats.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string]int
	failures  int // upcoming calls to fail with a transport error
	total     int
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{responses: map[string][]string{}, calls: map[string]int{}}
}

func (g *scriptedGenerator) on(payload string, responses ...string) *scriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[payload] = append(g.responses[payload], responses...)
	return g
}

func (g *scriptedGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.total++
	if g.failures > 0 {
		g.failures--
		return "", errTransport
	}

	for payload, responses := range g.responses {
		if strings.Contains(prompt, "\n"+payload+"\n") {
			i := min(g.calls[payload], len(responses)-1)
			g.calls[payload]++
			return responses[i], nil
		}
	}
	return "I'm sorry, I cannot help with that.", nil
}

func (g *scriptedGenerator) Total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// memIndex is an in-memory KnowledgeReader.
type memIndex struct {
	entries map[string]*models.KnowledgeEntry
}

func newMemIndex(entries ...*models.KnowledgeEntry) *memIndex {
	idx := &memIndex{entries: map[string]*models.KnowledgeEntry{}}
	for _, e := range entries {
		idx.entries[e.TopicKey] = e
	}
	return idx
}

func (m *memIndex) Lookup(ctx context.Context, topicKey string) (*models.KnowledgeEntry, error) {
	return m.entries[topicKey], nil
}

func (m *memIndex) LookupByTitle(ctx context.Context, title string) (*models.KnowledgeEntry, error) {
	for _, e := range m.entries {
		if repository.TitleKey(e.PageTitle) == repository.TitleKey(title) {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memIndex) LookupByFingerprint(ctx context.Context, fingerprint string) (*models.KnowledgeEntry, error) {
	for _, e := range m.entries {
		if e.HasFingerprint(fingerprint) {
			return e, nil
		}
	}
	return nil, nil
}

// fakeWiki is an in-memory WikiBackend with failure injection.
type fakeWiki struct {
	mu      sync.Mutex
	pages   map[string]*mediawiki.Page
	nextRev int64
	reads   int
	edits   int

	editFailures int   // upcoming edits to fail before applying
	editErr      error // error used for editFailures, errTransport when nil
	lostAcks     int   // upcoming edits to apply but report as failed
	afterApply   func() error
}

func newFakeWiki() *fakeWiki {
	return &fakeWiki{pages: map[string]*mediawiki.Page{}, nextRev: 1000}
}

func (w *fakeWiki) ReadPage(ctx context.Context, title string) (*mediawiki.Page, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.reads++
	if p, ok := w.pages[repository.TitleKey(title)]; ok {
		cp := *p
		return &cp, nil
	}
	return &mediawiki.Page{Title: title}, nil
}

func (w *fakeWiki) Edit(ctx context.Context, req mediawiki.EditRequest) (*mediawiki.EditResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.edits++
	if w.editFailures > 0 {
		w.editFailures--
		if w.editErr != nil {
			return nil, w.editErr
		}
		return nil, errTransport
	}

	key := repository.TitleKey(req.Title)
	page, exists := w.pages[key]
	switch {
	case req.CreateOnly && exists:
		return nil, &mediawiki.APIError{Code: "articleexists", Info: "exists"}
	case req.NoCreate && !exists:
		return nil, &mediawiki.APIError{Code: "missingtitle", Info: "missing"}
	case exists && req.BaseRevID != 0 && req.BaseRevID != page.RevisionID:
		return nil, &mediawiki.APIError{Code: "editconflict", Info: "conflict"}
	}

	var old int64
	if exists {
		old = page.RevisionID
	}
	w.nextRev++
	w.pages[key] = &mediawiki.Page{
		Title:      req.Title,
		Exists:     true,
		RevisionID: w.nextRev,
		Timestamp:  fmt.Sprintf("2024-04-08T18:%02d:00Z", w.nextRev%60),
		Content:    req.Text,
	}

	if w.lostAcks > 0 {
		w.lostAcks--
		return nil, errTransport
	}
	if w.afterApply != nil {
		if err := w.afterApply(); err != nil {
			return nil, err
		}
	}
	return &mediawiki.EditResult{Title: req.Title, OldRevID: old, NewRevID: w.nextRev}, nil
}

// put stores a page as if a human wrote it.
func (w *fakeWiki) put(title, content string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextRev++
	w.pages[repository.TitleKey(title)] = &mediawiki.Page{
		Title: title, Exists: true, RevisionID: w.nextRev, Timestamp: "2024-04-09T10:00:00Z", Content: content,
	}
	return w.nextRev
}

func (w *fakeWiki) page(title string) *mediawiki.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages[repository.TitleKey(title)]
}

func (w *fakeWiki) pageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pages)
}

func (w *fakeWiki) editCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edits
}

func (w *fakeWiki) failNextEdits(n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.editFailures = n
	w.editErr = err
}
