package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newKnowledgeRepo(t *testing.T) *KnowledgeRepository {
	return NewKnowledgeRepository(setupTestDB(t), DialectSQLite, zap.NewNop())
}

func createEntry(t *testing.T, repo *KnowledgeRepository, topic, title, rev, fp string) *models.KnowledgeEntry {
	t.Helper()
	entry, err := repo.Commit(context.Background(), models.EntryUpdate{
		TopicKey:    topic,
		PageTitle:   title,
		NewRevision: rev,
		Categories:  []string{"Astronomy"},
		Fingerprint: fp,
		UnitID:      "unit-" + fp,
	})
	require.NoError(t, err)
	return entry
}

func TestKnowledgeRepository_CommitCreateAndLookup(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ctx := context.Background()

	missing, err := repo.Lookup(ctx, "solar eclipse 2024")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created := createEntry(t, repo, "solar eclipse 2024", "Solar Eclipse 2024", "101", "fp-a")
	assert.Equal(t, "Solar Eclipse 2024", created.PageTitle)
	assert.Equal(t, "101", created.PageRevisionID)
	assert.Equal(t, []string{"fp-a"}, created.Fingerprints)
	assert.Equal(t, int64(1), created.Version)

	byTopic, err := repo.Lookup(ctx, "solar eclipse 2024")
	require.NoError(t, err)
	require.NotNil(t, byTopic)
	assert.Equal(t, []string{"Astronomy"}, byTopic.Categories)

	byTitle, err := repo.LookupByTitle(ctx, "solar_Eclipse_2024")
	require.NoError(t, err)
	require.NotNil(t, byTitle)
	assert.Equal(t, "solar eclipse 2024", byTitle.TopicKey)

	otherTitle, err := repo.LookupByTitle(ctx, "Solar eclipse 2024")
	require.NoError(t, err)
	assert.Nil(t, otherTitle, "titles differing after the first letter are distinct pages")

	byFP, err := repo.LookupByFingerprint(ctx, "fp-a")
	require.NoError(t, err)
	require.NotNil(t, byFP)
	assert.Equal(t, "solar eclipse 2024", byFP.TopicKey)

	none, err := repo.LookupByFingerprint(ctx, "fp-unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestKnowledgeRepository_CommitUpdate(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ctx := context.Background()
	createEntry(t, repo, "solar eclipse 2024", "Solar Eclipse 2024", "101", "fp-a")

	updated, err := repo.Commit(ctx, models.EntryUpdate{
		TopicKey:         "solar eclipse 2024",
		PageTitle:        "Solar Eclipse 2024",
		ExpectedRevision: "101",
		NewRevision:      "102",
		Categories:       []string{"Astronomy", "Events"},
		Fingerprint:      "fp-b",
		UnitID:           "unit-b",
	})
	require.NoError(t, err)

	assert.Equal(t, "102", updated.PageRevisionID)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, []string{"Astronomy", "Events"}, updated.Categories)
	assert.ElementsMatch(t, []string{"fp-a", "fp-b"}, updated.Fingerprints)
}

func TestKnowledgeRepository_StaleRevisionIsConcurrentModification(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ctx := context.Background()
	createEntry(t, repo, "topic", "Topic", "1", "fp-1")

	_, err := repo.Commit(ctx, models.EntryUpdate{
		TopicKey: "topic", PageTitle: "Topic", ExpectedRevision: "1", NewRevision: "2", Fingerprint: "fp-2",
	})
	require.NoError(t, err)

	_, err = repo.Commit(ctx, models.EntryUpdate{
		TopicKey: "topic", PageTitle: "Topic", ExpectedRevision: "1", NewRevision: "3", Fingerprint: "fp-3",
	})
	require.ErrorIs(t, err, failure.ErrConcurrentModification)

	// all-or-nothing: the fingerprint of the failed commit is not recorded
	entry, err := repo.LookupByFingerprint(ctx, "fp-3")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestKnowledgeRepository_DuplicateCreateIsConcurrentModification(t *testing.T) {
	repo := newKnowledgeRepo(t)
	createEntry(t, repo, "topic", "Topic", "1", "fp-1")

	_, err := repo.Commit(context.Background(), models.EntryUpdate{
		TopicKey: "topic", PageTitle: "Topic", NewRevision: "9", Fingerprint: "fp-9",
	})
	require.ErrorIs(t, err, failure.ErrConcurrentModification)
}

func TestKnowledgeRepository_TitleOwnedByOtherTopic(t *testing.T) {
	repo := newKnowledgeRepo(t)
	createEntry(t, repo, "mercury planet", "Mercury", "1", "fp-1")

	_, err := repo.Commit(context.Background(), models.EntryUpdate{
		TopicKey: "mercury element", PageTitle: "mercury", NewRevision: "5", Fingerprint: "fp-5",
	})
	require.ErrorIs(t, err, failure.ErrConcurrentModification)
}

func TestKnowledgeRepository_FingerprintFoldedOnce(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ctx := context.Background()
	createEntry(t, repo, "topic a", "Topic A", "1", "same-fp")

	_, err := repo.Commit(ctx, models.EntryUpdate{
		TopicKey: "topic b", PageTitle: "Topic B", NewRevision: "2", Fingerprint: "same-fp",
	})
	require.ErrorIs(t, err, failure.ErrConcurrentModification)

	// the failed create rolled back together with the fingerprint
	entry, err := repo.Lookup(ctx, "topic b")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestKnowledgeRepository_ConcurrentCommitsSamePriorState(t *testing.T) {
	repo := newKnowledgeRepo(t)
	ctx := context.Background()
	createEntry(t, repo, "topic", "Topic", "1", "fp-0")

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Commit(ctx, models.EntryUpdate{
				TopicKey:         "topic",
				PageTitle:        "Topic",
				ExpectedRevision: "1",
				NewRevision:      fmt.Sprintf("r%d", i),
				Fingerprint:      fmt.Sprintf("fp-%d", i+1),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, failure.ErrConcurrentModification) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)

	entry, err := repo.Lookup(ctx, "topic")
	require.NoError(t, err)
	assert.Len(t, entry.Fingerprints, 2)
	assert.Equal(t, int64(2), entry.Version)
}

func TestKnowledgeRepository_IncompleteUpdate(t *testing.T) {
	repo := newKnowledgeRepo(t)
	_, err := repo.Commit(context.Background(), models.EntryUpdate{TopicKey: "t"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, failure.ErrConcurrentModification)
}

func TestNormalizeCategories(t *testing.T) {
	got := NormalizeCategories([]string{" Space ", "astronomy", "space", "", "Astronomy", "Solar  system"})
	assert.Equal(t, []string{"Solar system", "Space", "astronomy"}, got)
}

func TestTitleKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Solar_Eclipse  2024 ", "Solar Eclipse 2024"},
		{"solar Eclipse 2024", "Solar Eclipse 2024"},
		{"Solar eclipse 2024", "Solar eclipse 2024"},
		{"ёлка", "Ёлка"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TitleKey(tt.title), tt.title)
	}
}
