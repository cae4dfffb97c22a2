package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/internal/providers/llm"
	"github.com/Makar0n1/art-automation/internal/providers/search"
	"github.com/Makar0n1/art-automation/internal/providers/vector"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

// fakeStore records every field update without touching a database.
type fakeStore struct {
	mu      sync.Mutex
	logs    []models.LogEntry
	updates []store.JobFields
}

func (f *fakeStore) AppendJobLog(ctx context.Context, id string, entry models.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) UpdateJobFields(ctx context.Context, id string, fields store.JobFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

// fakeBus records every published event.
type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBus) Publish(ctx context.Context, room, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// fakeSearch returns a fixed SERP, or an error when configured to fail.
type fakeSearch struct {
	entries []models.SerpEntry
	err     error
}

func (f *fakeSearch) Configured() bool { return true }

func (f *fakeSearch) FetchSerp(ctx context.Context, query, region, language string, onProgress search.ProgressFunc) ([]models.SerpEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i, e := range f.entries {
		onProgress(e, i)
	}
	return f.entries, nil
}

// fakeLLM implements LLMClient with canned responses.
type fakeLLM struct {
	structure      *models.StructureAnalysis
	enrichErr      error
	writeErr       error
	insertLinksErr error
	reviewIssues   []llm.ReviewIssue
	fixErr         error
}

func (f *fakeLLM) Configured() bool { return true }

func (f *fakeLLM) AnalyzeStructure(ctx context.Context, mainKeyword, language string, serp []models.SerpEntry, extraKeywords, lsiKeywords []string, articleType models.ArticleType, styleComment string) (*models.StructureAnalysis, error) {
	return f.structure, nil
}

func (f *fakeLLM) EnrichBlocks(ctx context.Context, blocks []models.Block, mainKeyword string, lsiKeywords []string) ([]models.Block, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	return blocks, nil
}

func (f *fakeLLM) WriteBlock(ctx context.Context, block models.Block, priorContent string, mainKeyword string) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	return "written: " + block.Heading, nil
}

func (f *fakeLLM) InsertLinks(ctx context.Context, content string, links []models.InternalLink) (string, error) {
	if f.insertLinksErr != nil {
		return "", f.insertLinksErr
	}
	return content, nil
}

func (f *fakeLLM) ReviewArticle(ctx context.Context, article string, blocks []models.Block) ([]llm.ReviewIssue, error) {
	return f.reviewIssues, nil
}

func (f *fakeLLM) FixBlock(ctx context.Context, content string, issues []string, suggestion string) (string, error) {
	if f.fixErr != nil {
		return "", f.fixErr
	}
	return content, nil
}

func (f *fakeLLM) GenerateSEOMetadata(ctx context.Context, mainKeyword, article string) llm.SEOMetadata {
	return llm.SEOMetadata{Title: mainKeyword, Description: "desc"}
}

func (f *fakeLLM) GetTokenUsage(reset bool) llm.Usage { return llm.Usage{} }

// fakeVector always reports no answer found, keeping stage 4 a no-op.
type fakeVector struct{}

func (fakeVector) Configured() bool { return true }

func (fakeVector) FindAnswer(ctx context.Context, question string) (*vector.Answer, error) {
	return nil, nil
}

func baseJob() *models.Job {
	return &models.Job{
		ID:          "job-1",
		MainKeyword: "widgets",
		Blocks: []models.Block{
			{ID: 0, Type: models.BlockH1, Heading: "Widgets"},
			{ID: 1, Type: models.BlockH2, Heading: "Overview"},
		},
	}
}

func newRunner() (*Runner, *fakeStore, *fakeBus) {
	fs := &fakeStore{}
	fb := &fakeBus{}
	r := &Runner{
		Store:  fs,
		Bus:    fb,
		Search: &fakeSearch{entries: []models.SerpEntry{{URL: "https://a.test", WordCount: 1200}}},
		LLM: &fakeLLM{structure: &models.StructureAnalysis{RecommendedStructure: []models.Block{
			{ID: 0, Type: models.BlockH1, Heading: "Widgets"},
			{ID: 1, Type: models.BlockH2, Heading: "Overview"},
			{ID: 2, Type: models.BlockH2, Heading: "Uses"},
			{ID: 3, Type: models.BlockH2, Heading: "Pricing"},
			{ID: 4, Type: models.BlockConclusion, Heading: "Conclusion"},
		}}},
		Vector: fakeVector{},
	}
	return r, fs, fb
}

func TestRunPausesAfterFirstStageWhenNotContinuous(t *testing.T) {
	r, _, fb := newRunner()
	job := baseJob()
	job.Continuous = false

	err := r.Run(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusPausedAfterSERP, job.Status)
	require.Contains(t, fb.events, "status")
}

func TestRunContinuesThroughAllStagesWhenContinuous(t *testing.T) {
	r, _, _ := newRunner()
	job := baseJob()
	job.Continuous = true

	err := r.Run(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
	require.Equal(t, 100, job.Progress)
	require.NotEmpty(t, job.Article)
}

func TestRunResumesFromContinueFromSkippingCompletedStages(t *testing.T) {
	r, _, _ := newRunner()
	job := baseJob()
	job.Continuous = true
	job.StructureAnalysis = &models.StructureAnalysis{}
	job.Blocks = []models.Block{
		{ID: 0, Type: models.BlockH1, Heading: "Widgets"},
		{ID: 1, Type: models.BlockConclusion, Heading: "Conclusion"},
	}

	err := r.Run(context.Background(), job, models.StatusPausedAfterStructure)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
}

func TestRunDrivesNonContinuousJobThroughAllPausesToCompleted(t *testing.T) {
	r, _, _ := newRunner()
	job := baseJob()
	job.Continuous = false

	continueFrom := models.GenerationStatus("")
	expectedPauses := []models.GenerationStatus{
		models.StatusPausedAfterSERP,
		models.StatusPausedAfterStructure,
		models.StatusPausedAfterBlocks,
		models.StatusPausedAfterAnswers,
		models.StatusPausedAfterWriting,
		models.StatusPausedAfterReview,
	}

	for _, want := range expectedPauses {
		err := r.Run(context.Background(), job, continueFrom)
		require.NoError(t, err)
		require.Equal(t, want, job.Status)
		continueFrom = job.Status
	}

	err := r.Run(context.Background(), job, continueFrom)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
	require.Equal(t, 100, job.Progress)
	require.NotEmpty(t, job.Article)
}

func TestRunRejectsUnknownContinueFrom(t *testing.T) {
	r, _, _ := newRunner()
	job := baseJob()

	err := r.Run(context.Background(), job, models.GenerationStatus("nonsense"))
	require.Error(t, err)
}

func TestRunSkipsLinkInsertionWhenNoInternalLinksConfigured(t *testing.T) {
	r, _, _ := newRunner()
	job := baseJob()
	job.Continuous = true
	job.InternalLinks = nil

	err := r.Run(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)
}

func TestRunLinkInsertionFailureIsLoggedNotFatal(t *testing.T) {
	fs := &fakeStore{}
	fb := &fakeBus{}
	r := &Runner{
		Store:  fs,
		Bus:    fb,
		Search: &fakeSearch{entries: []models.SerpEntry{{URL: "https://a.test", WordCount: 1200}}},
		LLM: &fakeLLM{
			structure: &models.StructureAnalysis{RecommendedStructure: []models.Block{
				{ID: 0, Type: models.BlockH1, Heading: "Widgets"},
				{ID: 1, Type: models.BlockH2, Heading: "Overview"},
				{ID: 2, Type: models.BlockH2, Heading: "Uses"},
				{ID: 3, Type: models.BlockH2, Heading: "Pricing"},
				{ID: 4, Type: models.BlockConclusion, Heading: "Conclusion"},
			}},
			insertLinksErr: errors.New("provider unavailable"),
		},
		Vector: fakeVector{},
	}
	job := baseJob()
	job.Continuous = true
	job.InternalLinks = []models.InternalLink{{URL: "https://example.test/x", Anchor: "x"}}

	err := r.Run(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, job.Status)

	found := false
	for _, l := range fs.logs {
		if l.Level == models.LogLevelWarn {
			found = true
		}
	}
	require.True(t, found, "expected a warning log entry for the failed optional stage")
}

func TestRunNonOptionalStageFailureMarksJobFailed(t *testing.T) {
	r, fs, fb := newRunner()
	r.Search = &fakeSearch{err: errors.New("search provider down")}
	job := baseJob()
	job.Continuous = true

	err := r.Run(context.Background(), job, "")
	require.Error(t, err)
	require.Equal(t, models.StatusFailed, job.Status)
	require.NotEmpty(t, job.Error)
	require.Contains(t, fb.events, "error")

	foundFailedUpdate := false
	for _, u := range fs.updates {
		if u.Status != nil && *u.Status == models.StatusFailed {
			foundFailedUpdate = true
		}
	}
	require.True(t, foundFailedUpdate)
}

func TestRunMissingSearchCredentialFailsJob(t *testing.T) {
	r, _, _ := newRunner()
	r.Search = &unconfiguredSearch{}
	job := baseJob()
	job.Continuous = true

	err := r.Run(context.Background(), job, "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Equal(t, models.StatusFailed, job.Status)
}

type unconfiguredSearch struct{}

func (unconfiguredSearch) Configured() bool { return false }
func (unconfiguredSearch) FetchSerp(ctx context.Context, query, region, language string, onProgress search.ProgressFunc) ([]models.SerpEntry, error) {
	return nil, nil
}
