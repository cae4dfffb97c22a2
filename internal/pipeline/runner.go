// Package pipeline is the stage runner (C5): drives one job through the
// fixed seven-stage pipeline, honoring pause points, a continueFrom
// resume table, and the event-emission protocol over the bus (C1).
//
// Each stage is its own function taking a *JobContext, following the
// teacher's "long per-job function body -> explicit stage functions with
// a loop driving them" shape rather than one monolithic handler.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Makar0n1/art-automation/internal/providers/llm"
	"github.com/Makar0n1/art-automation/internal/providers/search"
	"github.com/Makar0n1/art-automation/internal/providers/vector"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

// JobStore is the slice of the store the pipeline needs to persist
// progress. *store.Store satisfies it; tests use a fake.
type JobStore interface {
	AppendJobLog(ctx context.Context, id string, entry models.LogEntry) error
	UpdateJobFields(ctx context.Context, id string, f store.JobFields) error
}

// EventBus is the slice of the bus the pipeline needs to announce
// progress. *bus.Bus satisfies it; tests use a fake.
type EventBus interface {
	Publish(ctx context.Context, room, event string, payload interface{}) error
}

// SearchClient is the search/scrape surface a stage needs.
type SearchClient interface {
	Configured() bool
	FetchSerp(ctx context.Context, query, region, language string, onProgress search.ProgressFunc) ([]models.SerpEntry, error)
}

// LLMClient is the chat-completion surface the writing stages need.
type LLMClient interface {
	Configured() bool
	AnalyzeStructure(ctx context.Context, mainKeyword, language string, serp []models.SerpEntry, extraKeywords, lsiKeywords []string, articleType models.ArticleType, styleComment string) (*models.StructureAnalysis, error)
	EnrichBlocks(ctx context.Context, blocks []models.Block, mainKeyword string, lsiKeywords []string) ([]models.Block, error)
	WriteBlock(ctx context.Context, block models.Block, priorContent string, mainKeyword string) (string, error)
	InsertLinks(ctx context.Context, content string, links []models.InternalLink) (string, error)
	ReviewArticle(ctx context.Context, article string, blocks []models.Block) ([]llm.ReviewIssue, error)
	FixBlock(ctx context.Context, content string, issues []string, suggestion string) (string, error)
	GenerateSEOMetadata(ctx context.Context, mainKeyword, article string) llm.SEOMetadata
	GetTokenUsage(reset bool) llm.Usage
}

// Metrics is the observability seam (C9): a stage's outcome is reported
// here if a non-nil Metrics is wired, otherwise every call is a no-op.
type Metrics interface {
	ObserveStage(stage string, d time.Duration, err error)
}

// VectorClient is the semantic-answer surface the question stage needs.
type VectorClient interface {
	Configured() bool
	FindAnswer(ctx context.Context, question string) (*vector.Answer, error)
}

// JobContext threads the dependencies and in-flight job state through one
// run of the pipeline.
type JobContext struct {
	Ctx    context.Context
	Store  JobStore
	Bus    EventBus
	Search SearchClient
	LLM    LLMClient
	Vector VectorClient
	Job    *models.Job

	avgWordCount int
}

func (jc *JobContext) room() string { return "generation:" + jc.Job.ID }

// appendLog appends one log entry, persists it, and publishes it to the
// job's room.
func (jc *JobContext) appendLog(level models.LogLevel, message string) {
	entry := models.LogEntry{At: nowFunc(), Level: level, Message: message}
	jc.Job.Log = append(jc.Job.Log, entry)
	if err := jc.Store.AppendJobLog(jc.Ctx, jc.Job.ID, entry); err != nil {
		return
	}
	jc.Bus.Publish(jc.Ctx, jc.room(), "log", map[string]interface{}{
		"generationId": jc.Job.ID,
		"log":          entry,
	})
}

// setStatus transitions status/progress, persists, and publishes.
func (jc *JobContext) setStatus(status models.GenerationStatus, progress int) error {
	jc.Job.Status = status
	jc.Job.Progress = progress
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{
		Status:   &status,
		Progress: &progress,
	}); err != nil {
		return fmt.Errorf("pipeline: persist status: %w", err)
	}
	jc.Bus.Publish(jc.Ctx, jc.room(), "status", map[string]interface{}{
		"generationId": jc.Job.ID,
		"status":       status,
		"progress":     progress,
	})
	return nil
}

// emitBlocks persists and publishes the current block list.
func (jc *JobContext) emitBlocks() error {
	blocks := jc.Job.Blocks
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{Blocks: &blocks}); err != nil {
		return fmt.Errorf("pipeline: persist blocks: %w", err)
	}
	jc.Bus.Publish(jc.Ctx, jc.room(), "blocks", map[string]interface{}{
		"generationId": jc.Job.ID,
		"blocks":       blocks,
	})
	return nil
}

// nowFunc is indirected so tests can pin the clock.
var nowFunc = time.Now

// stage describes one of the seven fixed pipeline steps.
type stage struct {
	name        string
	run         func(jc *JobContext) error
	pauseStatus models.GenerationStatus // empty if the stage never pauses (stage 6)
	optional    bool                    // failure here only warns, never aborts the job
}

var stages = []stage{
	{name: "serp", run: runSERPIngestion, pauseStatus: models.StatusPausedAfterSERP},
	{name: "structure", run: runStructureAnalysis, pauseStatus: models.StatusPausedAfterStructure},
	{name: "blocks", run: runBlockEnrichment, pauseStatus: models.StatusPausedAfterBlocks},
	{name: "answers", run: runQuestionAnswering, pauseStatus: models.StatusPausedAfterAnswers},
	{name: "writing", run: runArticleWriting, pauseStatus: models.StatusPausedAfterWriting},
	{name: "links", run: runLinkInsertion, optional: true},
	{name: "review", run: runReviewAndSEO, pauseStatus: models.StatusPausedAfterReview},
}

// skipCounts maps a continueFrom pause state to the number of leading
// stages already completed in a prior run.
var skipCounts = map[models.GenerationStatus]int{
	"":                                0,
	models.StatusPausedAfterSERP:      1,
	models.StatusPausedAfterStructure: 2,
	models.StatusPausedAfterBlocks:    3,
	models.StatusPausedAfterAnswers:   4,
	models.StatusPausedAfterWriting:   5,
	models.StatusPausedAfterReview:    7,
}

// Runner drives jobs through the pipeline.
type Runner struct {
	Store   JobStore
	Bus     EventBus
	Search  SearchClient
	LLM     LLMClient
	Vector  VectorClient
	Metrics Metrics // optional
}

// Run executes job starting after continueFrom (empty for a fresh job).
// It returns nil on success (including a deliberate pause). A non-optional
// stage failure returns an error after the job has been marked failed and
// persisted; an unknown continueFrom, or a failure to persist the pause or
// the completion, also returns an error.
func (r *Runner) Run(ctx context.Context, job *models.Job, continueFrom models.GenerationStatus) error {
	skip, ok := skipCounts[continueFrom]
	if !ok {
		return fmt.Errorf("pipeline: unknown resume point %q", continueFrom)
	}

	jc := &JobContext{Ctx: ctx, Store: r.Store, Bus: r.Bus, Search: r.Search, LLM: r.LLM, Vector: r.Vector, Job: job}

	for i := skip; i < len(stages); i++ {
		st := stages[i]
		if st.name == "links" && len(job.InternalLinks) == 0 {
			continue
		}

		started := nowFunc()
		err := st.run(jc)
		if r.Metrics != nil {
			r.Metrics.ObserveStage(st.name, nowFunc().Sub(started), err)
		}
		if err != nil {
			if st.optional {
				jc.appendLog(models.LogLevelWarn, fmt.Sprintf("stage %s failed, continuing: %v", st.name, err))
				continue
			}
			jc.fail(err)
			return err
		}

		if st.pauseStatus != "" && !job.Continuous {
			return jc.pause(st.pauseStatus)
		}
	}

	return jc.complete()
}

func (jc *JobContext) pause(status models.GenerationStatus) error {
	if err := jc.setStatus(status, jc.Job.Progress); err != nil {
		return err
	}
	jc.appendLog(models.LogLevelInfo, fmt.Sprintf("paused at %s", status))
	return nil
}

func (jc *JobContext) complete() error {
	now := nowFunc()
	jc.Job.Status = models.StatusCompleted
	jc.Job.Progress = 100
	jc.Job.CompletedAt = &now
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{
		Status:      statusPtr(models.StatusCompleted),
		Progress:    intPtr(100),
		CompletedAt: &now,
	}); err != nil {
		return fmt.Errorf("pipeline: persist completion: %w", err)
	}
	jc.appendLog(models.LogLevelInfo, "generation completed")
	jc.Bus.Publish(jc.Ctx, jc.room(), "completed", map[string]interface{}{
		"generationId": jc.Job.ID,
		"article":      jc.Job.Article,
	})
	return nil
}

func (jc *JobContext) fail(cause error) {
	now := nowFunc()
	errMsg := cause.Error()
	jc.Job.Status = models.StatusFailed
	jc.Job.Error = errMsg
	jc.Job.CompletedAt = &now
	_ = jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{
		Status:      statusPtr(models.StatusFailed),
		Error:       &errMsg,
		CompletedAt: &now,
	})
	jc.appendLog(models.LogLevelError, fmt.Sprintf("generation failed: %v", cause))
	jc.Bus.Publish(jc.Ctx, jc.room(), "error", map[string]interface{}{
		"generationId": jc.Job.ID,
		"error":        errMsg,
	})
}

func statusPtr(s models.GenerationStatus) *models.GenerationStatus { return &s }
func intPtr(i int) *int                                            { return &i }
