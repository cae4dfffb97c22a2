package pipeline

import (
	"fmt"

	"github.com/Makar0n1/art-automation/internal/helpers"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

const reviewProgress = 99

// runReviewAndSEO is stage 7: run a quality pass, fix flagged blocks
// preserving pre-existing links, then generate SEO metadata.
func runReviewAndSEO(jc *JobContext) error {
	if !jc.LLM.Configured() {
		return fmt.Errorf("%w: llm client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusReviewingArticle, reviewProgress); err != nil {
		return err
	}

	issues, err := jc.LLM.ReviewArticle(jc.Ctx, jc.Job.Article, jc.Job.Blocks)
	if err != nil {
		return fmt.Errorf("pipeline: quality review: %w", err)
	}

	for _, issue := range issues {
		idx := blockIndexByID(jc.Job.Blocks, issue.BlockID)
		if idx < 0 {
			continue
		}
		block := &jc.Job.Blocks[idx]

		fixed, err := jc.LLM.FixBlock(jc.Ctx, block.Content, issue.Issues, issue.Suggestion)
		if err != nil {
			return fmt.Errorf("pipeline: block fix for block %d: %w", issue.BlockID, err)
		}
		block.Content = sanitizeBlockContent(fixed)
	}

	jc.Job.Article = reassembleArticle(jc.Job.Blocks)
	seo := jc.LLM.GenerateSEOMetadata(jc.Ctx, jc.Job.MainKeyword, jc.Job.Article)
	jc.Job.SEOTitle = seo.Title
	jc.Job.SEODescription = seo.Description

	jc.appendLog(models.LogLevelInfo, fmt.Sprintf("final article content hash %s", helpers.ContentHash(jc.Job.Article)))
	logSourceCitations(jc)

	article, title, description := jc.Job.Article, jc.Job.SEOTitle, jc.Job.SEODescription
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{
		Article:        &article,
		SEOTitle:       &title,
		SEODescription: &description,
	}); err != nil {
		return fmt.Errorf("pipeline: persist review results: %w", err)
	}
	return jc.emitBlocks()
}

// logSourceCitations records a formatted citation line per competitor page
// that successfully scraped, so the research trail behind the article
// survives in the job log, since the article itself carries no citations.
func logSourceCitations(jc *JobContext) {
	citations := make([]helpers.Citation, 0, len(jc.Job.SerpEntries))
	for _, entry := range jc.Job.SerpEntries {
		if entry.Error != "" {
			continue
		}
		citations = append(citations, helpers.Citation{
			SourceID: fmt.Sprintf("rank-%d", entry.Rank),
			Title:    entry.Title,
			URL:      entry.URL,
			Snippet:  entry.Body,
		})
	}
	for _, line := range helpers.FormatCitations(citations) {
		jc.appendLog(models.LogLevelInfo, "source: "+line)
	}
}
