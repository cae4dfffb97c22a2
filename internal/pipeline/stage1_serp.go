package pipeline

import (
	"errors"
	"fmt"

	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

// ErrMissingCredential is returned when a stage needs a provider credential
// that has not been configured.
var ErrMissingCredential = errors.New("pipeline: required credential is not configured")

const (
	serpProgressStart = 10
	serpProgressEnd   = 50
	defaultAvgWords   = 2000
)

// runSERPIngestion is stage 1: gather and scrape competitor pages.
func runSERPIngestion(jc *JobContext) error {
	if !jc.Search.Configured() {
		return fmt.Errorf("%w: search client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusParsingSERP, serpProgressStart); err != nil {
		return err
	}

	var entries []models.SerpEntry
	_, err := jc.Search.FetchSerp(jc.Ctx, jc.Job.MainKeyword, jc.Job.Region, jc.Job.Language, func(entry models.SerpEntry, index int) {
		entries = append(entries, entry)
		progress := serpProgressStart + (serpProgressEnd-serpProgressStart)*(index+1)/maxExpectedSerpResults
		if progress > serpProgressEnd {
			progress = serpProgressEnd
		}
		jc.Job.SerpEntries = entries
		_ = jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{SerpEntries: &entries, Progress: &progress})
	})
	if err != nil {
		return fmt.Errorf("pipeline: serp ingestion: %w", err)
	}

	jc.Job.SerpEntries = entries
	jc.avgWordCount = computeAverageWordCount(entries)
	jc.appendLog(models.LogLevelInfo, fmt.Sprintf("serp ingestion complete: %d entries, average word count %d", len(entries), jc.avgWordCount))
	return nil
}

const maxExpectedSerpResults = 10

func computeAverageWordCount(entries []models.SerpEntry) int {
	total, count := 0, 0
	for _, e := range entries {
		if e.Error == "" && e.WordCount > 0 {
			total += e.WordCount
			count++
		}
	}
	if count == 0 {
		return defaultAvgWords
	}
	return total / count
}
