package pipeline

import (
	"fmt"

	"github.com/Makar0n1/art-automation/models"
)

const (
	enrichProgressStart = 75
	enrichProgressEnd   = 85
)

// runBlockEnrichment is stage 3: deepen each block's writing instruction
// and attach research questions.
func runBlockEnrichment(jc *JobContext) error {
	if !jc.LLM.Configured() {
		return fmt.Errorf("%w: llm client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusEnrichingBlocks, enrichProgressStart); err != nil {
		return err
	}

	enriched, err := jc.LLM.EnrichBlocks(jc.Ctx, jc.Job.Blocks, jc.Job.MainKeyword, jc.Job.LSIKeywords)
	if err != nil {
		return fmt.Errorf("pipeline: block enrichment: %w", err)
	}

	jc.Job.Blocks = enriched
	if err := jc.emitBlocks(); err != nil {
		return err
	}

	return jc.setStatus(models.StatusEnrichingBlocks, enrichProgressEnd)
}
