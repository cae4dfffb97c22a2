package pipeline

import (
	"fmt"

	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

const (
	structureProgressStart = 55
	structureProgressEnd   = 65
)

// runStructureAnalysis is stage 2: synthesize competitor pages into a
// recommended block structure.
func runStructureAnalysis(jc *JobContext) error {
	if !jc.LLM.Configured() {
		return fmt.Errorf("%w: llm client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusAnalyzingStructure, structureProgressStart); err != nil {
		return err
	}

	analysis, err := jc.LLM.AnalyzeStructure(jc.Ctx, jc.Job.MainKeyword, jc.Job.Language, jc.Job.SerpEntries,
		jc.Job.ExtraKeywords, jc.Job.LSIKeywords, jc.Job.ArticleType, jc.Job.StyleComment)
	if err != nil {
		return fmt.Errorf("pipeline: structure analysis: %w", err)
	}

	jc.Job.StructureAnalysis = analysis
	jc.Job.Blocks = analysis.RecommendedStructure
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{
		StructureAnalysis: analysis,
		Blocks:            &jc.Job.Blocks,
	}); err != nil {
		return fmt.Errorf("pipeline: persist structure analysis: %w", err)
	}
	if err := jc.emitBlocks(); err != nil {
		return err
	}

	return jc.setStatus(models.StatusAnalyzingStructure, structureProgressEnd)
}
