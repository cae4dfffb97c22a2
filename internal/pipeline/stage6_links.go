package pipeline

import (
	"fmt"
	"strings"

	"github.com/Makar0n1/art-automation/internal/providers/llm"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

const linksProgress = 99

// runLinkInsertion is stage 6: weave requested internal links into their
// assigned blocks. Skipped by the runner entirely when the job has no
// internal links; failures here are logged but never abort the job.
func runLinkInsertion(jc *JobContext) error {
	if err := jc.setStatus(models.StatusInsertingLinks, linksProgress); err != nil {
		return err
	}

	assignments := llm.SelectLinkBlocks(jc.Job.Blocks, jc.Job.InternalLinks)
	byBlock := map[int][]models.InternalLink{}
	for _, a := range assignments {
		byBlock[a.BlockID] = append(byBlock[a.BlockID], a.Link)
	}

	for blockID, links := range byBlock {
		idx := blockIndexByID(jc.Job.Blocks, blockID)
		if idx < 0 {
			continue
		}
		block := &jc.Job.Blocks[idx]

		rewritten, err := jc.LLM.InsertLinks(jc.Ctx, block.Content, links)
		if err != nil {
			return fmt.Errorf("pipeline: link insertion on block %d: %w", blockID, err)
		}
		block.Content = rewritten
	}

	jc.Job.Article = reassembleArticle(jc.Job.Blocks)
	article := jc.Job.Article
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{Article: &article}); err != nil {
		return fmt.Errorf("pipeline: persist article after link insertion: %w", err)
	}
	return jc.emitBlocks()
}

func blockIndexByID(blocks []models.Block, id int) int {
	for i, b := range blocks {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func reassembleArticle(blocks []models.Block) string {
	var b strings.Builder
	for _, block := range blocks {
		b.WriteString(renderBlockMarkdown(block))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
