package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/Makar0n1/art-automation/internal/helpers"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

const (
	writingProgressStart = 97
	writingProgressEnd   = 99
	interBlockDelay      = 500 * time.Millisecond
)

// runArticleWriting is stage 5: render each block's content in order,
// assembling the running article as it goes.
func runArticleWriting(jc *JobContext) error {
	if !jc.LLM.Configured() {
		return fmt.Errorf("%w: llm client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusWritingArticle, writingProgressStart); err != nil {
		return err
	}

	var assembled strings.Builder
	for i := range jc.Job.Blocks {
		block := &jc.Job.Blocks[i]

		content, err := jc.LLM.WriteBlock(jc.Ctx, *block, assembled.String(), jc.Job.MainKeyword)
		if err != nil {
			return fmt.Errorf("pipeline: article writing: %w", err)
		}
		block.Content = sanitizeBlockContent(content)
		assembled.WriteString(renderBlockMarkdown(*block))
		assembled.WriteString("\n\n")

		if err := jc.emitBlocks(); err != nil {
			return err
		}

		if i < len(jc.Job.Blocks)-1 {
			select {
			case <-jc.Ctx.Done():
				return jc.Ctx.Err()
			case <-time.After(interBlockDelay):
			}
		}
	}

	jc.Job.Article = strings.TrimSpace(assembled.String())
	article := jc.Job.Article
	if err := jc.Store.UpdateJobFields(jc.Ctx, jc.Job.ID, store.JobFields{Article: &article}); err != nil {
		return fmt.Errorf("pipeline: persist article: %w", err)
	}

	return jc.setStatus(models.StatusWritingArticle, writingProgressEnd)
}

// renderBlockMarkdown reconstructs one block's rendered markdown from its
// type, heading and content.
func renderBlockMarkdown(block models.Block) string {
	var b strings.Builder
	switch block.Type {
	case models.BlockH1:
		b.WriteString("# " + block.Heading + "\n\n")
	case models.BlockH2:
		b.WriteString("## " + block.Heading + "\n\n")
	case models.BlockH3:
		b.WriteString("### " + block.Heading + "\n\n")
	case models.BlockConclusion:
		if block.Heading != "" {
			b.WriteString("## " + block.Heading + "\n\n")
		}
	case models.BlockFAQ:
		if block.Heading != "" {
			b.WriteString("## " + block.Heading + "\n\n")
		}
	}
	b.WriteString(block.Content)
	return b.String()
}

// sanitizeBlockContent unwraps a block occasionally fenced despite the
// writing prompt's instruction not to, then strips any HTML the model
// slipped in down to the tags a rich-text renderer can trust.
func sanitizeBlockContent(content string) string {
	if unwrapped, err := helpers.ExtractMarkdown(content); err == nil {
		content = unwrapped
	}
	return helpers.SanitizeHTMLRichText(content)
}
