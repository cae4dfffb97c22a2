package pipeline

import (
	"fmt"
	"time"

	"github.com/Makar0n1/art-automation/models"
)

const (
	answersProgressStart  = 90
	answersProgressEnd    = 95
	interQuestionDelay    = 300 * time.Millisecond
)

// runQuestionAnswering is stage 4: resolve each block's research questions
// against the vector store, keeping only the ones that found an answer.
func runQuestionAnswering(jc *JobContext) error {
	if !jc.Vector.Configured() {
		return fmt.Errorf("%w: vector client", ErrMissingCredential)
	}
	if err := jc.setStatus(models.StatusAnsweringQuestions, answersProgressStart); err != nil {
		return err
	}

	for i := range jc.Job.Blocks {
		block := &jc.Job.Blocks[i]
		if len(block.Questions) == 0 {
			continue
		}

		var answered []string
		var resolved []models.AnsweredQuestion
		for qi, question := range block.Questions {
			answer, err := jc.Vector.FindAnswer(jc.Ctx, question)
			if err != nil {
				return fmt.Errorf("pipeline: question answering: %w", err)
			}
			if answer != nil {
				answered = append(answered, question)
				resolved = append(resolved, models.AnsweredQuestion{
					Question:   answer.Question,
					Answer:     answer.Answer,
					Source:     answer.Source,
					Similarity: answer.Similarity,
				})
			}
			if qi < len(block.Questions)-1 {
				select {
				case <-jc.Ctx.Done():
					return jc.Ctx.Err()
				case <-time.After(interQuestionDelay):
				}
			}
		}

		block.Questions = answered
		block.AnsweredQuestions = resolved
		if err := jc.emitBlocks(); err != nil {
			return err
		}
	}

	return jc.setStatus(models.StatusAnsweringQuestions, answersProgressEnd)
}
