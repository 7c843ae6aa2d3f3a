// Package generation is the content-generation collaborator. It consumes
// worksheet and quiz requests from the bus, asks a Generator for content and
// publishes the result. It keeps no state of its own.
package generation

import (
	"context"

	"github.com/arloliu/quizflow/types"
)

// QuizRequest describes the quiz to generate.
type QuizRequest struct {
	QuizID     string
	Title      string
	Keywords   []string
	Difficulty types.Difficulty
}

// WorksheetRequest describes the worksheet whose derived content to generate.
type WorksheetRequest struct {
	WorksheetID string
	Title       string
	Keywords    []string
	Questions   []string
}

// WorksheetContent is the derived content of a worksheet.
type WorksheetContent struct {
	KeywordDefinitions map[string]string
	QuestionAnswers    map[string]string
}

// Generator produces quiz and worksheet content.
//
// Implementations need not validate their own output; the quiz service rejects
// malformed questions.
type Generator interface {
	GenerateQuiz(ctx context.Context, req QuizRequest) ([]types.Question, error)
	GenerateWorksheet(ctx context.Context, req WorksheetRequest) (WorksheetContent, error)
}
