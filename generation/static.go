package generation

import (
	"context"
	"fmt"

	"github.com/arloliu/quizflow/types"
)

// StaticGenerator produces deterministic placeholder content without any
// external call. It backs offline runs and tests.
type StaticGenerator struct {
	// Err, when set, is returned by every call.
	Err error
}

// NewStaticGenerator creates a StaticGenerator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{}
}

func (g *StaticGenerator) GenerateQuiz(ctx context.Context, req QuizRequest) ([]types.Question, error) {
	if err := g.check(ctx); err != nil {
		return nil, err
	}
	if len(req.Keywords) == 0 {
		return nil, fmt.Errorf("quiz %s has no keywords", req.QuizID)
	}

	questions := make([]types.Question, types.QuestionsPerQuiz)
	for i := range questions {
		kw := req.Keywords[i%len(req.Keywords)]
		options := []string{
			fmt.Sprintf("%s is the subject of %s", kw, req.Title),
			fmt.Sprintf("%s is unrelated to %s", kw, req.Title),
			fmt.Sprintf("%s contradicts %s", kw, req.Title),
			fmt.Sprintf("%s is undefined", kw),
		}
		questions[i] = types.Question{
			Text:          fmt.Sprintf("(%s %d) Which statement about %q is true?", req.Difficulty, i+1, kw),
			Options:       options,
			CorrectAnswer: options[0],
		}
	}

	return questions, nil
}

func (g *StaticGenerator) GenerateWorksheet(ctx context.Context, req WorksheetRequest) (WorksheetContent, error) {
	if err := g.check(ctx); err != nil {
		return WorksheetContent{}, err
	}

	content := WorksheetContent{
		KeywordDefinitions: make(map[string]string, len(req.Keywords)),
		QuestionAnswers:    make(map[string]string, len(req.Questions)),
	}
	for _, kw := range req.Keywords {
		content.KeywordDefinitions[kw] = fmt.Sprintf("%s, as used in %s.", kw, req.Title)
	}
	for _, q := range req.Questions {
		content.QuestionAnswers[q] = "See the definitions for " + req.Title + "."
	}

	return content, nil
}

func (g *StaticGenerator) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return g.Err
}
