package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arloliu/quizflow/internal/logging"
	"github.com/arloliu/quizflow/types"
)

const (
	submitQuestionsTool = "submit_questions"
	submitContentTool   = "submit_worksheet_content"
)

// ErrNoToolCall is returned when the model answers without calling the requested tool.
var ErrNoToolCall = errors.New("model response has no tool call")

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	BaseURL string

	// Model defaults to GPT-4o.
	Model string

	Logger types.Logger
}

// OpenAIGenerator generates content with an OpenAI chat model. Output is
// returned through a forced tool call so the response is always structured.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger types.Logger
}

// NewOpenAIGenerator creates a generator from cfg.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logging.OrNop(cfg.Logger),
	}
}

// GenerateQuiz asks the model for types.QuestionsPerQuiz questions on the keywords.
func (g *OpenAIGenerator) GenerateQuiz(ctx context.Context, req QuizRequest) ([]types.Question, error) {
	g.logger.Debug("generating quiz", "quiz_id", req.QuizID, "difficulty", req.Difficulty)

	args, err := g.callTool(ctx,
		"You are an expert quiz question generator. Generate high-quality multiple choice questions with exactly 4 options each.",
		quizPrompt(req),
		submitQuestionsTool,
		"Submit generated quiz questions",
		questionsSchema,
	)
	if err != nil {
		return nil, err
	}

	var toolArgs struct {
		Questions []struct {
			Text          string   `json:"text"`
			Options       []string `json:"options"`
			CorrectAnswer int      `json:"correct_answer"`
		} `json:"questions"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	questions := make([]types.Question, 0, len(toolArgs.Questions))
	for _, q := range toolArgs.Questions {
		var answer string
		if q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options) {
			answer = q.Options[q.CorrectAnswer]
		}
		questions = append(questions, types.Question{
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: answer,
		})
	}

	g.logger.Debug("generated quiz", "quiz_id", req.QuizID, "questions", len(questions))

	return questions, nil
}

// GenerateWorksheet asks the model for keyword definitions and question answers.
func (g *OpenAIGenerator) GenerateWorksheet(ctx context.Context, req WorksheetRequest) (WorksheetContent, error) {
	g.logger.Debug("generating worksheet content", "worksheet_id", req.WorksheetID)

	args, err := g.callTool(ctx,
		"You are a study assistant. Define keywords concisely and answer study questions accurately.",
		worksheetPrompt(req),
		submitContentTool,
		"Submit keyword definitions and question answers",
		contentSchema,
	)
	if err != nil {
		return WorksheetContent{}, err
	}

	var toolArgs struct {
		Definitions []struct {
			Keyword    string `json:"keyword"`
			Definition string `json:"definition"`
		} `json:"definitions"`
		Answers []struct {
			Question string `json:"question"`
			Answer   string `json:"answer"`
		} `json:"answers"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return WorksheetContent{}, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	content := WorksheetContent{
		KeywordDefinitions: make(map[string]string, len(toolArgs.Definitions)),
		QuestionAnswers:    make(map[string]string, len(toolArgs.Answers)),
	}
	for _, d := range toolArgs.Definitions {
		content.KeywordDefinitions[d.Keyword] = d.Definition
	}
	for _, a := range toolArgs.Answers {
		content.QuestionAnswers[a.Question] = a.Answer
	}

	return content, nil
}

// callTool runs one chat completion that must call tool and returns its arguments.
func (g *OpenAIGenerator) callTool(
	ctx context.Context,
	system, prompt, tool, description string,
	schema map[string]any,
) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool,
				Description: description,
				Parameters:  schema,
			},
		}},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tool},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrNoToolCall)
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		return "", ErrNoToolCall
	}
	call := msg.ToolCalls[0]
	if call.Function.Name != tool {
		return "", fmt.Errorf("unexpected tool call: %s", call.Function.Name)
	}

	return call.Function.Arguments, nil
}

func quizPrompt(req QuizRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Generate %d multiple choice questions for the worksheet %q.\n\n", types.QuestionsPerQuiz, req.Title)
	sb.WriteString("Cover these keywords:\n")
	for _, kw := range req.Keywords {
		fmt.Fprintf(&sb, "- %s\n", kw)
	}
	fmt.Fprintf(&sb, "\nDifficulty level: %s\n\n", req.Difficulty)

	sb.WriteString("Requirements:\n")
	fmt.Fprintf(&sb, "- Exactly %d questions\n", types.QuestionsPerQuiz)
	fmt.Fprintf(&sb, "- Each question must have exactly %d distinct options\n", types.OptionsPerQuestion)
	sb.WriteString("- Incorrect options should be plausible but clearly wrong\n")
	sb.WriteString("- Avoid questions where the answer is given away in the question text\n")
	fmt.Fprintf(&sb, "- Use the %s tool to return your questions\n", submitQuestionsTool)

	return sb.String()
}

func worksheetPrompt(req WorksheetRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Worksheet: %q\n\n", req.Title)
	sb.WriteString("Define each keyword in one or two sentences:\n")
	for _, kw := range req.Keywords {
		fmt.Fprintf(&sb, "- %s\n", kw)
	}
	if len(req.Questions) > 0 {
		sb.WriteString("\nAnswer each question briefly:\n")
		for _, q := range req.Questions {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}
	fmt.Fprintf(&sb, "\nUse the %s tool, repeating each keyword and question verbatim.\n", submitContentTool)

	return sb.String()
}

var questionsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The question text",
					},
					"options": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Array of 4 multiple choice options",
					},
					"correct_answer": map[string]any{
						"type":        "integer",
						"description": "0-based index of the correct answer",
					},
				},
				"required": []string{"text", "options", "correct_answer"},
			},
		},
	},
	"required": []string{"questions"},
}

var contentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"definitions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword":    map[string]any{"type": "string"},
					"definition": map[string]any{"type": "string"},
				},
				"required": []string{"keyword", "definition"},
			},
		},
		"answers": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
					"answer":   map[string]any{"type": "string"},
				},
				"required": []string{"question", "answer"},
			},
		},
	},
	"required": []string{"definitions", "answers"},
}
