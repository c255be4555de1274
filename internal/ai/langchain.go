package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainGenerator is the langchaingo-backed alternative to TranscriptGenerator.
type LangchainGenerator struct {
	llm llms.Model
}

func NewLangchainGenerator(cfg ChatConfig) (*LangchainGenerator, error) {
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init langchain llm failed: %w", err)
	}
	return &LangchainGenerator{llm: llm}, nil
}

func (g *LangchainGenerator) Generate(ctx context.Context, transcript []string) (string, error) {
	prompt := BuildPrompt(transcript)
	content := make([]llms.MessageContent, 0, len(prompt))
	for _, msg := range prompt {
		role := llms.ChatMessageTypeHuman
		if msg.Role == "system" {
			role = llms.ChatMessageTypeSystem
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}

	resp, err := g.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("langchain generate failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return nonEmpty(resp.Choices[0].Content)
}
