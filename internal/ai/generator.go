package ai

import (
	"context"
	"errors"
	"strings"
)

// SystemPrompt frames the transcript for the generation model. The last
// transcript entry is the triage summary, not a dialogue turn.
const SystemPrompt = "You are a careful medical assistant. The conversation below is given as " +
	"\"<role>: <text>\" lines, oldest first. The final entry, labeled medical_system_output, " +
	"is an automated triage summary of the latest user message; use it to inform your reply " +
	"but do not quote it verbatim. Reply to the latest user message."

var ErrEmptyCompletion = errors.New("model returned an empty response")

// TranscriptGenerator produces the assistant reply through an
// OpenAI-compatible chat completions endpoint.
type TranscriptGenerator struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

func NewTranscriptGenerator(client *OpenAICompatibleClient, cfg ChatConfig) *TranscriptGenerator {
	return &TranscriptGenerator{client: client, cfg: cfg}
}

func (g *TranscriptGenerator) Generate(ctx context.Context, transcript []string) (string, error) {
	content, err := g.client.Complete(ctx, g.cfg, BuildPrompt(transcript))
	if err != nil {
		return "", err
	}
	return nonEmpty(content)
}

// BuildPrompt turns transcript lines into a system message plus one user
// message holding the lines in order.
func BuildPrompt(transcript []string) []ChatMessage {
	return []ChatMessage{
		{Role: "system", Content: SystemPrompt},
		{Role: "user", Content: strings.Join(transcript, "\n")},
	}
}

func nonEmpty(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}
