package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Turn is one exchange of the conversation history handed to extraction.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Profile holds the fields an extraction run managed to pull out of the
// history. Empty fields mean the model found nothing for them.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Extractor asks an external collaborator to read a conversation and
// populate visitor profile fields.
type Extractor interface {
	ExtractProfile(ctx context.Context, history []Turn) (*Profile, error)
}

// LLMExtractor implements Extractor against any OpenAI-compatible endpoint.
type LLMExtractor struct {
	llm llms.LLM
}

func NewLLMExtractor(baseURL, token, model string) (*LLMExtractor, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &LLMExtractor{llm: llm}, nil
}

const extractionPrompt = `You read support chat transcripts and extract the
visitor's contact details when the visitor has volunteered them.

Respond with a JSON object only:
{
    "name": "the visitor's name, or empty string if not stated",
    "email": "the visitor's email address, or empty string if not stated"
}

Never invent values. If a field was not clearly provided by the visitor,
return it as an empty string.`

func (e *LLMExtractor) ExtractProfile(ctx context.Context, history []Turn) (*Profile, error) {
	prompt := extractionPrompt + "\n\nTranscript:\n"
	for _, turn := range history {
		prompt += fmt.Sprintf("%s: %s\n", turn.Role, turn.Content)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, e.llm, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal([]byte(stripFences(completion)), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	profile.Name = strings.TrimSpace(profile.Name)
	profile.Email = strings.TrimSpace(profile.Email)
	return &profile, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
