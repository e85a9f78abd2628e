package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/oncall-dispatch/internal/llm"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

const systemPrompt = `You are an expert message classifier for an on-call support system.

Classify the latest message into exactly one type:
- "incident": outages, production issues, critical failures, servers down
- "knowledge_query": questions asking for information, how-to guides, documentation
- "support_request": help requests, access issues, non-critical problems
- "deployment_help": deployment, release, and rollback questions
- "general": anything else

Severity is one of: low, medium, high, critical. Use "low" if unclear.
List the services, systems, or components the message names as entities.

Reply with only a JSON object:
{"type": "...", "severity": "...", "confidence": 0.0, "entities": ["..."], "reasoning": "..."}`

type llmOutput struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Urgency    string   `json:"urgency"`
	Confidence *float64 `json:"confidence"`
	Entities   []string `json:"entities"`
	Reasoning  string   `json:"reasoning"`
}

// LLMClassifier classifies messages with a language model.
type LLMClassifier struct {
	client     llm.Client
	model      string
	maxHistory int
}

// NewLLMClassifier creates a classifier backed by client. maxHistory bounds
// how many earlier messages are sent as context.
func NewLLMClassifier(client llm.Client, modelName string, maxHistory int) *LLMClassifier {
	return &LLMClassifier{client: client, model: modelName, maxHistory: maxHistory}
}

// Classify asks the model for a classification. Transport or parse failures
// are reported as ErrUnavailable.
func (c *LLMClassifier) Classify(ctx context.Context, text string, history []model.MessageContext) (model.Classification, error) {
	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:       c.model,
		System:      systemPrompt,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: c.prompt(text, history)}},
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		return model.Classification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return parseOutput(resp.Content)
}

func (c *LLMClassifier) prompt(text string, history []model.MessageContext) string {
	if c.maxHistory > 0 && len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	if len(history) == 0 {
		return "Classify this message: " + text
	}

	var b strings.Builder
	b.WriteString("Earlier messages in this conversation:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "- %s\n", m.Text)
	}
	b.WriteString("\nClassify this message: ")
	b.WriteString(text)
	return b.String()
}

func parseOutput(content string) (model.Classification, error) {
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return model.Classification{}, fmt.Errorf("%w: no JSON object in model output", ErrUnavailable)
	}

	var out llmOutput
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return model.Classification{}, fmt.Errorf("%w: failed to decode model output: %v", ErrUnavailable, err)
	}

	severity := out.Severity
	if severity == "" {
		severity = out.Urgency
	}
	confidence := 0.5
	if out.Confidence != nil {
		confidence = *out.Confidence
	}
	return model.NormalizeClassification(out.Type, severity, confidence, out.Entities), nil
}
