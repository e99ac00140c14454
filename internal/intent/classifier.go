package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/echoposthq/echopost/pkg/logging"
)

const classifierPrompt = `You route WhatsApp messages for a content creation service. Decide whether the sender is asking for content to be produced (ORDER) or just capturing ideas, links, or thoughts (NOTE).

Extract creation parameters in two groups:
- "explicit": slots the message states outright
- "inferred": slots you can read from context but the message never names

Slots (omit any you cannot fill):
- platform: one of linkedin, instagram, twitter, blog
- length: one of short, medium, long
- tone: a single word such as professional, casual, witty, bold
- angle: the framing or viewpoint to take
- topic: what the content should be about, as a short phrase

Message:
%s

Respond with JSON only:
{"intent": "ORDER" or "NOTE", "confidence": 0.0 to 1.0, "explicit": {}, "inferred": {}}`

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier resolves intent with the AI model first and the rule
// matcher as fallback, so a model outage degrades accuracy but never
// blocks a flush.
type Classifier struct {
	client chatClient
	model  string
	tracer trace.Tracer
	logger *logging.Logger
}

func NewClassifier(client chatClient, model string, logger *logging.Logger) *Classifier {
	if client == nil {
		panic("intent: chat client cannot be nil")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Classifier{
		client: client,
		model:  model,
		tracer: otel.Tracer("echopost.internal.intent"),
		logger: logger,
	}
}

// Classify labels the aggregated buffer text. AI errors and unusable
// model output fall through to the rule matcher.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	ctx, span := c.tracer.Start(ctx, "intent.classify")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Intent: KindNote, Confidence: 1, Source: SourceRules}
	}

	result, err := c.classifyAI(ctx, text)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("intent classifier falling back to rules", "error", err)
		return ClassifyByRules(text)
	}
	span.SetAttributes(
		attribute.String("echopost.intent", string(result.Intent)),
		attribute.Float64("echopost.confidence", result.Confidence),
	)
	return result
}

func (c *Classifier) classifyAI(ctx context.Context, text string) (Result, error) {
	prompt := strings.Replace(classifierPrompt, "%s", text, 1)

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return Result{}, fmt.Errorf("intent: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("intent: model returned no choices")
	}

	return parseModelResult(resp.Choices[0].Message.Content)
}

// parseModelResult digs the JSON object out of the model reply, which
// may wrap it in prose or code fences.
func parseModelResult(content string) (Result, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Result{}, errors.New("intent: no JSON object in model reply")
	}

	var result Result
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return Result{}, fmt.Errorf("intent: decode model reply: %w", err)
	}

	switch Kind(strings.ToUpper(string(result.Intent))) {
	case KindOrder:
		result.Intent = KindOrder
	case KindNote:
		result.Intent = KindNote
	default:
		return Result{}, fmt.Errorf("intent: model returned unknown intent %q", result.Intent)
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	result.Explicit = normalizeParams(result.Explicit)
	result.Inferred = normalizeParams(result.Inferred)
	result.Source = SourceAI
	return result, nil
}

func normalizeParams(p Params) Params {
	p.Platform = strings.ToLower(strings.TrimSpace(p.Platform))
	p.Length = strings.ToLower(strings.TrimSpace(p.Length))
	p.Tone = strings.ToLower(strings.TrimSpace(p.Tone))
	p.Angle = strings.TrimSpace(p.Angle)
	p.Topic = strings.TrimSpace(p.Topic)
	return p
}
