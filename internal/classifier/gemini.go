package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"guardian/internal/monitor"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ErrModelResponse indicates the model returned something other than the
// JSON document it was asked for.
var ErrModelResponse = errors.New("unexpected model response")

const applicationJSON = "application/json"

const systemPrompt = `You are a content moderator for a Discord server. You receive batches of
recent messages and must decide, per message, whether it violates the
server's rules.

Input format:
{
  "rules": "the server rules, verbatim",
  "messages": [
    {
      "messageId": "unique id",
      "authorId": "author id",
      "authorName": "display name",
      "content": "message text",
      "context": ["preceding messages in the channel, oldest first"]
    }
  ]
}

Output format:
{
  "results": [
    {
      "messageId": "id of the evaluated message",
      "violation": true,
      "reason": "short category, e.g. harassment, slur, threat",
      "severity": 0-100,
      "comment": "optional one-line remark addressed to the channel"
    }
  ]
}

Severity scale:
0-20: harmless or borderline banter
21-50: rude but tolerable
51-75: clear rule violation
76-100: severe (threats, slurs, targeted harassment)

Rules:
1. Return one result per input message. Messages without a violation get
   violation=false and severity 0.
2. Judge each message in its conversational context. Sarcasm and quoting
   someone else's violation are not violations.
3. Never flag users who are calling out or reporting abuse.
4. Keep reasons to a few words. The comment is optional and must stay civil.`

const batchPromptFormat = `Evaluate these messages against the server rules.

RULES:
%s

MESSAGES:
%s`

type requestMessage struct {
	MessageID  string   `json:"messageId"`
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName"`
	Content    string   `json:"content"`
	Context    []string `json:"context,omitempty"`
}

type batchRequest struct {
	Messages []requestMessage `json:"messages"`
}

type verdictResult struct {
	MessageID string `json:"messageId"`
	Violation bool   `json:"violation"`
	Reason    string `json:"reason"`
	Severity  int    `json:"severity"`
	Comment   string `json:"comment"`
}

type batchResponse struct {
	Results []verdictResult `json:"results"`
}

// Gemini classifies message batches with the Gemini API. Multiple API keys
// are rotated per request to spread quota.
type Gemini struct {
	mu      sync.Mutex
	models  []*genai.GenerativeModel
	clients []*genai.Client
	next    int
	logger  *zap.Logger
}

func New(ctx context.Context, apiKeys []string, modelName string, logger *zap.Logger) (*Gemini, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("classifier: at least one API key required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	g := &Gemini{logger: logger.Named("classifier")}
	for _, key := range apiKeys {
		client, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("classifier: create client: %w", err)
		}
		g.clients = append(g.clients, client)
		g.models = append(g.models, buildModel(client, modelName))
	}
	return g, nil
}

func buildModel(client *genai.Client, modelName string) *genai.GenerativeModel {
	model := client.GenerativeModel(modelName)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	model.ResponseMIMEType = applicationJSON
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"results": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"messageId": {
							Type:        genai.TypeString,
							Description: "ID of the evaluated message",
						},
						"violation": {
							Type:        genai.TypeBoolean,
							Description: "Whether the message violates the rules",
						},
						"reason": {
							Type:        genai.TypeString,
							Description: "Short violation category",
						},
						"severity": {
							Type:        genai.TypeInteger,
							Description: "Severity between 0 and 100",
						},
						"comment": {
							Type:        genai.TypeString,
							Description: "Optional remark for the channel",
						},
					},
					Required: []string{"messageId", "violation", "reason", "severity"},
				},
			},
		},
		Required: []string{"results"},
	}
	model.SetTemperature(0.2)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(2048)
	return model
}

func (g *Gemini) Close() {
	for _, client := range g.clients {
		_ = client.Close()
	}
}

func (g *Gemini) pickModel() *genai.GenerativeModel {
	g.mu.Lock()
	defer g.mu.Unlock()
	model := g.models[g.next]
	g.next = (g.next + 1) % len(g.models)
	return model
}

// AnalyzeBatch submits one batch and returns verdicts keyed by message id.
// Messages the model did not flag are absent from the map.
func (g *Gemini) AnalyzeBatch(ctx context.Context, entries []monitor.Entry, opts monitor.Options) (map[string]monitor.Verdict, error) {
	if len(entries) == 0 {
		return map[string]monitor.Verdict{}, nil
	}

	prompt, err := buildBatchPrompt(entries, opts)
	if err != nil {
		return nil, err
	}

	model := g.pickModel()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("classifier: generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty candidate list", ErrModelResponse)
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("%w: non-text part", ErrModelResponse)
	}

	verdicts, err := decodeVerdicts([]byte(text), entries)
	if err != nil {
		g.logger.Error("undecodable model response",
			zap.String("response", string(text)),
			zap.Error(err))
		return nil, err
	}
	return verdicts, nil
}

// AnalyzeOne classifies a single message by wrapping it in a batch of one.
func (g *Gemini) AnalyzeOne(ctx context.Context, entry monitor.Entry, opts monitor.Options) (monitor.Verdict, error) {
	verdicts, err := g.AnalyzeBatch(ctx, []monitor.Entry{entry}, opts)
	if err != nil {
		return monitor.Verdict{}, err
	}
	return verdicts[entry.Message.ID], nil
}

func buildBatchPrompt(entries []monitor.Entry, opts monitor.Options) (string, error) {
	request := batchRequest{Messages: make([]requestMessage, 0, len(entries))}
	for _, entry := range entries {
		msg := requestMessage{
			MessageID:  entry.Message.ID,
			AuthorID:   entry.Message.AuthorID,
			AuthorName: entry.Message.AuthorName,
			Content:    entry.Message.Content,
		}
		for _, ctxMsg := range entry.Context {
			msg.Context = append(msg.Context, fmt.Sprintf("%s: %s", ctxMsg.AuthorName, ctxMsg.Content))
		}
		request.Messages = append(request.Messages, msg)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("classifier: marshal request: %w", err)
	}

	rules := opts.Rules
	if rules == "" {
		rules = "Be respectful. No harassment, slurs, threats, or explicit content."
	}
	prompt := fmt.Sprintf(batchPromptFormat, rules, payload)
	if opts.Prompt != "" {
		prompt += "\n\nADDITIONAL GUIDANCE:\n" + opts.Prompt
	}
	return prompt, nil
}

// decodeVerdicts parses the model output and drops results whose message id
// does not match any submitted message. The model occasionally hallucinates
// ids; those verdicts are worthless.
func decodeVerdicts(raw []byte, entries []monitor.Entry) (map[string]monitor.Verdict, error) {
	var decoded batchResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelResponse, err)
	}

	known := make(map[string]bool, len(entries))
	for _, entry := range entries {
		known[entry.Message.ID] = true
	}

	verdicts := make(map[string]monitor.Verdict, len(decoded.Results))
	for _, result := range decoded.Results {
		if !known[result.MessageID] {
			continue
		}
		severity := result.Severity
		if severity < 0 {
			severity = 0
		}
		if severity > 100 {
			severity = 100
		}
		verdicts[result.MessageID] = monitor.Verdict{
			Violation: result.Violation,
			Reason:    result.Reason,
			Severity:  severity,
			Comment:   result.Comment,
		}
	}
	return verdicts, nil
}
