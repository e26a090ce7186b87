package engine

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"echoweaver/server/internal/config"
	"echoweaver/server/internal/prompts"
)

// WeaverClient calls an OpenAI-compatible chat completion endpoint to
// produce dream segments. It implements interfaces.NarrativeService.
type WeaverClient struct {
	client       *openai.Client
	promptEngine *prompts.TemplateEngine

	model       string
	maxTokens   int
	temperature float32
}

// NewWeaverClient creates a narrative client from the AI configuration.
func NewWeaverClient(cfg config.AIConfig) *WeaverClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	promptEngine := prompts.NewTemplateEngine()
	_ = promptEngine.InitializeDefaultTemplates()

	return &WeaverClient{
		client:       openai.NewClientWithConfig(clientCfg),
		promptEngine: promptEngine,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
	}
}

// Weave generates the next dream segment. The opening template is used
// while the narrative is still empty, the continuation template after.
func (c *WeaverClient) Weave(ctx context.Context, narrative, fragment string) (string, error) {
	templateName := prompts.TemplateContinuation
	if narrative == "" {
		templateName = prompts.TemplateOpening
	}

	dreamCtx := &prompts.DreamContext{
		Narrative: narrative,
		Fragment:  fragment,
	}

	system, err := c.promptEngine.Render(prompts.TemplateSystem, dreamCtx)
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	prompt, err := c.promptEngine.Render(templateName, dreamCtx)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from model")
	}

	segment := strings.TrimSpace(resp.Choices[0].Message.Content)
	if segment == "" {
		return "", fmt.Errorf("model returned an empty segment")
	}

	return segment, nil
}
