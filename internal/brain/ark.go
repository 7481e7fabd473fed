package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/respond"
)

const defaultPersona = "You are the streamer's on-channel companion. Keep replies short, " +
	"one or two sentences, conversational, and in the energy of the stream. " +
	"Never repeat one of your recent replies verbatim."

// ArkConfig configures the hosted model behind the generator.
type ArkConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Persona     string
	MaxTokens   int
	Temperature float64
}

// ArkGenerator produces replies through an Ark-hosted chat model. The chain
// is compiled once; each Generate call runs template, history, and model in
// sequence.
type ArkGenerator struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	persona string
	log     *slog.Logger
}

func NewArkGenerator(ctx context.Context, cfg ArkConfig, log *slog.Logger) (*ArkGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("brain: ark api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("brain: ark model is required")
	}
	if log == nil {
		log = slog.Default()
	}

	modelCfg := &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Region:  cfg.Region,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	}
	if cfg.MaxTokens > 0 {
		modelCfg.MaxTokens = &cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		temp := float32(cfg.Temperature)
		modelCfg.Temperature = &temp
	}

	chatModel, err := ark.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("brain: create chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("brain: compile chain: %w", err)
	}

	persona := strings.TrimSpace(cfg.Persona)
	if persona == "" {
		persona = defaultPersona
	}
	return &ArkGenerator{chain: runnable, persona: persona, log: log}, nil
}

func (g *ArkGenerator) Generate(ctx context.Context, p respond.Prompt) (string, error) {
	out, err := g.chain.Invoke(ctx, map[string]any{
		"system":  g.systemPrompt(p),
		"history": historyMessages(p.History),
		"query":   queryLine(p),
	})
	if err != nil {
		return "", fmt.Errorf("brain: generate: %w", err)
	}
	reply := strings.TrimSpace(out.Content)
	g.log.Debug("brain: reply generated", "user", p.Username, "chars", len(reply))
	return reply, nil
}

func (g *ArkGenerator) systemPrompt(p respond.Prompt) string {
	var b strings.Builder
	b.WriteString(g.persona)
	if p.GameState != "" {
		b.WriteString("\n\nOn stream right now: ")
		b.WriteString(p.GameState)
	}
	if p.Viewer != nil && p.Viewer.Sightings > 1 {
		fmt.Fprintf(&b, "\n%s is a returning viewer, seen %d times before.",
			p.Viewer.Username, p.Viewer.Sightings)
		if p.Viewer.LastReply != "" {
			fmt.Fprintf(&b, " Your last reply to them was: %q.", p.Viewer.LastReply)
		}
	}
	if p.Platform == core.PlatformX {
		b.WriteString("\nThis reply is a public post on X; keep it under 280 characters.")
	}
	return b.String()
}

// historyMessages turns the dispatcher's recent replies into assistant turns
// so the model sees what it already said.
func historyMessages(history []string) []*schema.Message {
	if len(history) == 0 {
		return nil
	}
	msgs := make([]*schema.Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, schema.AssistantMessage(h, nil))
	}
	return msgs
}

func queryLine(p respond.Prompt) string {
	return fmt.Sprintf("[%s, %s] %s: %s", p.Platform, p.Tier, p.Username, p.Text)
}
