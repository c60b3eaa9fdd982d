// Package oracle wraps the external text-completion service behind a small
// interface. Callers treat the returned text as untrusted: it may or may not
// parse, and every call site owns a documented fallback.
package oracle

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	errx "github.com/olist-insight/server/internal/core/error"

	"github.com/olist-insight/server/internal/agent/model"
	logx "github.com/olist-insight/server/pkg/logger"
)

// Oracle is the opaque completion service. Implementations must be safe for
// concurrent use; callers must handle malformed or non-JSON output.
type Oracle interface {
	Complete(ctx context.Context, systemPrompt string, turns []model.Turn, maxTokens int) (string, error)
}

type chatOracle struct {
	chatModel einomodel.BaseChatModel
	cfg       model.OracleConfig
}

// New builds the production oracle from config. Provider "openai" (default)
// speaks any OpenAI-compatible endpoint; "gemini" uses the Gemini API.
// Missing credentials fail fast at construction.
func New(ctx context.Context, cfg model.OracleConfig) (Oracle, error) {
	var (
		cm  einomodel.BaseChatModel
		err error
	)

	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, errx.New(fmt.Errorf("GEMINI_API_KEY not set"), http.StatusInternalServerError, errx.OracleErrorMessage)
		}
		clientCfg := &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if cfg.BaseURL != "" {
			clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
		}
		client, cerr := genai.NewClient(ctx, clientCfg)
		if cerr != nil {
			return nil, fmt.Errorf("error creating Gemini client: %w", cerr)
		}
		cm, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       cfg.ChatModel,
			Temperature: &cfg.Temperature,
			MaxTokens:   &cfg.MaxTokens,
		})
	default:
		if cfg.APIKey == "" {
			return nil, errx.New(fmt.Errorf("OPENAI_API_KEY not set"), http.StatusInternalServerError, errx.OracleErrorMessage)
		}
		cm, err = einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.ChatModel,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	logx.Debug().Str("provider", cfg.Provider).Str("model", cfg.ChatModel).Msg("oracle initialised")
	return &chatOracle{chatModel: cm, cfg: cfg}, nil
}

// Complete sends one system prompt plus conversation turns and returns the
// raw completion text.
func (o *chatOracle) Complete(ctx context.Context, systemPrompt string, turns []model.Turn, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxTokens
	}

	msgs := make([]*schema.Message, 0, len(turns)+1)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	for _, t := range turns {
		switch t.Role {
		case model.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(t.Content))
		}
	}

	resp, err := o.chatModel.Generate(ctx, msgs,
		einomodel.WithTemperature(o.cfg.Temperature),
		einomodel.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", errx.New(err, http.StatusBadGateway, errx.OracleErrorMessage)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}
