package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"trades-companion/internal/config"
	"trades-companion/internal/order"
	"trades-companion/internal/token"
)

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg         config.OpenAIConfig
	tokens      *token.Registry
	defaultBase string
	logger      *zap.Logger
	sdk         completer
}

// NewClient 使用给定配置创建指令解析客户端。
func NewClient(cfg config.OpenAIConfig, tokens *token.Registry, defaultBase string, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("agent: openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return newClient(cfg, openai.NewClientWithConfig(config), tokens, defaultBase, logger), nil
}

func newClient(cfg config.OpenAIConfig, sdk completer, tokens *token.Registry, defaultBase string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = token.DefaultRegistry()
	}
	if defaultBase == "" {
		defaultBase = "USDC"
	}
	return &Client{
		cfg:         cfg,
		tokens:      tokens,
		defaultBase: defaultBase,
		logger:      logger,
		sdk:         sdk,
	}
}

// Interpret 解析一条用户指令，active 为当前有效条件单，供撤单时引用。
func (c *Client) Interpret(ctx context.Context, text string, active []order.Order) (Intent, error) {
	if strings.TrimSpace(text) == "" {
		return Intent{}, errors.New("agent: 指令不能为空")
	}
	if c.cfg.Model == "" {
		return Intent{}, errors.New("agent: openai model 不能为空")
	}

	prompt, err := BuildPrompt(text, c.tokens.Symbols(), c.defaultBase, active)
	if err != nil {
		return Intent{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Intent{}, fmt.Errorf("agent: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Intent{}, errors.New("agent: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Intent{}, errors.New("agent: OpenAI 返回内容为空")
	}

	intent, err := parseIntent(rawContent)
	if err != nil {
		c.logger.Error("解析模型指令失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Intent{}, err
	}

	if err := intent.Validate(); err != nil {
		return Intent{}, err
	}
	if intent.Action == ActionPlace {
		if _, ok := c.tokens.Lookup(intent.Token); !ok {
			return Intent{}, fmt.Errorf("agent: 不支持的代币 %q", intent.Token)
		}
	}

	c.logger.Info("指令解析成功",
		zap.String("action", string(intent.Action)),
		zap.String("type", intent.Type),
		zap.String("token", intent.Token),
		zap.Float64("amount", intent.Amount),
		zap.Float64("trigger_price", intent.TriggerPrice),
	)

	return intent, nil
}

func parseIntent(content string) (Intent, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Intent{}, err
	}

	var intent Intent
	if err = json.Unmarshal(jsonPayload, &intent); err != nil {
		return Intent{}, fmt.Errorf("agent: 解析指令JSON失败: %w", err)
	}

	return intent.normalized(), nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("agent: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
