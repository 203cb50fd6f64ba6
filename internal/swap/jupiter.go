package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"trades-companion/internal/config"
	"trades-companion/internal/httpclient"
)

var _ Client = (*JupiterClient)(nil)

type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routePlanStep `json:"routePlan"`
}

type routePlanStep struct {
	SwapInfo struct {
		Label string `json:"label"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

type swapRequest struct {
	QuoteResponse           json.RawMessage `json:"quoteResponse"`
	UserPublicKey           string          `json:"userPublicKey"`
	WrapAndUnwrapSol        bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit bool            `json:"dynamicComputeUnitLimit"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// JupiterClient 调用 Jupiter 报价与兑换接口。
type JupiterClient struct {
	baseURL     string
	slippageBps int
	client      *httpclient.Client
	logger      *zap.Logger
}

// NewJupiterClient 创建兑换客户端。
func NewJupiterClient(cfg config.SwapConfig, logger *zap.Logger) *JupiterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	return &JupiterClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		slippageBps: cfg.SlippageBps,
		client: httpclient.New(httpclient.Options{
			Name:    "jupiter-swap",
			Timeout: cfg.Timeout,
			Retry:   cfg.Retry,
			Headers: headers,
		}, logger),
		logger: logger,
	}
}

// Quote 请求兑换报价。
func (c *JupiterClient) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.Amount == 0 {
		return Quote{}, fmt.Errorf("swap: 报价数量必须大于0")
	}
	if req.From.Mint == req.To.Mint {
		return Quote{}, fmt.Errorf("swap: 兑换两端不能是同一代币 %s", req.From.Symbol)
	}

	query := url.Values{}
	query.Set("inputMint", req.From.Mint)
	query.Set("outputMint", req.To.Mint)
	query.Set("amount", strconv.FormatUint(req.Amount, 10))
	query.Set("slippageBps", strconv.Itoa(c.slippageBps))

	var raw json.RawMessage
	if err := c.client.GetJSON(ctx, c.baseURL+"/quote?"+query.Encode(), &raw); err != nil {
		if httpclient.IsTransient(err) {
			return Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
		}
		return Quote{}, fmt.Errorf("swap: 获取报价失败: %w", err)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Quote{}, fmt.Errorf("swap: 解析报价失败: %w", err)
	}
	inAmount, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("swap: 报价 inAmount 非法: %w", err)
	}
	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("swap: 报价 outAmount 非法: %w", err)
	}

	labels := make([]string, 0, len(parsed.RoutePlan))
	for _, step := range parsed.RoutePlan {
		if step.SwapInfo.Label != "" {
			labels = append(labels, step.SwapInfo.Label)
		}
	}

	quote := Quote{
		Route:     strings.Join(labels, " > "),
		Rate:      rate(inAmount, outAmount, req.From.Decimals, req.To.Decimals),
		InAmount:  inAmount,
		OutAmount: outAmount,
		Raw:       raw,
	}

	c.logger.Debug("获取报价成功",
		zap.String("from", req.From.Symbol),
		zap.String("to", req.To.Symbol),
		zap.Uint64("in", inAmount),
		zap.Uint64("out", outAmount),
		zap.String("route", quote.Route),
	)
	return quote, nil
}

// Simulated 始终为 false。
func (c *JupiterClient) Simulated() bool { return false }

// Build 请求构建未签名的兑换交易。
func (c *JupiterClient) Build(ctx context.Context, rawQuote json.RawMessage, payer string) (BuildResult, error) {
	if payer == "" {
		return BuildResult{}, fmt.Errorf("swap: 付款地址不能为空")
	}
	var resp swapResponse
	err := c.client.PostJSON(ctx, c.baseURL+"/swap", swapRequest{
		QuoteResponse:           rawQuote,
		UserPublicKey:           payer,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}, &resp)
	if err != nil {
		if httpclient.IsTransient(err) {
			return BuildResult{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
		}
		return BuildResult{}, fmt.Errorf("swap: 构建交易失败: %w", err)
	}

	tx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil || len(tx) == 0 {
		return BuildResult{}, fmt.Errorf("swap: 交易编码非法")
	}
	return BuildResult{Transaction: tx, LastValidBlockHeight: resp.LastValidBlockHeight}, nil
}

func rate(in, out uint64, inDecimals, outDecimals int32) float64 {
	if in == 0 {
		return 0
	}
	inUnits := float64(in) / math.Pow10(int(inDecimals))
	outUnits := float64(out) / math.Pow10(int(outDecimals))
	return outUnits / inUnits
}
