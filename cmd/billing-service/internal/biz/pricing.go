package biz

import (
	"chatpilot/cmd/billing-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

// TokenClass 计费 token 类别
type TokenClass string

const (
	TokenClassInput  TokenClass = "input"
	TokenClassOutput TokenClass = "output"
	// TokenClassBoth 按一半输入、一半输出计费，仅在求和后向上取整一次
	TokenClassBoth TokenClass = "both"
)

// ModelRate 每 1K token 的信用点费率
type ModelRate struct {
	InputPer1K  int `json:"input_per_1k"`
	OutputPer1K int `json:"output_per_1k"`
}

// 内置费率表（信用点 / 1K tokens）
var defaultModelRates = map[string]ModelRate{
	"gpt-4o":          {InputPer1K: 3, OutputPer1K: 10},
	"gpt-4o-mini":     {InputPer1K: 1, OutputPer1K: 2},
	"claude-sonnet-4": {InputPer1K: 3, OutputPer1K: 15},
	"claude-haiku-3":  {InputPer1K: 1, OutputPer1K: 4},
	"deepseek-chat":   {InputPer1K: 1, OutputPer1K: 2},
}

// 未知模型的兜底费率，按中档模型定价，永不报错
var fallbackRate = ModelRate{InputPer1K: 5, OutputPer1K: 15}

// PricingCalculator 定价计算器。纯函数，无状态，无 I/O。
type PricingCalculator struct {
	rates    map[string]ModelRate
	fallback ModelRate
	log      *log.Helper
}

// NewPricingCalculator 创建定价计算器；extra 费率覆盖同名内置项
func NewPricingCalculator(extra map[string]ModelRate, logger log.Logger) *PricingCalculator {
	rates := make(map[string]ModelRate, len(defaultModelRates)+len(extra))
	for model, rate := range defaultModelRates {
		rates[model] = rate
	}
	for model, rate := range extra {
		rates[model] = rate
	}
	return &PricingCalculator{
		rates:    rates,
		fallback: fallbackRate,
		log:      log.NewHelper(logger),
	}
}

// Cost 计算 (model, tokens, class) 对应的信用点费用，向上取整
func (p *PricingCalculator) Cost(modelID string, tokens int, class TokenClass) (int, error) {
	if tokens < 0 {
		return 0, domain.ErrInvalidArgument
	}
	if tokens == 0 {
		return 0, nil
	}

	rate := p.Rate(modelID)

	switch class {
	case TokenClassInput:
		return ceilDiv(tokens*rate.InputPer1K, 1000), nil
	case TokenClassOutput:
		return ceilDiv(tokens*rate.OutputPer1K, 1000), nil
	case TokenClassBoth:
		// 一半输入、一半输出：tokens/2/1000*in + tokens/2/1000*out，
		// 只在最终求和后取整一次，不能按半边分别取整
		return ceilDiv(tokens*(rate.InputPer1K+rate.OutputPer1K), 2000), nil
	default:
		return 0, domain.ErrInvalidArgument
	}
}

// Rate 返回模型费率；未知模型返回兜底费率
func (p *PricingCalculator) Rate(modelID string) ModelRate {
	if rate, ok := p.rates[modelID]; ok {
		return rate
	}
	p.log.Debugf("unknown model pricing: %s, using fallback", modelID)
	return p.fallback
}

// Rates 返回全部已知模型费率（余额页展示用）
func (p *PricingCalculator) Rates() map[string]ModelRate {
	out := make(map[string]ModelRate, len(p.rates))
	for model, rate := range p.rates {
		out[model] = rate
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
