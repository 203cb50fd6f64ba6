// Package token 维护代币符号到链上铸币地址与精度的映射。
package token

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Token 描述一个可交易代币。
type Token struct {
	Symbol   string
	Mint     string
	Decimals int32
	Native   bool
}

// ToAtomic 将人类可读数量换算为最小单位，向下取整。
func (t Token) ToAtomic(amount decimal.Decimal) (uint64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("token: %s 数量必须大于0", t.Symbol)
	}
	atomic := amount.Shift(t.Decimals).Floor()
	if atomic.Sign() <= 0 {
		return 0, fmt.Errorf("token: %s 数量 %s 低于最小单位", t.Symbol, amount.String())
	}
	if !atomic.BigInt().IsUint64() {
		return 0, fmt.Errorf("token: %s 数量 %s 超出范围", t.Symbol, amount.String())
	}
	return atomic.BigInt().Uint64(), nil
}

// FromAtomic 将最小单位换算为人类可读数量。
func (t Token) FromAtomic(atomic uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(atomic), -t.Decimals)
}

// Registry 按符号检索代币。
type Registry struct {
	bySymbol map[string]Token
	byMint   map[string]Token
}

// NewRegistry 使用给定代币创建注册表。
func NewRegistry(tokens ...Token) *Registry {
	r := &Registry{
		bySymbol: make(map[string]Token, len(tokens)),
		byMint:   make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		t.Symbol = Normalize(t.Symbol)
		r.bySymbol[t.Symbol] = t
		r.byMint[t.Mint] = t
	}
	return r
}

// DefaultRegistry 返回内置的主网常用代币。
func DefaultRegistry() *Registry {
	return NewRegistry(
		Token{Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9, Native: true},
		Token{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		Token{Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		Token{Symbol: "JUP", Mint: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
		Token{Symbol: "BONK", Mint: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Decimals: 5},
		Token{Symbol: "WIF", Mint: "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm", Decimals: 6},
		Token{Symbol: "JTO", Mint: "jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL", Decimals: 9},
		Token{Symbol: "PYTH", Mint: "HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3", Decimals: 6},
	)
}

// Lookup 按符号查找代币，大小写不敏感。
func (r *Registry) Lookup(symbol string) (Token, bool) {
	t, ok := r.bySymbol[Normalize(symbol)]
	return t, ok
}

// ByMint 按铸币地址查找代币。
func (r *Registry) ByMint(mint string) (Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// MustLookup 查找代币，不存在时返回错误。
func (r *Registry) MustLookup(symbol string) (Token, error) {
	t, ok := r.Lookup(symbol)
	if !ok {
		return Token{}, fmt.Errorf("token: 未知代币 %q", symbol)
	}
	return t, nil
}

// Symbols 返回已注册的全部符号，按字母序。
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Normalize 统一符号格式。
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
