package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trades-companion/internal/config"
	"trades-companion/internal/execution"
	"trades-companion/internal/pricefeed"
	"trades-companion/internal/signer"
	"trades-companion/internal/swap"
	"trades-companion/internal/token"
)

// Swapper 执行兑换。
type Swapper interface {
	Swap(ctx context.Context, req execution.SwapRequest) (execution.Result, error)
}

// Notifier 发送通知，失败由实现方吞掉。
type Notifier interface {
	Notify(title, body string, metadata map[string]string)
}

// ActivityLog 追加活动记录。
type ActivityLog interface {
	Append(ctx context.Context, line string) error
}

// Awarder 发放进度积分。
type Awarder interface {
	Add(points int)
}

// BalanceRefresher 请求刷新余额缓存。
type BalanceRefresher interface {
	Refresh()
}

// Restarter 在出现新订单时唤醒自停的价格轮询。
type Restarter interface {
	EnsureRunning()
}

// Dependencies 汇总订单管理器的外部协作者，除 Swapper 外均可为空。
type Dependencies struct {
	Swapper  Swapper
	Notifier Notifier
	Activity ActivityLog
	Awarder  Awarder
	Balance  BalanceRefresher
}

const settlementWarning = "交易已提交但未确认，资金可能已经转移"

// Manager 负责条件单的全部状态迁移。
type Manager struct {
	repo   *Repository
	tokens *token.Registry
	deps   Dependencies
	cfg    config.OrdersConfig
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	restarter Restarter

	wg sync.WaitGroup
}

// NewManager 创建订单管理器。
func NewManager(repo *Repository, tokens *token.Registry, deps Dependencies, cfg config.OrdersConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tokens == nil {
		tokens = token.DefaultRegistry()
	}
	if cfg.DefaultBaseToken == "" {
		cfg.DefaultBaseToken = "USDC"
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 60 * time.Second
	}
	return &Manager{
		repo:   repo,
		tokens: tokens,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SetRestarter 注入价格轮询。
func (m *Manager) SetRestarter(r Restarter) {
	m.mu.Lock()
	m.restarter = r
	m.mu.Unlock()
}

// PlaceOrder 校验参数并创建 active 订单。
func (m *Manager) PlaceOrder(ctx context.Context, params PlaceParams) (Order, error) {
	o, err := m.validate(params)
	if err != nil {
		return Order{}, err
	}

	now := truncateMillis(m.now())
	o.ID = uuid.NewString()
	o.Status = StatusActive
	o.CreatedAt = now
	if params.ExpiresInHours > 0 {
		expires := truncateMillis(now.Add(time.Duration(params.ExpiresInHours * float64(time.Hour))))
		o.ExpiresAt = &expires
	}

	if err := m.repo.Insert(ctx, o); err != nil {
		return Order{}, err
	}

	m.logger.Info("条件单已创建",
		zap.String("order_id", o.ID),
		zap.String("type", string(o.Type)),
		zap.String("token", o.Token),
		zap.Float64("amount", o.Amount),
		zap.Float64("trigger_price", o.TriggerPrice),
	)
	m.appendActivity(ctx, fmt.Sprintf("创建%s：%s %s @ %s %s", typeLabel(o.Type), formatAmount(o.Amount), o.Token, formatAmount(o.TriggerPrice), o.BaseToken))

	m.mu.RLock()
	restarter := m.restarter
	m.mu.RUnlock()
	if restarter != nil {
		restarter.EnsureRunning()
	}
	return o, nil
}

func (m *Manager) validate(params PlaceParams) (Order, error) {
	switch params.Type {
	case TypeLimitBuy, TypeLimitSell, TypeStopLoss:
	default:
		return Order{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("不支持的类型 %q", params.Type)}
	}

	symbol := token.Normalize(params.Token)
	if symbol == "" {
		return Order{}, &ValidationError{Field: "token", Reason: "不能为空"}
	}
	if _, ok := m.tokens.Lookup(symbol); !ok {
		return Order{}, &ValidationError{Field: "token", Reason: fmt.Sprintf("未知代币 %s", symbol)}
	}

	base := token.Normalize(params.BaseToken)
	if base == "" {
		base = token.Normalize(m.cfg.DefaultBaseToken)
	}
	if _, ok := m.tokens.Lookup(base); !ok {
		return Order{}, &ValidationError{Field: "baseToken", Reason: fmt.Sprintf("未知代币 %s", base)}
	}
	if base == symbol {
		return Order{}, &ValidationError{Field: "baseToken", Reason: "不能与交易代币相同"}
	}

	if !positive(params.Amount) {
		return Order{}, &ValidationError{Field: "amount", Reason: "必须大于0"}
	}
	if !positive(params.TriggerPrice) {
		return Order{}, &ValidationError{Field: "triggerPrice", Reason: "必须大于0"}
	}
	if params.ExpiresInHours < 0 || math.IsNaN(params.ExpiresInHours) || math.IsInf(params.ExpiresInHours, 0) {
		return Order{}, &ValidationError{Field: "expiresInHours", Reason: "不能为负数"}
	}

	return Order{
		Type:         params.Type,
		Token:        symbol,
		BaseToken:    base,
		Amount:       params.Amount,
		TriggerPrice: params.TriggerPrice,
	}, nil
}

// Cancel 撤销 active 订单，其他状态不做任何修改并返回 false。
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	o, ok, err := m.repo.CompareAndSwap(ctx, id, StatusActive, StatusCancelled)
	if err != nil || !ok {
		return false, err
	}
	m.logger.Info("条件单已撤销", zap.String("order_id", id))
	m.appendActivity(ctx, fmt.Sprintf("撤销%s：%s %s", typeLabel(o.Type), formatAmount(o.Amount), o.Token))
	return true, nil
}

// Remove 删除订单记录，不论状态。
func (m *Manager) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := m.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		m.logger.Info("条件单已删除", zap.String("order_id", id))
	}
	return removed, nil
}

// List 返回全部订单。
func (m *Manager) List(ctx context.Context) ([]Order, error) {
	return m.repo.List(ctx)
}

// Get 按 ID 返回订单。
func (m *Manager) Get(ctx context.Context, id string) (Order, error) {
	o, ok, err := m.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// Active 返回全部 active 订单。
func (m *Manager) Active(ctx context.Context) ([]Order, error) {
	orders, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == StatusActive {
			active = append(active, o)
		}
	}
	return active, nil
}

// WatchedSymbols 返回订单涉及的去重排序后的代币符号。
func WatchedSymbols(orders []Order) []string {
	seen := make(map[string]struct{}, len(orders))
	symbols := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Status != StatusActive {
			continue
		}
		if _, ok := seen[o.Token]; ok {
			continue
		}
		seen[o.Token] = struct{}{}
		symbols = append(symbols, o.Token)
	}
	sort.Strings(symbols)
	return symbols
}

// Scan 处理过期并返回本轮触发的订单，不执行任何网络或签名操作。
// 过期优先于触发；价格表中缺失的代币跳过且不修改。
func (m *Manager) Scan(ctx context.Context, prices map[string]float64) ([]Trigger, error) {
	orders, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var errs error
	triggers := make([]Trigger, 0)
	for _, o := range orders {
		if o.Status != StatusActive {
			continue
		}
		if o.Expired(now) {
			errs = multierr.Append(errs, m.expire(ctx, o))
			continue
		}
		price, ok := prices[o.Token]
		if !ok {
			continue
		}
		if Evaluate(o, price) {
			m.logger.Info("条件单触发",
				zap.String("order_id", o.ID),
				zap.String("type", string(o.Type)),
				zap.String("token", o.Token),
				zap.Float64("price", price),
				zap.Float64("trigger_price", o.TriggerPrice),
			)
			triggers = append(triggers, Trigger{Order: o, Price: price})
		}
	}
	return triggers, errs
}

// Launch 为每个触发订单启动独立的执行任务，不等待其完成。
// 结果只能通过存储中的订单及其副作用观察到。
func (m *Manager) Launch(ctx context.Context, triggers []Trigger) {
	base := context.WithoutCancel(ctx)
	for _, t := range triggers {
		m.wg.Add(1)
		go func(t Trigger) {
			defer m.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("执行任务异常", zap.String("order_id", t.Order.ID), zap.Any("panic", r))
					m.fail(base, t.Order.ID, fmt.Errorf("执行异常: %v", r), "")
				}
			}()
			if err := m.Execute(base, t.Order, t.Price); err != nil {
				m.logger.Warn("执行任务失败", zap.String("order_id", t.Order.ID), zap.Error(err))
			}
		}(t)
	}
}

// CheckOrders 扫描并启动执行，返回本轮触发的订单。
func (m *Manager) CheckOrders(ctx context.Context, prices map[string]float64) ([]Order, error) {
	triggers, err := m.Scan(ctx, prices)
	m.Launch(ctx, triggers)

	triggered := make([]Order, 0, len(triggers))
	for _, t := range triggers {
		triggered = append(triggered, t.Order)
	}
	return triggered, err
}

// Wait 等待已启动的执行任务全部结束。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Execute 抢占订单并完成兑换。订单已不是 active 时静默返回。
func (m *Manager) Execute(ctx context.Context, o Order, price float64) error {
	claimed, ok, err := m.repo.CompareAndSwap(ctx, o.ID, StatusActive, StatusExecuting)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Debug("订单已被处理，跳过执行", zap.String("order_id", o.ID), zap.String("status", string(claimed.Status)))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
	defer cancel()

	req := swapRequest(claimed, price)
	res, err := m.deps.Swapper.Swap(ctx, req)
	switch {
	case err == nil:
		return m.fill(ctx, claimed, price, res)
	case isTransient(err):
		if _, _, revertErr := m.repo.CompareAndSwap(context.WithoutCancel(ctx), claimed.ID, StatusExecuting, StatusActive); revertErr != nil {
			return multierr.Append(err, revertErr)
		}
		m.logger.Warn("报价暂不可用，订单保持有效", zap.String("order_id", claimed.ID), zap.Error(err))
		return nil
	default:
		return m.fail(context.WithoutCancel(ctx), claimed.ID, err, res.Reference)
	}
}

func swapRequest(o Order, price float64) execution.SwapRequest {
	amount := decimal.NewFromFloat(o.Amount)
	if o.Type == TypeLimitBuy {
		return execution.SwapRequest{
			From:   o.BaseToken,
			To:     o.Token,
			Amount: amount.Mul(decimal.NewFromFloat(price)),
			Reason: string(o.Type),
		}
	}
	return execution.SwapRequest{
		From:   o.Token,
		To:     o.BaseToken,
		Amount: amount,
		Reason: string(o.Type),
	}
}

func isTransient(err error) bool {
	return errors.Is(err, pricefeed.ErrUnavailable) || errors.Is(err, swap.ErrQuoteUnavailable)
}

func (m *Manager) fill(ctx context.Context, o Order, price float64, res execution.Result) error {
	filledAt := truncateMillis(m.now())
	filled, ok, err := m.repo.Transition(context.WithoutCancel(ctx), o.ID, StatusExecuting, StatusFilled, func(o *Order) {
		o.FilledAt = &filledAt
		o.FilledPrice = &price
		o.TxSignature = res.Reference
		o.Error = ""
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order: 订单 %s 成交后状态异常", o.ID)
	}

	m.logger.Info("条件单已成交",
		zap.String("order_id", filled.ID),
		zap.Float64("filled_price", price),
		zap.String("tx", filled.TxSignature),
		zap.Bool("mock", res.Mock),
	)
	summary := fmt.Sprintf("%s %s %s @ %s %s", typeLabel(filled.Type), formatAmount(filled.Amount), filled.Token, formatAmount(price), filled.BaseToken)
	m.notify("条件单已成交", summary, filled)
	m.appendActivity(ctx, "成交"+summary)
	if m.deps.Awarder != nil && m.cfg.FillPoints > 0 {
		m.deps.Awarder.Add(m.cfg.FillPoints)
	}
	if m.deps.Balance != nil {
		m.deps.Balance.Refresh()
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, id string, cause error, reference string) error {
	message := strings.TrimSpace(cause.Error())
	if message == "" {
		message = "未知错误"
	}
	if errors.Is(cause, signer.ErrSettlementTimeout) {
		message = settlementWarning + ": " + message
	}

	failed, ok, err := m.repo.Transition(ctx, id, StatusExecuting, StatusFailed, func(o *Order) {
		o.Error = message
		if reference != "" {
			o.TxSignature = reference
		}
	})
	if err != nil {
		return multierr.Append(cause, err)
	}
	if !ok {
		return cause
	}

	m.logger.Error("条件单执行失败", zap.String("order_id", id), zap.Error(cause))
	m.notify("条件单执行失败", fmt.Sprintf("%s %s %s：%s", typeLabel(failed.Type), formatAmount(failed.Amount), failed.Token, message), failed)
	m.appendActivity(ctx, fmt.Sprintf("执行失败%s：%s", typeLabel(failed.Type), message))
	return nil
}

func (m *Manager) expire(ctx context.Context, o Order) error {
	expired, ok, err := m.repo.CompareAndSwap(ctx, o.ID, StatusActive, StatusExpired)
	if err != nil || !ok {
		return err
	}
	m.logger.Info("条件单已过期", zap.String("order_id", o.ID))
	m.notify("条件单已过期", fmt.Sprintf("%s %s %s @ %s %s", typeLabel(expired.Type), formatAmount(expired.Amount), expired.Token, formatAmount(expired.TriggerPrice), expired.BaseToken), expired)
	return nil
}

// RecoverInterrupted 将上次进程退出时仍处于 executing 的订单置为失败，不做链上对账。
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	orders, err := m.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	var errs error
	for _, o := range orders {
		if o.Status != StatusExecuting {
			continue
		}
		if err := m.fail(ctx, o.ID, errors.New("执行过程中断，结算状态未知"), ""); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		m.logger.Warn("已处理中断的执行中订单", zap.Int("count", recovered))
	}
	return recovered, errs
}

func (m *Manager) notify(title, body string, o Order) {
	if m.deps.Notifier == nil {
		return
	}
	m.deps.Notifier.Notify(title, body, map[string]string{
		"order_id": o.ID,
		"status":   string(o.Status),
		"token":    o.Token,
	})
}

func (m *Manager) appendActivity(ctx context.Context, line string) {
	if m.deps.Activity == nil {
		return
	}
	if err := m.deps.Activity.Append(context.WithoutCancel(ctx), line); err != nil {
		m.logger.Warn("写入活动记录失败", zap.Error(err))
	}
}

func typeLabel(t Type) string {
	switch t {
	case TypeLimitBuy:
		return "限价买入"
	case TypeLimitSell:
		return "限价卖出"
	case TypeStopLoss:
		return "止损"
	default:
		return string(t)
	}
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
