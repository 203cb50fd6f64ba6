package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"trades-companion/internal/store"
)

// StorageKey 为订单集合在 KV 中的存储键。
const StorageKey = "limit_orders"

var (
	// ErrNotFound 表示订单不存在。
	ErrNotFound = errors.New("order: 订单不存在")
	// ErrInvalidTransition 表示非法的状态迁移。
	ErrInvalidTransition = errors.New("order: 非法状态迁移")
)

// Repository 将订单集合序列化为一个 JSON 数组保存，读改写在进程内串行化。
type Repository struct {
	kv     store.KV
	logger *zap.Logger
	mu     sync.Mutex
}

// NewRepository 创建订单仓储。
func NewRepository(kv store.KV, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{kv: kv, logger: logger}
}

// List 返回全部订单。
func (r *Repository) List(ctx context.Context) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// Get 按 ID 返回订单。
func (r *Repository) Get(ctx context.Context, id string) (Order, bool, error) {
	orders, err := r.List(ctx)
	if err != nil {
		return Order{}, false, err
	}
	for _, o := range orders {
		if o.ID == id {
			return o, true, nil
		}
	}
	return Order{}, false, nil
}

// Insert 追加新订单。
func (r *Repository) Insert(ctx context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range orders {
		if existing.ID == o.ID {
			return fmt.Errorf("order: 订单 %s 已存在", o.ID)
		}
	}
	return r.save(ctx, append(orders, o))
}

// Transition 当订单处于 from 时原子地迁移到 to，并在同一临界区内执行 mutate。
// 订单不存在或状态不符时返回 false。
func (r *Repository) Transition(ctx context.Context, id string, from, to Status, mutate func(*Order)) (Order, bool, error) {
	if !CanTransition(from, to) {
		return Order{}, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load(ctx)
	if err != nil {
		return Order{}, false, err
	}
	for i := range orders {
		if orders[i].ID != id {
			continue
		}
		if orders[i].Status != from {
			return orders[i], false, nil
		}
		updated := orders[i]
		if mutate != nil {
			mutate(&updated)
		}
		updated.ID = id
		updated.Status = to
		orders[i] = updated
		if err := r.save(ctx, orders); err != nil {
			return Order{}, false, err
		}
		r.logger.Debug("订单状态迁移",
			zap.String("order_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return updated, true, nil
	}
	return Order{}, false, nil
}

// CompareAndSwap 为不修改其他字段的 Transition。
func (r *Repository) CompareAndSwap(ctx context.Context, id string, from, to Status) (Order, bool, error) {
	return r.Transition(ctx, id, from, to, nil)
}

// Delete 删除订单，不检查状态。
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	for i := range orders {
		if orders[i].ID == id {
			orders = append(orders[:i], orders[i+1:]...)
			return true, r.save(ctx, orders)
		}
	}
	return false, nil
}

func (r *Repository) load(ctx context.Context) ([]Order, error) {
	raw, ok, err := r.kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("order: 读取订单失败: %w", err)
	}
	if !ok || raw == "" {
		return []Order{}, nil
	}
	orders, err := decodeOrders([]byte(raw))
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repository) save(ctx context.Context, orders []Order) error {
	raw, err := encodeOrders(orders)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		return fmt.Errorf("order: 保存订单失败: %w", err)
	}
	return nil
}

func decodeOrders(raw []byte) ([]Order, error) {
	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("order: 解析订单失败: %w", err)
	}
	orders := make([]Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, rec.toOrder())
	}
	return orders, nil
}

func encodeOrders(orders []Order) ([]byte, error) {
	records := make([]record, 0, len(orders))
	for _, o := range orders {
		records = append(records, toRecord(o))
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("order: 序列化订单失败: %w", err)
	}
	return raw, nil
}
