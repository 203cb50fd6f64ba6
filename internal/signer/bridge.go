package signer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var _ Bridge = (*WSBridge)(nil)

// 钱包标准中用户拒绝请求的错误码
const codeUserRejected = 4001

var (
	errBridgeClosed = errors.New("signer: 托管连接已关闭")
	// errNoResponse 表示请求已发出但未收到应答。
	errNoResponse = errors.New("signer: 托管请求未应答")
)

type bridgeRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type bridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bridgeResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *bridgeError    `json:"error"`
}

type accountResult struct {
	PublicKey string `json:"publicKey"`
}

type signResult struct {
	Signature string `json:"signature"`
}

// WSBridge 通过 websocket 与外部钱包桥接服务交互。
type WSBridge struct {
	conn    *websocket.Conn
	address solana.PublicKey
	timeout time.Duration
	logger  *zap.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan bridgeResponse
	closed  bool
	done    chan struct{}
}

// DialBridge 连接钱包桥接服务并读取托管账户地址。
func DialBridge(ctx context.Context, url string, timeout time.Duration, logger *zap.Logger) (*WSBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signer: 连接钱包桥接服务失败: %w", err)
	}

	b := &WSBridge{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "wallet-bridge")),
		pending: make(map[string]chan bridgeResponse),
		done:    make(chan struct{}),
	}
	go b.readLoop()

	var account accountResult
	if err := b.call(ctx, "getAccount", nil, &account); err != nil {
		_ = b.Close()
		return nil, err
	}
	pk, err := solana.PublicKeyFromBase58(account.PublicKey)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("signer: 托管地址非法: %w", err)
	}
	b.address = pk
	b.logger.Info("钱包桥接已连接", zap.String("address", pk.String()))
	return b, nil
}

// Address 返回托管账户地址。
func (b *WSBridge) Address() solana.PublicKey { return b.address }

// SignAndSend 请求托管方签名并提交交易。
func (b *WSBridge) SignAndSend(ctx context.Context, tx []byte) (solana.Signature, error) {
	var res signResult
	params := map[string]string{"transaction": base64.StdEncoding.EncodeToString(tx)}
	if err := b.call(ctx, "signAndSendTransaction", params, &res); err != nil {
		if errors.Is(err, errNoResponse) {
			// 交易已交给托管方，可能已被签名并广播
			return solana.Signature{}, fmt.Errorf("%w: %w", ErrSettlementTimeout, err)
		}
		return solana.Signature{}, err
	}
	sig, err := solana.SignatureFromBase58(res.Signature)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("signer: 托管返回的签名非法: %w", err)
	}
	return sig, nil
}

// Done 在连接断开后关闭。
func (b *WSBridge) Done() <-chan struct{} { return b.done }

// Close 关闭连接并唤醒所有等待中的请求。
func (b *WSBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	return b.conn.Close()
}

func (b *WSBridge) call(ctx context.Context, method string, params any, out any) error {
	id := uuid.NewString()
	ch := make(chan bridgeResponse, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errBridgeClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err := b.conn.WriteJSON(bridgeRequest{ID: id, Method: method, Params: params})
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("signer: 发送托管请求失败: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%w: %w", errNoResponse, errBridgeClosed)
		}
		if resp.Error != nil {
			if resp.Error.Code == codeUserRejected {
				return fmt.Errorf("%w: %s", ErrRejected, resp.Error.Message)
			}
			return fmt.Errorf("signer: 托管请求 %s 失败: %s", method, resp.Error.Message)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("signer: 解析托管响应失败: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s 超时", errNoResponse, method)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", errNoResponse, method, ctx.Err())
	}
}

func (b *WSBridge) readLoop() {
	defer func() { _ = b.Close() }()
	for {
		var resp bridgeResponse
		if err := b.conn.ReadJSON(&resp); err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if !closed {
				b.logger.Warn("钱包桥接连接断开", zap.Error(err))
			}
			return
		}

		// 投递与 Close 关闭通道都在 mu 内完成
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
		b.mu.Unlock()
		if !ok {
			b.logger.Debug("忽略未知响应", zap.String("id", resp.ID))
		}
	}
}
