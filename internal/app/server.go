package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trades-companion/internal/activity"
	"trades-companion/internal/agent"
	"trades-companion/internal/execution"
	"trades-companion/internal/order"
	"trades-companion/internal/signer"
	"trades-companion/internal/wallet"
)

type orderService interface {
	PlaceOrder(ctx context.Context, params order.PlaceParams) (order.Order, error)
	Cancel(ctx context.Context, id string) (bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
	Active(ctx context.Context) ([]order.Order, error)
}

type activityReader interface {
	List(ctx context.Context, limit int) ([]activity.Entry, error)
}

type intentParser interface {
	Interpret(ctx context.Context, text string, active []order.Order) (agent.Intent, error)
}

type walletSession interface {
	Kind() signer.Kind
	Address() solana.PublicKey
}

type balanceReader interface {
	Get(ctx context.Context) (wallet.Balance, error)
	Refresh()
}

type transferer interface {
	Transfer(ctx context.Context, req execution.TransferRequest) (execution.Result, error)
}

type walletCustody interface {
	ImportWallet(ctx context.Context, mnemonic, secretKey string) (solana.PublicKey, error)
	ExportWallet(ctx context.Context, passphrase string) (secretKey, mnemonic string, err error)
}

// server 暴露订单、活动记录与钱包的 REST 接口。
type server struct {
	orders   orderService
	activity activityReader
	agent    intentParser
	session  walletSession
	balance  balanceReader
	custody  walletCustody
	transfer transferer
	logger   *zap.Logger
}

func (s *server) handler(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/orders", s.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders", s.placeOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/intent", s.orderIntent).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", s.getOrder).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/cancel", s.cancelOrder).Methods(http.MethodPost)
	r.HandleFunc("/orders/{id}", s.removeOrder).Methods(http.MethodDelete)
	r.HandleFunc("/activity", s.listActivity).Methods(http.MethodGet)
	r.HandleFunc("/wallet", s.walletInfo).Methods(http.MethodGet)
	r.HandleFunc("/wallet/import", s.importWallet).Methods(http.MethodPost)
	r.HandleFunc("/wallet/export", s.exportWallet).Methods(http.MethodPost)
	r.HandleFunc("/wallet/transfer", s.transferSOL).Methods(http.MethodPost)

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (s *server) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []order.Order
		err    error
	)
	if strings.EqualFold(r.URL.Query().Get("status"), string(order.StatusActive)) {
		orders, err = s.orders.Active(r.Context())
	} else {
		orders, err = s.orders.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type           string  `json:"type"`
		Token          string  `json:"token"`
		BaseToken      string  `json:"baseToken"`
		Amount         float64 `json:"amount"`
		TriggerPrice   float64 `json:"triggerPrice"`
		ExpiresInHours float64 `json:"expiresInHours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &order.ValidationError{Field: "body", Reason: "JSON 格式错误"})
		return
	}
	typ, err := order.ParseType(req.Type)
	if err != nil {
		s.writeError(w, &order.ValidationError{Field: "type", Reason: err.Error()})
		return
	}

	o, err := s.orders.PlaceOrder(r.Context(), order.PlaceParams{
		Type:           typ,
		Token:          req.Token,
		BaseToken:      req.BaseToken,
		Amount:         req.Amount,
		TriggerPrice:   req.TriggerPrice,
		ExpiresInHours: req.ExpiresInHours,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, o)
}

func (s *server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

func (s *server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.orders.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *server) removeOrder(w http.ResponseWriter, r *http.Request) {
	removed, err := s.orders.Remove(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		s.writeError(w, order.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type intentResponse struct {
	Intent    agent.Intent  `json:"intent"`
	Order     *order.Order  `json:"order,omitempty"`
	Orders    []order.Order `json:"orders,omitempty"`
	Cancelled *bool         `json:"cancelled,omitempty"`
}

func (s *server) orderIntent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "未配置 openai，无法解析指令"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, &order.ValidationError{Field: "text", Reason: "不能为空"})
		return
	}

	ctx := r.Context()
	active, err := s.orders.Active(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	intent, err := s.agent.Interpret(ctx, req.Text, active)
	if err != nil {
		s.logger.Warn("解析指令失败", zap.Error(err))
		s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	resp := intentResponse{Intent: intent}
	switch intent.Action {
	case agent.ActionPlace:
		params, convErr := intent.PlaceParams()
		if convErr != nil {
			s.writeError(w, convErr)
			return
		}
		o, placeErr := s.orders.PlaceOrder(ctx, params)
		if placeErr != nil {
			s.writeError(w, placeErr)
			return
		}
		resp.Order = &o
	case agent.ActionCancel:
		cancelled, cancelErr := s.orders.Cancel(ctx, intent.OrderID)
		if cancelErr != nil {
			s.writeError(w, cancelErr)
			return
		}
		resp.Cancelled = &cancelled
	case agent.ActionList:
		resp.Orders = active
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if qs := r.URL.Query().Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 500 {
				v = 500
			}
			limit = v
		}
	}
	entries, err := s.activity.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type walletResponse struct {
	Connected bool            `json:"connected"`
	Kind      signer.Kind     `json:"kind,omitempty"`
	Address   string          `json:"address,omitempty"`
	Balance   *wallet.Balance `json:"balance,omitempty"`
	Error     string          `json:"balanceError,omitempty"`
}

func (s *server) walletInfo(w http.ResponseWriter, r *http.Request) {
	resp := walletResponse{Kind: s.session.Kind()}
	address := s.session.Address()
	if !address.IsZero() {
		resp.Connected = true
		resp.Address = address.String()
		if s.balance != nil {
			b, err := s.balance.Get(r.Context())
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Balance = &b
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) importWallet(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "当前模式不支持导入钱包"})
		return
	}
	var req struct {
		Mnemonic  string `json:"mnemonic"`
		SecretKey string `json:"secretKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &order.ValidationError{Field: "body", Reason: "JSON 格式错误"})
		return
	}
	address, err := s.custody.ImportWallet(r.Context(), req.Mnemonic, req.SecretKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"address": address.String()})
}

func (s *server) exportWallet(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "当前模式不支持导出钱包"})
		return
	}
	var req struct {
		Passphrase string `json:"passphrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Passphrase == "" {
		s.writeError(w, &order.ValidationError{Field: "passphrase", Reason: "不能为空"})
		return
	}
	secret, mnemonic, err := s.custody.ExportWallet(r.Context(), req.Passphrase)
	if err != nil {
		if errors.Is(err, errPassphraseMismatch) {
			s.writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"secretKey": secret, "mnemonic": mnemonic})
}

type transferResponse struct {
	Signature string `json:"signature,omitempty"`
	Lamports  uint64 `json:"lamports"`
	Error     string `json:"error,omitempty"`
}

func (s *server) transferSOL(w http.ResponseWriter, r *http.Request) {
	if s.transfer == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "转账功能未启用"})
		return
	}
	var req struct {
		To     string          `json:"to"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &order.ValidationError{Field: "body", Reason: "JSON 格式错误"})
		return
	}
	if strings.TrimSpace(req.To) == "" {
		s.writeError(w, &order.ValidationError{Field: "to", Reason: "不能为空"})
		return
	}
	if !req.Amount.IsPositive() {
		s.writeError(w, &order.ValidationError{Field: "amount", Reason: "必须大于0"})
		return
	}
	if _, err := solana.PublicKeyFromBase58(strings.TrimSpace(req.To)); err != nil {
		s.writeError(w, &order.ValidationError{Field: "to", Reason: "地址非法"})
		return
	}

	res, err := s.transfer.Transfer(r.Context(), execution.TransferRequest{To: strings.TrimSpace(req.To), Amount: req.Amount})
	if s.balance != nil && res.Reference != "" {
		s.balance.Refresh()
	}
	if err != nil {
		switch {
		case errors.Is(err, signer.ErrSettlementTimeout):
			s.writeJSON(w, http.StatusAccepted, transferResponse{Signature: res.Reference, Error: err.Error()})
		case errors.Is(err, signer.ErrNotConnected), errors.Is(err, signer.ErrSessionTimeout):
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		case errors.Is(err, signer.ErrRejected):
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			s.writeError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, transferResponse{Signature: res.Reference, Lamports: res.InAmount})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	var validation *order.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validation), errors.Is(err, wallet.ErrInvalidMnemonic):
		status = http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound):
		status = http.StatusNotFound
	default:
		s.logger.Error("请求处理失败", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func serve(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("接口服务已启动", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: 接口服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭接口服务失败", zap.Error(err))
		}
		return nil
	}
}
