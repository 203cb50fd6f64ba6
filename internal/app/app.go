// Package app 负责装配各组件并驱动系统生命周期。
package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-companion/internal/activity"
	"trades-companion/internal/agent"
	"trades-companion/internal/config"
	"trades-companion/internal/execution"
	"trades-companion/internal/heartbeat"
	"trades-companion/internal/notify"
	"trades-companion/internal/order"
	"trades-companion/internal/pricefeed"
	"trades-companion/internal/progress"
	"trades-companion/internal/signer"
	"trades-companion/internal/store"
	"trades-companion/internal/swap"
	"trades-companion/internal/token"
	"trades-companion/internal/wallet"
	"trades-companion/internal/watcher"
)

const bridgeRetryDelay = 5 * time.Second

var errPassphraseMismatch = errors.New("app: 口令不匹配")

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store   *store.Store
	kv      store.KV
	closers []func() error

	tokens   *token.Registry
	chain    *rpc.Client
	feed     pricefeed.Feed
	session  *signer.Session
	slot     *signer.SessionSlot
	keystore *wallet.Keystore
	balance  *wallet.BalanceCache

	notifier *notify.Service
	activity *activity.Log
	progress *progress.Ledger
	executor *execution.Executor
	manager  *order.Manager
	watcher  *watcher.Watcher
	beat     *heartbeat.Heartbeat
	agent    *agent.Client
}

// New 创建 App 实例并装配全部组件。
func New(cfg *config.Config, logger *zap.Logger, sqlite *store.Store) (*App, error) {
	if cfg == nil || sqlite == nil {
		return nil, errors.New("app: 配置与存储不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		store:  sqlite,
		kv:     sqlite,
		tokens: token.DefaultRegistry(),
		chain:  rpc.New(cfg.Signer.RPCEndpoint),
		slot:   signer.NewSessionSlot(),
	}

	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.cfg

	if strings.EqualFold(cfg.Database.Driver, "pebble") {
		kv, err := store.NewPebble(cfg.Database.PebblePath)
		if err != nil {
			return err
		}
		a.kv = kv
		a.closers = append(a.closers, kv.Close)
	}

	feed, err := newFeed(cfg.PriceFeed, a.tokens, a.logger)
	if err != nil {
		return err
	}
	a.feed = feed

	a.session = signer.NewSession(a.kv, a.logger)
	a.keystore = wallet.NewKeystore(a.kv, cfg.Wallet.Passphrase, cfg.Wallet.ScryptN, a.logger)
	a.balance = wallet.NewBalanceCache(a.chain, a.session, cfg.Wallet.BalanceTTL, a.logger)

	sinks := []notify.Dispatcher{notify.NewLogSink(a.logger)}
	if cfg.Notify.KafkaBroker != "" {
		kafkaSink, err := notify.NewKafkaSink(cfg.Notify.KafkaBroker, cfg.Notify.KafkaTopic, a.logger)
		if err != nil {
			return err
		}
		sinks = append(sinks, kafkaSink)
		a.closers = append(a.closers, func() error { kafkaSink.Close(); return nil })
	}
	a.notifier = notify.NewService(cfg.Notify.Timeout, a.logger, sinks...)

	if a.activity, err = activity.NewLog(a.store, a.logger); err != nil {
		return err
	}
	a.progress = progress.NewLedger(a.kv, a.logger)

	var swapClient swap.Client
	if cfg.Swap.Mock {
		swapClient = &swap.MockClient{}
		a.logger.Warn("兑换处于模拟模式，不会签名上链")
	} else {
		swapClient = swap.NewJupiterClient(cfg.Swap, a.logger)
	}
	a.executor = execution.NewExecutor(swapClient, a.session, a.tokens, a.chain, execution.Options{
		QuoteTimeout: cfg.Swap.Timeout,
		MaxRetry:     cfg.Swap.Retry.MaxAttempts,
	}, a.logger)

	a.manager = order.NewManager(order.NewRepository(a.kv, a.logger), a.tokens, order.Dependencies{
		Swapper:  a.executor,
		Notifier: a.notifier,
		Activity: a.activity,
		Awarder:  a.progress,
		Balance:  a.balance,
	}, cfg.Orders, a.logger)

	a.watcher = watcher.New(a.manager, a.feed, cfg.Watcher, a.logger)
	a.manager.SetRestarter(a.watcher)

	a.beat = heartbeat.New(cfg.Heartbeat, a.logger)
	a.beat.Register("orders", func(ctx context.Context) error {
		_, err := watcher.Cycle(ctx, a.manager, a.feed, cfg.Watcher.FetchTimeout, a.logger)
		return err
	})
	a.beat.Register("balance", func(context.Context) error {
		if !a.session.Address().IsZero() {
			a.balance.Refresh()
		}
		return nil
	})

	if cfg.OpenAI.APIKey != "" {
		if a.agent, err = agent.NewClient(cfg.OpenAI, a.tokens, cfg.Orders.DefaultBaseToken, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func newFeed(cfg config.PriceFeedConfig, tokens *token.Registry, logger *zap.Logger) (pricefeed.Feed, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ccxt":
		return pricefeed.NewCCXTFeed(cfg, logger)
	default:
		return pricefeed.NewJupiterFeed(cfg, tokens, logger), nil
	}
}

// Run 连接签名后端，启动价格轮询、心跳与接口服务，阻塞至 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易助手已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("price_feed", a.cfg.PriceFeed.Provider),
		zap.String("signer_mode", a.cfg.Signer.Mode),
		zap.Bool("swap_mock", a.cfg.Swap.Mock),
	)

	g, ctx := errgroup.WithContext(ctx)

	if err := a.connectSigner(ctx, g); err != nil {
		return err
	}

	if n, err := a.manager.RecoverInterrupted(ctx); err != nil {
		a.logger.Error("处理中断订单失败", zap.Int("recovered", n), zap.Error(err))
	}

	a.watcher.Start(ctx)
	if a.cfg.Heartbeat.Enabled {
		a.beat.Start(ctx)
	}

	if a.cfg.Server.Port > 0 {
		srv := &server{
			orders:   a.manager,
			activity: a.activity,
			session:  a.session,
			balance:  a.balance,
			custody:  a,
			transfer: a.executor,
			logger:   a.logger,
		}
		if a.agent != nil {
			srv.agent = a.agent
		}
		handler := srv.handler(a.cfg.Server.AllowedOrigins)
		g.Go(func() error {
			return serve(ctx, handler, a.cfg.Server.Port, a.logger)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("系统收到退出信号，正在停止")
		return nil
	})

	err := g.Wait()
	a.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}

func (a *App) shutdown() {
	a.watcher.Stop()
	a.beat.Stop()
	a.manager.Wait()
	a.notifier.Wait()
	a.progress.Wait()
	a.balance.Wait()
}

func (a *App) connectSigner(ctx context.Context, g *errgroup.Group) error {
	mode := signer.Kind(strings.ToLower(a.cfg.Signer.Mode))
	if mode == "" || mode == "none" {
		stored, ok, err := a.session.StoredMode(ctx)
		if err != nil {
			return err
		}
		if !ok {
			a.logger.Warn("未配置签名后端，仅模拟模式可执行条件单")
			return nil
		}
		mode = stored
	}

	switch mode {
	case signer.KindLocal:
		return a.useLocal(ctx)
	case signer.KindDelegated:
		if a.cfg.Signer.BridgeURL == "" {
			return errors.New("app: 委托托管需要配置 signer.bridge_url")
		}
		if err := a.session.UseDelegated(ctx, signer.NewDelegatedSigner(a.slot, a.cfg.Signer.SessionWait, a.logger)); err != nil {
			return err
		}
		g.Go(func() error {
			a.maintainBridge(ctx)
			return nil
		})
		return nil
	default:
		return fmt.Errorf("app: 未知托管模式 %q", mode)
	}
}

// useLocal 加载本地密钥，首次运行时生成新钱包。
func (a *App) useLocal(ctx context.Context) error {
	exists, err := a.keystore.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		account, err := wallet.GenerateMnemonic()
		if err != nil {
			return err
		}
		if err := a.keystore.Save(ctx, account); err != nil {
			return err
		}
		a.logger.Warn("已生成新钱包，请尽快导出并备份助记词", zap.String("address", account.Address().String()))
	}

	key, err := a.keystore.PrivateKey(ctx)
	if err != nil {
		return err
	}
	return a.activateLocal(ctx, key)
}

func (a *App) activateLocal(ctx context.Context, key solana.PrivateKey) error {
	local, err := signer.NewLocalKeySigner(key, a.chain, signer.LocalOptions{
		ConfirmTimeout: a.cfg.Signer.ConfirmTimeout,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := a.session.UseLocal(ctx, local); err != nil {
		return err
	}
	a.balance.Refresh()
	return nil
}

// ImportWallet 导入助记词或私钥，替换本地钱包并切换为本地签名。
func (a *App) ImportWallet(ctx context.Context, mnemonic, secretKey string) (solana.PublicKey, error) {
	if a.cfg.Wallet.Passphrase == "" {
		return solana.PublicKey{}, errors.New("app: 未配置 wallet.passphrase，无法保存密钥")
	}

	var (
		account wallet.Account
		err     error
	)
	switch {
	case strings.TrimSpace(mnemonic) != "":
		account, err = wallet.ImportMnemonic(mnemonic)
	case strings.TrimSpace(secretKey) != "":
		account, err = wallet.ImportSecretKey(secretKey)
	default:
		return solana.PublicKey{}, &order.ValidationError{Field: "wallet", Reason: "需要提供 mnemonic 或 secretKey"}
	}
	if err != nil {
		return solana.PublicKey{}, err
	}

	if err := a.keystore.Save(ctx, account); err != nil {
		return solana.PublicKey{}, err
	}
	if err := a.activateLocal(ctx, account.PrivateKey); err != nil {
		return solana.PublicKey{}, err
	}
	a.logger.Info("钱包已导入", zap.String("address", account.Address().String()))
	return account.Address(), nil
}

// ExportWallet 校验口令后返回本地钱包的私钥与助记词。
func (a *App) ExportWallet(ctx context.Context, passphrase string) (string, string, error) {
	expected := a.cfg.Wallet.Passphrase
	if expected == "" || subtle.ConstantTimeCompare([]byte(passphrase), []byte(expected)) != 1 {
		return "", "", errPassphraseMismatch
	}
	return a.keystore.Export(ctx)
}

// maintainBridge 保持与钱包桥接服务的连接，断开后按固定间隔重连。
func (a *App) maintainBridge(ctx context.Context) {
	for {
		bridge, err := signer.DialBridge(ctx, a.cfg.Signer.BridgeURL, a.cfg.Signer.BridgeTimeout, a.logger)
		if err != nil {
			a.logger.Warn("连接钱包桥接服务失败", zap.Error(err))
		} else {
			a.slot.Attach(bridge)
			a.balance.Refresh()
			select {
			case <-bridge.Done():
				a.logger.Warn("钱包桥接已断开")
			case <-ctx.Done():
			}
			a.slot.Detach()
			_ = bridge.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(bridgeRetryDelay):
		}
	}
}

// Close 释放 App 自行打开的资源，SQLite 由调用方关闭。
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
