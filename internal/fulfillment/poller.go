package fulfillment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/observability/alerting"
	"TradingTools/internal/observability/metrics"
	"TradingTools/internal/order"
	"TradingTools/pkg/logger"
)

// DefaultPollInterval 是未指定间隔时的轮询周期。
const DefaultPollInterval = 10 * time.Second

// Fulfiller 尝试成交一笔订单，由 Engine 实现。
type Fulfiller interface {
	TryFulfill(ctx context.Context, o *order.LimitOrder, token common.Address) (bool, error)
}

// Failure 记录一次失败的成交尝试。
type Failure struct {
	OrderID string
	Err     error
}

// SweepReport 汇总一次轮询的结果。
type SweepReport struct {
	Checked  int
	Filled   []string
	Skipped  []string
	Failures []Failure
}

// Sweep 按插入顺序处理所有 pending 订单。缺少代币地址的订单被跳过，
// 单笔订单的错误被记录后继续处理后续订单。
func Sweep(ctx context.Context, store order.Store, engine Fulfiller, tokens map[string]common.Address, log *slog.Logger) (SweepReport, error) {
	if log == nil {
		log = logger.Named("poller")
	}
	started := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(started)) }()

	var report SweepReport
	pending, err := store.ListPending(ctx)
	if err != nil {
		log.Error("读取待成交订单失败", slog.Any("error", err))
		return report, err
	}

	for _, o := range pending {
		token, ok := tokens[o.TokenSymbol]
		if !ok {
			report.Skipped = append(report.Skipped, o.ID)
			metrics.ObserveAttempt(metrics.ResultSkipped)
			continue
		}
		report.Checked++
		filled, err := engine.TryFulfill(ctx, o, token)
		switch {
		case err != nil:
			report.Failures = append(report.Failures, Failure{OrderID: o.ID, Err: err})
			metrics.ObserveAttempt(metrics.ResultFailed)
			log.Error("处理限价单失败",
				slog.String("order_id", o.ID),
				slog.String("token_symbol", o.TokenSymbol),
				slog.String("error_code", string(xerrors.CodeOf(err))),
				slog.Any("error", err),
			)
		case filled:
			report.Filled = append(report.Filled, o.ID)
			metrics.ObserveAttempt(metrics.ResultFilled)
		default:
			metrics.ObserveAttempt(metrics.ResultWaiting)
		}
	}
	return report, nil
}

// Poller 周期性地执行 Sweep。状态只有 stopped 与 running 两种。
type Poller struct {
	store   order.Store
	engine  Fulfiller
	alerter alerting.Dispatcher
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// sweepMu 保证同一时刻只有一次 sweep，包括 Stop 后立即 Start 的情况。
	sweepMu sync.Mutex
}

// PollerOption 定义可选配置。
type PollerOption func(*Poller)

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) PollerOption {
	return func(p *Poller) {
		p.alerter = dispatcher
	}
}

// WithPollerLogger 指定日志输出。
func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// NewPoller 构造 Poller，初始状态为 stopped。
func NewPoller(store order.Store, engine Fulfiller, opts ...PollerOption) *Poller {
	p := &Poller{store: store, engine: engine}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("poller")
	}
	return p
}

// Start 以给定的代币映射和间隔开始轮询。已在运行时不做任何事并返回 false。
// tokens 在本次轮询期间保持不变。
func (p *Poller) Start(tokens map[string]common.Address, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	snapshot := make(map[string]common.Address, len(tokens))
	for symbol, addr := range tokens {
		snapshot[symbol] = addr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, snapshot, interval, p.done)

	metrics.SetPollerRunning(true)
	p.logger.Info("轮询已启动", slog.Duration("interval", interval), slog.Int("tokens", len(snapshot)))
	return true
}

// Stop 阻止后续 sweep 开始。进行中的 sweep 会执行完毕，Stop 不等待它。
func (p *Poller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false
	}
	p.cancel()
	p.running = false
	p.cancel = nil
	metrics.SetPollerRunning(false)
	p.logger.Info("轮询已停止")
	return true
}

// Running 返回当前是否在轮询。
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Wait 阻塞到最近一次启动的轮询循环退出，用于进程优雅退出。
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, tokens map[string]common.Address, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 停止信号只阻止新的 sweep，进行中的交易不随之取消。
			p.sweep(context.WithoutCancel(ctx), ctx, tokens)
		}
	}
}

func (p *Poller) sweep(ctx, stopCtx context.Context, tokens map[string]common.Address) {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()
	if stopCtx.Err() != nil {
		return
	}

	report, err := Sweep(ctx, p.store, p.engine, tokens, p.logger)
	if err != nil {
		p.alert(ctx, "", "list", err)
		return
	}
	for _, failure := range report.Failures {
		if xerrors.ShouldAlert(failure.Err) {
			stage := ""
			if e, ok := xerrors.From(failure.Err); ok {
				stage = e.Metadata()["stage"]
			}
			p.alert(ctx, failure.OrderID, stage, failure.Err)
		}
	}
	if len(report.Filled) > 0 || len(report.Failures) > 0 {
		p.logger.Info("轮询完成",
			slog.Int("checked", report.Checked),
			slog.Int("filled", len(report.Filled)),
			slog.Int("skipped", len(report.Skipped)),
			slog.Int("failed", len(report.Failures)),
		)
	}
}

func (p *Poller) alert(ctx context.Context, orderID, stage string, cause error) {
	if p.alerter == nil {
		return
	}
	if err := p.alerter.Notify(ctx, alerting.NewEvent(orderID, stage, cause)); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("order_id", orderID),
			slog.String("stage", stage),
		)
	}
}
