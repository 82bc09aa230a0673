package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lighter-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// OrderEvent is one row of the order history table: a placement, fill
// progress observation, cancellation or rejection.
type OrderEvent struct {
	Time    time.Time
	Wallet  string
	OrderID string
	Market  string
	Side    string
	Price   float64
	Size    float64
	Filled  float64
	Status  string
}

// MarginSnapshot is one observed margin reading per wallet.
type MarginSnapshot struct {
	Time        time.Time
	Wallet      string
	MarginRatio float64
	Liquidated  bool
	State       string
}

// Writer ships order and margin history to TimescaleDB asynchronously.
// Writes never block the trading path; a full queue drops the row.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	orders     chan OrderEvent
	margins    chan MarginSnapshot
	started    atomic.Bool
	dropOrder  atomic.Uint64
	dropMargin atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		orders:  make(chan OrderEvent, queueSize),
		margins: make(chan MarginSnapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueOrder(event OrderEvent) {
	if w == nil {
		return
	}
	select {
	case w.orders <- event:
		return
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) EnqueueMargin(snapshot MarginSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.margins <- snapshot:
		return
	default:
		if w.dropMargin.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale margin queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.orders:
			w.writeOrder(ctx, event)
		case snap := <-w.margins:
			w.writeMargin(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		order_id TEXT NOT NULL,
		market TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		filled DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL
	)`, w.table("order_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		wallet TEXT NOT NULL,
		margin_ratio DOUBLE PRECISION NOT NULL,
		liquidated BOOLEAN NOT NULL,
		state TEXT NOT NULL
	)`, w.table("margin_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("order_events"))); err != nil && w.log != nil {
		w.log.Warn("timescale order_events hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("margin_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale margin_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeOrder(ctx context.Context, event OrderEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, order_id, market, side, price, size, filled, status
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)`, w.table("order_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Wallet,
		event.OrderID,
		event.Market,
		event.Side,
		event.Price,
		event.Size,
		event.Filled,
		event.Status,
	); err != nil && w.log != nil {
		w.log.Warn("timescale order insert failed", zap.Error(err))
	}
}

func (w *Writer) writeMargin(ctx context.Context, snap MarginSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, wallet, margin_ratio, liquidated, state
	) VALUES (
		$1,$2,$3,$4,$5
	)`, w.table("margin_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Wallet,
		snap.MarginRatio,
		snap.Liquidated,
		snap.State,
	); err != nil && w.log != nil {
		w.log.Warn("timescale margin insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
