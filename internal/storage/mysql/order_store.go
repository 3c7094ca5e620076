package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "TradingTools/internal/errors"
	"TradingTools/internal/order"
)

const orderColumns = `id, token_symbol, amount, limit_price, destination, status, tx_hash, created_at, updated_at`

// OrderStore 使用 MySQL 保存限价单，seq 自增列保证插入顺序。
type OrderStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderStore 建立连接池并执行迁移。
func NewOrderStore(ctx context.Context, cfg Config) (*OrderStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化订单库失败")
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行订单库迁移失败")
	}
	return &OrderStore{db: db, now: time.Now}, nil
}

// Create 实现 order.Store。
func (s *OrderStore) Create(ctx context.Context, o *order.LimitOrder) error {
	if o == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "order 不能为空")
	}
	if strings.TrimSpace(o.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "订单 ID 不能为空")
	}
	now := s.now().Unix()
	if o.CreatedAt == 0 {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = order.StatusPending
	}

	const stmt = `INSERT INTO limit_orders (` + orderColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		o.ID,
		o.TokenSymbol,
		o.Amount,
		o.LimitPrice,
		o.Destination,
		string(o.Status),
		o.TxHash,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return order.ErrOrderConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订单失败")
	}
	return nil
}

// Get 实现 order.Store。
func (s *OrderStore) Get(ctx context.Context, id string) (*order.LimitOrder, error) {
	const stmt = `SELECT ` + orderColumns + ` FROM limit_orders WHERE id = ?`
	o, err := scanOrder(s.db.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单失败")
	}
	return o, nil
}

// List 实现 order.Store。
func (s *OrderStore) List(ctx context.Context, statuses ...order.Status) ([]*order.LimitOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM limit_orders`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, 0, len(statuses))
		for _, status := range statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订单列表失败")
	}
	defer rows.Close()

	var orders []*order.LimitOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订单记录失败")
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订单失败")
	}
	return orders, nil
}

// ListPending 实现 order.Store。
func (s *OrderStore) ListPending(ctx context.Context) ([]*order.LimitOrder, error) {
	return s.List(ctx, order.StatusPending)
}

// MarkFilled 实现 order.Store。状态条件保证同一订单只会成交一次。
func (s *OrderStore) MarkFilled(ctx context.Context, id, txHash string) error {
	if strings.TrimSpace(txHash) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易哈希不能为空")
	}
	const stmt = `UPDATE limit_orders SET status = ?, tx_hash = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		string(order.StatusFilled),
		txHash,
		s.now().Unix(),
		id,
		string(order.StatusPending),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记订单成交失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return order.ErrOrderAlreadyFilled
}

// Close 关闭底层数据库连接。
func (s *OrderStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.LimitOrder, error) {
	var o order.LimitOrder
	var status string
	if err := row.Scan(
		&o.ID,
		&o.TokenSymbol,
		&o.Amount,
		&o.LimitPrice,
		&o.Destination,
		&status,
		&o.TxHash,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	return &o, nil
}

var _ order.Store = (*OrderStore)(nil)
