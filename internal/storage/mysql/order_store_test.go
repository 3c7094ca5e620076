package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"

	"TradingTools/internal/order"
)

var orderRowColumns = []string{"id", "token_symbol", "amount", "limit_price", "destination", "status", "tx_hash", "created_at", "updated_at"}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func TestOrderStoreCreate(t *testing.T) {
	db, drv := newFakeDB(t, []fakeOperation{
		execOp(insertOrderSQL(), fakeResult{rowsAffected: 1}),
		execOp(insertOrderSQL(), fakeResult{}).withErr(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OrderStore{db: db, now: fixedClock}
	o := &order.LimitOrder{ID: "o1", TokenSymbol: "XYZ", Amount: "1000000", LimitPrice: "2.50", Destination: "0xabc"}
	if err := store.Create(context.Background(), o); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if o.Status != order.StatusPending || o.CreatedAt != fixedClock().Unix() {
		t.Fatalf("defaults not applied: %+v", o)
	}
	if err := store.Create(context.Background(), o); !stdErrors.Is(err, order.ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOrderStoreGet(t *testing.T) {
	db, drv := newFakeDB(t, []fakeOperation{
		queryOp(`SELECT `+orderColumns+` FROM limit_orders WHERE id = ?`, fakeRows{
			columns: orderRowColumns,
			values:  [][]driver.Value{{"o1", "XYZ", "1000000", "2.50", "0xabc", "filled", "0xfeed", int64(1), int64(2)}},
		}),
		queryOp(`SELECT `+orderColumns+` FROM limit_orders WHERE id = ?`, fakeRows{columns: orderRowColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OrderStore{db: db, now: fixedClock}
	got, err := store.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != order.StatusFilled || got.TxHash != "0xfeed" || got.UpdatedAt != 2 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if _, err := store.Get(context.Background(), "missing"); !stdErrors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderStoreListPending(t *testing.T) {
	db, drv := newFakeDB(t, []fakeOperation{
		queryOp(`SELECT `+orderColumns+` FROM limit_orders WHERE status IN (?) ORDER BY seq ASC`, fakeRows{
			columns: orderRowColumns,
			values: [][]driver.Value{
				{"o2", "ABC", "5", "1", "0xabc", "pending", "", int64(1), int64(1)},
				{"o1", "XYZ", "7", "2", "0xabc", "pending", "", int64(2), int64(2)},
			},
		}),
		queryOp(`SELECT `+orderColumns+` FROM limit_orders ORDER BY seq ASC`, fakeRows{columns: orderRowColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OrderStore{db: db, now: fixedClock}
	pending, err := store.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "o2" || pending[1].ID != "o1" {
		t.Fatalf("unexpected list: %+v", pending)
	}
	all, err := store.List(context.Background())
	if err != nil || len(all) != 0 {
		t.Fatalf("unexpected list all: %+v %v", all, err)
	}
}

func TestOrderStoreMarkFilled(t *testing.T) {
	update := `UPDATE limit_orders SET status = ?, tx_hash = ?, updated_at = ? WHERE id = ? AND status = ?`
	get := `SELECT ` + orderColumns + ` FROM limit_orders WHERE id = ?`
	db, drv := newFakeDB(t, []fakeOperation{
		execOp(update, fakeResult{rowsAffected: 1}),
		execOp(update, fakeResult{rowsAffected: 0}),
		queryOp(get, fakeRows{
			columns: orderRowColumns,
			values:  [][]driver.Value{{"o1", "XYZ", "1", "1", "0xabc", "filled", "0xfeed", int64(1), int64(1)}},
		}),
		execOp(update, fakeResult{rowsAffected: 0}),
		queryOp(get, fakeRows{columns: orderRowColumns}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := &OrderStore{db: db, now: fixedClock}
	ctx := context.Background()
	if err := store.MarkFilled(ctx, "o1", "0xfeed"); err != nil {
		t.Fatalf("mark filled failed: %v", err)
	}
	if err := store.MarkFilled(ctx, "o1", "0xbeef"); !stdErrors.Is(err, order.ErrOrderAlreadyFilled) {
		t.Fatalf("expected already filled, got %v", err)
	}
	if err := store.MarkFilled(ctx, "missing", "0xbeef"); !stdErrors.Is(err, order.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRunMigrationsAppliesOrderSchema(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) != 1 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}

	db, drv := newFakeDB(t, []fakeOperation{
		execOp(createMigrationsTable, fakeResult{}),
		queryOp(`SELECT version FROM schema_migrations`, fakeRows{columns: []string{"version"}}),
		beginOp(),
		execOp(files[0].statements[0], fakeResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, fakeResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsAppliedVersions(t *testing.T) {
	db, drv := newFakeDB(t, []fakeOperation{
		execOp(createMigrationsTable, fakeResult{}),
		queryOp(`SELECT version FROM schema_migrations`, fakeRows{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func insertOrderSQL() string {
	return `INSERT INTO limit_orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
)

type fakeOperation struct {
	typ    operationType
	query  string
	result fakeResult
	rows   fakeRows
	err    error
}

func (op fakeOperation) withErr(err error) fakeOperation {
	op.err = err
	return op
}

type fakeResult struct {
	rowsAffected int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type fakeRows struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []fakeOperation
	idx int32
}

var driverSeq atomic.Int32

func newFakeDB(t *testing.T, ops []fakeOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("fake-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open fake db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result fakeResult) fakeOperation {
	return fakeOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows fakeRows) fakeOperation {
	return fakeOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() fakeOperation { return fakeOperation{typ: opBegin} }

func commitOp() fakeOperation { return fakeOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*fakeOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type fakeConn struct {
	driver *queueDriver
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &fakeTx{driver: c.driver}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &fakeRowSet{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *fakeConn) Ping(context.Context) error { return nil }

type fakeTx struct {
	driver *queueDriver
}

func (t *fakeTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *fakeTx) Rollback() error {
	return fmt.Errorf("unexpected rollback")
}

type fakeRowSet struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *fakeRowSet) Columns() []string { return r.columns }
func (r *fakeRowSet) Close() error      { return nil }

func (r *fakeRowSet) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
