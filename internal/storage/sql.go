package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

const itemsTable = "items"

var itemColumns = []string{"id", "name", "category", "tags", "created_at"}

// sortColumns maps sortable field names to columns. Only names listed here
// ever reach generated SQL.
var sortColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"category":   "category",
	"created_at": "created_at",
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	timeArg     func(time.Time) any
}

var (
	postgresDialect = dialect{
		name:        "postgres",
		placeholder: sq.Dollar,
		timeArg:     func(t time.Time) any { return t.UTC() },
	}
	sqliteDialect = dialect{
		name:        "sqlite",
		placeholder: sq.Question,
		timeArg:     func(t time.Time) any { return formatSQLiteTime(t) },
	}
)

// SQLItems implements Items on database/sql with keyset queries built by
// squirrel.
type SQLItems struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
	timeout time.Duration
}

func newSQLItems(db *sql.DB, d dialect, timeout time.Duration) *SQLItems {
	return &SQLItems{
		db:      db,
		dialect: d,
		builder: sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		timeout: timeout,
	}
}

// DB exposes the underlying handle for migrations and health checks.
func (s *SQLItems) DB() *sql.DB {
	return s.db
}

func (s *SQLItems) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// fetchQuery builds the keyset query for q.
func (s *SQLItems) fetchQuery(q pagination.Query) (string, []any, error) {
	query := s.builder.Select(itemColumns...).From(itemsTable)

	orderBy := make([]string, len(q.Order))
	for i, f := range q.Order {
		col, ok := sortColumns[f.Name]
		if !ok {
			return "", nil, fmt.Errorf("unsupported sort field %q", f.Name)
		}
		if f.Desc {
			orderBy[i] = col + " DESC"
		} else {
			orderBy[i] = col + " ASC"
		}
	}

	if q.After != nil {
		pred, err := s.keyset(q.Order, q.After)
		if err != nil {
			return "", nil, err
		}
		query = query.Where(pred)
	}

	query = query.OrderBy(orderBy...)
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit))
	}
	return query.ToSql()
}

// keyset expands the lexicographic comparison (f1, f2, ...) > (v1, v2, ...)
// into (f1 > v1) OR (f1 = v1 AND f2 > v2) OR ..., using < for descending
// fields.
func (s *SQLItems) keyset(order pagination.Order, after []any) (sq.Sqlizer, error) {
	if len(after) != len(order) {
		return nil, fmt.Errorf("keyset has %d values for %d sort fields", len(after), len(order))
	}

	or := sq.Or{}
	for i, f := range order {
		and := sq.And{}
		for j := 0; j < i; j++ {
			and = append(and, sq.Eq{sortColumns[order[j].Name]: s.arg(after[j])})
		}
		col := sortColumns[f.Name]
		if f.Desc {
			and = append(and, sq.Lt{col: s.arg(after[i])})
		} else {
			and = append(and, sq.Gt{col: s.arg(after[i])})
		}
		or = append(or, and)
	}
	return or, nil
}

func (s *SQLItems) arg(v any) any {
	if t, ok := v.(time.Time); ok {
		return s.dialect.timeArg(t)
	}
	return v
}

// Fetch implements pagination.Executor.
func (s *SQLItems) Fetch(ctx context.Context, q pagination.Query) ([]models.Item, error) {
	query, args, err := s.fetchQuery(q)
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query items", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0, q.Limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate items", err)
	}
	return items, nil
}

// Get retrieves an item by ID.
func (s *SQLItems) Get(ctx context.Context, id int64) (models.Item, error) {
	query, args, err := s.builder.Select(itemColumns...).From(itemsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return models.Item{}, fmt.Errorf("build item query: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return models.Item{}, classify(fmt.Sprintf("get item %d", id), err)
	}
	return item, nil
}

// Save inserts item, or replaces the stored item with the same ID.
func (s *SQLItems) Save(ctx context.Context, item *models.Item) error {
	item.Normalize()
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	tags, err := marshalTags(item.Tags)
	if err != nil {
		return err
	}

	columns := []string{"name", "category", "tags", "created_at"}
	values := []any{item.Name, item.Category, tags, s.dialect.timeArg(item.CreatedAt)}
	if item.ID != 0 {
		columns = append([]string{"id"}, columns...)
		values = append([]any{item.ID}, values...)
	}

	query, args, err := s.builder.Insert(itemsTable).
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = excluded.name, category = excluded.category, tags = excluded.tags, created_at = excluded.created_at RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&item.ID); err != nil {
		return classify("save item", err)
	}
	return nil
}

// Count returns the number of stored items.
func (s *SQLItems) Count(ctx context.Context) (int, error) {
	query, args, err := s.builder.Select("COUNT(*)").From(itemsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	ctx, cancel := s.queryContext(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify("count items", err)
	}
	return n, nil
}

func (s *SQLItems) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping database", err)
	}
	return nil
}

func (s *SQLItems) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var (
		item      models.Item
		tags      string
		createdAt dbTime
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Category, &tags, &createdAt); err != nil {
		return models.Item{}, err
	}

	parsed, err := unmarshalTags(tags)
	if err != nil {
		return models.Item{}, err
	}
	item.Tags = parsed
	item.CreatedAt = createdAt.Time
	return item, nil
}

// configurePool applies connection pool settings from cfg.
func configurePool(db *sql.DB, cfg Config) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
