package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/sheetpipe-io/sheetpipe/internal/ingestion"
	"github.com/sheetpipe-io/sheetpipe/internal/target"
)

var _ ingestion.TableWriter = (*TableWriter)(nil)

// tableColumnsSQL lists live, user-visible columns with their declared types.
const tableColumnsSQL = `
	SELECT a.attname, format_type(a.atttypid, NULL)
	FROM pg_attribute a
	WHERE a.attrelid = $1::regclass
	  AND a.attnum > 0
	  AND NOT a.attisdropped
	ORDER BY a.attnum`

// TableWriter upserts CSV rows into the configured target table.
//
// Identifiers in generated SQL come only from the target config and the table's own
// catalog entry, and are quoted. Cell values travel as one text[] parameter per
// column and are cast to the column type server-side, so a batch is one statement
// of a fixed parameter count however many rows it holds.
type TableWriter struct {
	conn   *Connection
	target *target.Config
	logger *slog.Logger
}

// NewTableWriter creates a writer for cfg's table.
func NewTableWriter(conn *Connection, cfg *target.Config, logger *slog.Logger) (*TableWriter, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", target.ErrInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TableWriter{conn: conn, target: cfg, logger: logger}, nil
}

// Prepare intersects the payload columns with the allow-list and the live schema.
func (w *TableWriter) Prepare(ctx context.Context, columns []string) (*ingestion.UpsertPlan, error) {
	schema, err := w.tableColumns(ctx)
	if err != nil {
		return nil, err
	}

	if _, ok := schema[w.target.KeyColumn]; !ok {
		return nil, fmt.Errorf("%w: table %s has no column %s",
			ingestion.ErrKeyColumnMissing, w.target.Table, w.target.KeyColumn)
	}

	plan := &ingestion.UpsertPlan{
		Table:     w.target.Table,
		KeyColumn: w.target.KeyColumn,
	}

	hasKey := false

	for _, col := range columns {
		colType, inTable := schema[col]
		if !inTable || !w.target.Allows(col) {
			plan.Ignored = append(plan.Ignored, col)

			continue
		}

		if col == w.target.KeyColumn {
			hasKey = true
		}

		plan.Columns = append(plan.Columns, ingestion.Column{Name: col, Type: colType})
	}

	if !hasKey {
		return nil, fmt.Errorf("%w: payload has no %s column", ingestion.ErrKeyColumnMissing, w.target.KeyColumn)
	}

	return plan, nil
}

// UpsertBatch writes rows in a single transaction. Rows sharing a key collapse to the
// last occurrence, so a batch keeps last-write-wins semantics.
func (w *TableWriter) UpsertBatch(ctx context.Context, plan *ingestion.UpsertPlan, rows []ingestion.Row) (int64, error) {
	if plan == nil || len(plan.Columns) == 0 {
		return 0, fmt.Errorf("%w: empty upsert plan", ingestion.ErrKeyColumnMissing)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	query := buildUpsertSQL(plan)
	args := columnArrays(plan, rows)

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // No-op once committed
	}()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, describeExecError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return affected, nil
}

func (w *TableWriter) tableColumns(ctx context.Context) (map[string]string, error) {
	rows, err := w.conn.QueryContext(ctx, tableColumnsSQL, w.target.Table)
	if err != nil {
		if isDatabaseConnectionError(err) {
			return nil, fmt.Errorf("%w: read columns of %s: %w", ErrStoreUnavailable, w.target.Table, err)
		}

		return nil, fmt.Errorf("failed to read columns of %s: %w", w.target.Table, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	schema := make(map[string]string)

	for rows.Next() {
		var name, colType string
		if err := rows.Scan(&name, &colType); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", w.target.Table, err)
		}

		schema[name] = colType
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", w.target.Table, err)
	}

	return schema, nil
}

// buildUpsertSQL renders:
//
//	INSERT INTO "t" ("k", "b")
//	SELECT u.c1::type_k, u.c2::type_b FROM (
//	  SELECT DISTINCT ON (v.c1::type_k, CASE WHEN v.c1 IS NULL THEN v.n END) v.*
//	  FROM unnest($1::text[], $2::text[]) WITH ORDINALITY AS v(c1, c2, n)
//	  ORDER BY v.c1::type_k, CASE WHEN v.c1 IS NULL THEN v.n END, v.n DESC
//	) AS u
//	ON CONFLICT ("k") DO UPDATE SET "b" = EXCLUDED."b"
//
// Casts carry the base type only. An explicit cast to varchar(n) truncates, while
// the assignment into the column raises on over-length values.
//
// DISTINCT ON keeps the last row per key, compared with the key type's own equality
// so that 1 and 01 in an integer key (or case variants in citext) collapse. PostgreSQL
// rejects a statement that updates the same row twice. NULL keys are never merged.
func buildUpsertSQL(plan *ingestion.UpsertPlan) string {
	n := len(plan.Columns)
	names := make([]string, n)
	selects := make([]string, n)
	params := make([]string, n)
	aliases := make([]string, n)

	var (
		updates []string
		keyExpr string
		keyNull string
	)

	for i, col := range plan.Columns {
		quoted := pq.QuoteIdentifier(col.Name)
		alias := fmt.Sprintf("c%d", i+1)

		names[i] = quoted
		aliases[i] = alias
		params[i] = fmt.Sprintf("$%d::text[]", i+1)
		selects[i] = fmt.Sprintf("u.%s::%s", alias, col.Type)

		if col.Name == plan.KeyColumn {
			keyExpr = fmt.Sprintf("v.%s::%s", alias, col.Type)
			keyNull = fmt.Sprintf("CASE WHEN v.%s IS NULL THEN v.n END", alias)
		} else {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM (SELECT ",
		quoteTable(plan.Table),
		strings.Join(names, ", "),
		strings.Join(selects, ", "))

	if keyExpr != "" {
		fmt.Fprintf(&b, "DISTINCT ON (%s, %s) ", keyExpr, keyNull)
	}

	fmt.Fprintf(&b, "v.* FROM unnest(%s) WITH ORDINALITY AS v(%s, n) ",
		strings.Join(params, ", "),
		strings.Join(aliases, ", "))

	if keyExpr != "" {
		fmt.Fprintf(&b, "ORDER BY %s, %s, v.n DESC ", keyExpr, keyNull)
	}

	fmt.Fprintf(&b, ") AS u ON CONFLICT (%s) ", pq.QuoteIdentifier(plan.KeyColumn))

	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}

	return b.String()
}

func columnArrays(plan *ingestion.UpsertPlan, rows []ingestion.Row) []any {
	args := make([]any, len(plan.Columns))

	for i, col := range plan.Columns {
		values := make([]sql.NullString, len(rows))

		for r, row := range rows {
			if text, ok := ingestion.CellText(row[col.Name]); ok {
				values[r] = sql.NullString{String: text, Valid: true}
			}
		}

		args[i] = pq.Array(values)
	}

	return args
}

func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}

	return strings.Join(parts, ".")
}

// describeExecError prefixes the SQLSTATE; the database message already names the
// violated constraint.
func describeExecError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("SQLSTATE %s: %w", pqErr.Code, err)
	}

	return err
}
