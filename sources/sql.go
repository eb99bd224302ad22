package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"correlatest/correlation"
	"correlatest/poll"
)

type (
	// RowMapping describes how records of type T are laid out in a table. The table must carry an
	// auto-incremented integer column named id, which serves as tie-breaker.
	RowMapping[T any] struct {
		Table   string
		Columns []string
		// Values returns the column values of a record, in the order of Columns.
		Values func(record T) []any
		// Fields returns scan destinations within a record, in the order of Columns.
		Fields func(record *T) []any
	}
	SQLSource[T Keyed] struct {
		db          *sql.DB
		mapping     RowMapping[T]
		batchSize   int
		insertQuery string
		selectQuery string
	}
)

const (
	tieBreakerColumn      = "id"
	defaultSQLBatchSize   = 1000
	sqlPlaceholder        = "?"
	sqlPlaceholderDivider = ", "
)

func NewSQLSource[T Keyed](db *sql.DB, m RowMapping[T], batchSize int) *SQLSource[T] {

	if batchSize <= 0 {
		batchSize = defaultSQLBatchSize
	}

	placeholders := strings.TrimSuffix(strings.Repeat(sqlPlaceholder+sqlPlaceholderDivider, len(m.Columns)), sqlPlaceholderDivider)
	columns := strings.Join(m.Columns, ", ")

	return &SQLSource[T]{
		db:          db,
		mapping:     m,
		batchSize:   batchSize,
		insertQuery: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.Table, columns, placeholders),
		selectQuery: fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s > ? ORDER BY %s LIMIT ?", tieBreakerColumn, columns, m.Table, tieBreakerColumn, tieBreakerColumn),
	}

}

func (s *SQLSource[T]) Save(ctx context.Context, record T) error {

	if _, err := s.db.ExecContext(ctx, s.insertQuery, s.mapping.Values(record)...); err != nil {
		lp.LogIoEvent(fmt.Sprintf("unable to insert record '%s' into table '%s': %v", record.PrimaryKey(), s.mapping.Table, err), log.WarnLevel)
		return err
	}

	return nil

}

func (s *SQLSource[T]) Query(ctx context.Context, after poll.Cursor) ([]poll.Record[T], error) {

	rows, err := s.db.QueryContext(ctx, s.selectQuery, int64(after), s.batchSize)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var records []poll.Record[T]
	for rows.Next() {
		var id int64
		var record T
		dest := append([]any{&id}, s.mapping.Fields(&record)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		records = append(records, poll.Record[T]{
			Cursor:  poll.Cursor(id),
			Key:     correlation.Key(record.PrimaryKey()),
			Payload: record,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil

}
