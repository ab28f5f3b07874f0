package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"

	"klausjudge/internal/common/db"
	"klausjudge/internal/common/mq"
	"klausjudge/internal/common/storage"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct{ rows int64 }

func (r fakeResult) RowsAffected() (int64, error) { return r.rows, nil }

type fakeRow struct {
	scan func(dest ...interface{}) error
}

func (r fakeRow) Scan(dest ...interface{}) error { return r.scan(dest...) }

type fakeRows struct {
	data [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.data)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return assign(dest, r.data[r.idx-1])
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

// assign copies values into Scan destinations, delegating to sql.Scanner when implemented.
func assign(dest []interface{}, values []interface{}) error {
	if len(dest) != len(values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		if scanner, ok := d.(sql.Scanner); ok {
			if err := scanner.Scan(values[i]); err != nil {
				return err
			}
			continue
		}
		switch p := d.(type) {
		case *string:
			*p = values[i].(string)
		case *bool:
			*p = values[i].(bool)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

type fakeDB struct {
	execs        []execCall
	execErr      error
	rowsAffected int64
	row          fakeRow
	rows         *fakeRows
	committed    bool
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return f.rows, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return f.row
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, execCall{query: query, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	return fakeResult{rows: f.rowsAffected}, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := fn(&fakeTx{db: f}); err != nil {
		return err
	}
	f.committed = true
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

type fakeTx struct{ db *fakeDB }

func (t *fakeTx) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return t.db.Query(ctx, query, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return t.db.QueryRow(ctx, query, args...)
}

func (t *fakeTx) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	return t.db.Exec(ctx, query, args...)
}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeProducer struct {
	topic    string
	messages []*mq.Message
	err      error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.topic = topic
	p.messages = append(p.messages, message)
	return p.err
}

func (p *fakeProducer) Ping(ctx context.Context) error { return nil }
func (p *fakeProducer) Close() error                   { return nil }

type fakeStorage struct {
	bucket string
	key    string
	data   []byte
	opts   storage.PutOptions
}

func (s *fakeStorage) EnsureBucket(ctx context.Context, bucket string) error { return nil }

func (s *fakeStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, opts storage.PutOptions) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.bucket, s.key, s.data, s.opts = bucket, objectKey, data, opts
	return nil
}

func (s *fakeStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	if bucket != s.bucket || objectKey != s.key {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}
