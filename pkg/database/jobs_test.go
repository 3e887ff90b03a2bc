package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	sql  string
	args []any
}

// fakeQuerier records every statement and answers from canned values.
type fakeQuerier struct {
	queries []recordedQuery
	tag     string
	err     error
	row     []any
	rowErr  error
	rows    [][]any
}

var _ Querier = (*fakeQuerier)(nil)

func (q *fakeQuerier) record(sql string, args []any) {
	q.queries = append(q.queries, recordedQuery{sql: sql, args: args})
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.record(sql, args)
	if q.err != nil {
		return pgconn.CommandTag{}, q.err
	}
	return pgconn.NewCommandTag(q.tag), nil
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.record(sql, args)
	if q.err != nil {
		return nil, q.err
	}
	return &fakeRows{rows: q.rows}, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.record(sql, args)
	return fakeRow{vals: q.row, err: q.rowErr}
}

func (q *fakeQuerier) last(t *testing.T) recordedQuery {
	t.Helper()
	require.NotEmpty(t, q.queries)
	return q.queries[len(q.queries)-1]
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	rows   [][]any
	i      int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.i-1], nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(dest, r.rows[r.i-1])
}

func assign(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

func jobValues(id uuid.UUID, status JobStatus, at time.Time) []any {
	report := "# Report"
	return []any{id, "EV adoption", 4, 2, "Europe", status,
		json.RawMessage(`{"completedQueries":1}`), nil, &report, nil, at, at}
}

func TestCreateJob(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	id := uuid.New()
	q := &fakeQuerier{row: jobValues(id, JobPending, at)}
	db := &PostgresDB{q: q}

	job, err := db.CreateJob(context.Background(), NewJob{Query: "EV adoption", Breadth: 4, Depth: 2, Feedback: "Europe"})
	require.NoError(t, err)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, "Europe", job.Feedback)
	require.NotNil(t, job.Report)
	assert.Equal(t, "# Report", *job.Report)
	assert.Nil(t, job.Error)
	assert.Equal(t, at, job.CreatedAt)

	sent := q.last(t)
	assert.Contains(t, sent.sql, "INSERT INTO research_jobs")
	assert.Contains(t, sent.sql, "'pending'")
	assert.Contains(t, sent.sql, "RETURNING "+jobColumns)
	require.Len(t, sent.args, 5)
	assert.NotEqual(t, uuid.Nil, sent.args[0])
	assert.Equal(t, []any{"EV adoption", 4, 2, "Europe"}, sent.args[1:])
}

func TestGetJob_NotFound(t *testing.T) {
	db := &PostgresDB{q: &fakeQuerier{rowErr: pgx.ErrNoRows}}

	_, err := db.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListJobs(t *testing.T) {
	at := time.Now().UTC()
	a, b := uuid.New(), uuid.New()
	q := &fakeQuerier{rows: [][]any{jobValues(a, JobCompleted, at), jobValues(b, JobRunning, at)}}
	db := &PostgresDB{q: q}

	jobs, err := db.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, a, jobs[0].ID)
	assert.Equal(t, JobRunning, jobs[1].Status)

	sent := q.last(t)
	assert.Contains(t, sent.sql, "ORDER BY created_at DESC")
	assert.Equal(t, []any{50}, sent.args, "non-positive limit uses the default")
}

func TestJobUpdates(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		run      func(db *PostgresDB) error
		wantSQL  []string
		wantArgs []any
	}{
		{
			name:     "Set status",
			run:      func(db *PostgresDB) error { return db.SetJobStatus(context.Background(), id, JobRunning) },
			wantSQL:  []string{"UPDATE research_jobs", "status = $2", "WHERE id = $1"},
			wantArgs: []any{id, JobRunning},
		},
		{
			name: "Save progress",
			run: func(db *PostgresDB) error {
				return db.SaveJobProgress(context.Background(), id, []byte(`{"completedQueries":2}`))
			},
			wantSQL:  []string{"progress = $2", "WHERE id = $1"},
			wantArgs: []any{id, []byte(`{"completedQueries":2}`)},
		},
		{
			name: "Complete",
			run: func(db *PostgresDB) error {
				return db.CompleteJob(context.Background(), id, "# Report", []byte(`{"learnings":[]}`))
			},
			wantSQL:  []string{"status = 'completed'", "report = $2", "result = $3"},
			wantArgs: []any{id, "# Report", []byte(`{"learnings":[]}`)},
		},
		{
			name:     "Fail",
			run:      func(db *PostgresDB) error { return db.FailJob(context.Background(), id, "planning failed") },
			wantSQL:  []string{"status = 'failed'", "error = $2"},
			wantArgs: []any{id, "planning failed"},
		},
		{
			name: "Insert log",
			run: func(db *PostgresDB) error {
				return db.InsertLog(context.Background(), id, ts, "INFO", "Searching", []byte(`{"query":"q"}`))
			},
			wantSQL:  []string{"INSERT INTO research_logs (job_id, timestamp, level, message, metadata)"},
			wantArgs: []any{id, ts, "INFO", "Searching", []byte(`{"query":"q"}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{tag: "UPDATE 1"}
			require.NoError(t, tt.run(&PostgresDB{q: q}))

			sent := q.last(t)
			for _, want := range tt.wantSQL {
				assert.Contains(t, sent.sql, want)
			}
			assert.Equal(t, tt.wantArgs, sent.args)
		})
		t.Run(tt.name+" error", func(t *testing.T) {
			boom := errors.New("connection reset")
			err := tt.run(&PostgresDB{q: &fakeQuerier{err: boom}})
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), "failed to")
		})
	}
}

func TestFailInterruptedJobs(t *testing.T) {
	q := &fakeQuerier{tag: "UPDATE 3"}
	db := &PostgresDB{q: q}

	n, err := db.FailInterruptedJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sent := q.last(t)
	assert.Contains(t, sent.sql, "status = 'failed'")
	assert.Contains(t, sent.sql, "WHERE status IN ('pending', 'running')")
	assert.Empty(t, sent.args)
}

func TestGetJobLogs(t *testing.T) {
	id := uuid.New()
	t1 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q := &fakeQuerier{rows: [][]any{
		{int64(1), t1, "INFO", "Planning queries", json.RawMessage(`{}`)},
		{int64(2), t1.Add(time.Second), "ERROR", "Branch failed", json.RawMessage(`{"query":"q"}`)},
	}}
	db := &PostgresDB{q: q}

	logs, err := db.GetJobLogs(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Planning queries", logs[0].Message)
	assert.Equal(t, "ERROR", logs[1].Level)
	assert.JSONEq(t, `{"query":"q"}`, string(logs[1].Metadata))

	sent := q.last(t)
	assert.Contains(t, sent.sql, "WHERE job_id = $1")
	assert.Contains(t, sent.sql, "ORDER BY id ASC")
	assert.Equal(t, []any{id}, sent.args)
}

func TestInitSchema(t *testing.T) {
	q := &fakeQuerier{}
	require.NoError(t, (&PostgresDB{q: q}).InitSchema(context.Background()))

	require.Len(t, q.queries, len(schemaStatements))
	assert.Contains(t, q.queries[0].sql, "CREATE TABLE IF NOT EXISTS research_jobs")
	assert.Contains(t, q.queries[1].sql, "REFERENCES research_jobs(id) ON DELETE CASCADE")

	err := (&PostgresDB{q: &fakeQuerier{err: errors.New("permission denied")}}).InitSchema(context.Background())
	assert.ErrorContains(t, err, "failed to create research_jobs table")
}
