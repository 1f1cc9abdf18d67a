package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/metrics"
)

// PGConfig holds configuration for the Postgres sink
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// verdictColumns is the column order used by both INSERT and COPY.
var verdictColumns = []string{
	"id", "ts", "prediction", "label", "confidence", "processed_points",
	"mode", "ip_hash", "user_agent", "latency_ms", "payload",
}

// maxPendingBatches bounds how many batch sizes of verdicts are kept while
// the database is unreachable.
const maxPendingBatches = 10

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// PGSink batches verdicts and writes them with COPY or a multi-row INSERT.
type PGSink struct {
	config  PGConfig
	db      *sql.DB
	metrics *metrics.Metrics

	mu    sync.Mutex
	batch []classify.Verdict

	// flushMu serializes writers; mu only guards batch and is never held
	// across database calls.
	flushMu sync.Mutex
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGSinkFromEnv creates a PGSink from PG_* environment variables
func NewPGSinkFromEnv() *PGSink {
	e := loadEnv("PG_")
	return &PGSink{config: PGConfig{
		DSN:       e.str("dsn", ""),
		Table:     e.str("table", "cursor_verdicts"),
		BatchSize: e.integer("batch_size", 500),
		FlushMS:   e.integer("flush_ms", 500),
		UseCopy:   e.boolean("copy", true),
	}}
}

// NewPGSink creates a PGSink with default batching for dsn
func NewPGSink(dsn string) *PGSink {
	return &PGSink{config: PGConfig{
		DSN:       dsn,
		Table:     "cursor_verdicts",
		BatchSize: 500,
		FlushMS:   500,
		UseCopy:   true,
	}}
}

// WithMetrics records flush latency and queue depth on m.
func (s *PGSink) WithMetrics(m *metrics.Metrics) *PGSink {
	s.metrics = m
	return s
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}
	if s.config.DSN == "" {
		return fmt.Errorf("postgres sink: PG_DSN is empty")
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	s.db = db

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	if s.config.BatchSize <= 0 {
		s.config.BatchSize = 500
	}
	if s.config.FlushMS <= 0 {
		s.config.FlushMS = 500
	}
	s.batch = make([]classify.Verdict, 0, s.config.BatchSize)
	s.wake = make(chan struct{}, 1)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.flushRoutine()

	logging.Info().Str("table", s.config.Table).Bool("copy", s.config.UseCopy).Msg("postgres: sink started")
	return nil
}

func (s *PGSink) ensureSchema(ctx context.Context) error {
	t := s.config.Table
	stmts := []struct {
		sql  string
		what string
	}{
		{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	prediction SMALLINT NOT NULL,
	label TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	processed_points INTEGER NOT NULL,
	mode TEXT NOT NULL,
	ip_hash TEXT,
	user_agent TEXT,
	latency_ms DOUBLE PRECISION,
	payload JSONB NOT NULL
)`, t), "create table"},
		{fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)`, t, t), "create ts index"},
		{fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_label ON %s (label, ts)`, t, t), "create label index"},
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("failed to %s: %w", st.what, err)
		}
	}
	return nil
}

// Enqueue appends v to the pending batch and never touches the database. A
// full batch wakes the flush goroutine.
func (s *PGSink) Enqueue(v classify.Verdict) error {
	s.mu.Lock()
	s.batch = append(s.batch, v)
	s.trimLocked()
	full := s.config.BatchSize > 0 && len(s.batch) >= s.config.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// trimLocked drops the oldest verdicts beyond the backlog limit.
func (s *PGSink) trimLocked() {
	if limit := s.config.BatchSize * maxPendingBatches; limit > 0 && len(s.batch) > limit {
		dropped := len(s.batch) - limit
		s.batch = s.batch[dropped:]
		logging.Warn().Int("dropped", dropped).Msg("postgres: backlog full, dropping oldest verdicts")
	}
	s.reportDepth()
}

func (s *PGSink) flushRoutine() {
	defer close(s.done)
	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushBatch(s.ctx); err != nil {
				logging.Error().Err(err).Msg("postgres: periodic flush failed")
			}
		case <-s.wake:
			if err := s.flushBatch(s.ctx); err != nil {
				logging.Error().Err(err).Msg("postgres: batch flush failed")
			}
		}
	}
}

// flushBatch takes the pending batch and writes it. On failure the verdicts
// are put back ahead of anything enqueued meanwhile.
func (s *PGSink) flushBatch(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.batch
	s.batch = make([]classify.Verdict, 0, max(s.config.BatchSize, len(pending)))
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy(ctx, pending)
	} else {
		err = s.flushWithInsert(ctx, pending)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementSinkErrors(s.Name(), "flush_error")
		}
		s.mu.Lock()
		s.batch = append(pending, s.batch...)
		s.trimLocked()
		s.mu.Unlock()
		return err
	}

	if s.metrics != nil {
		s.metrics.ObserveBatchFlushLatency(s.Name(), time.Since(start))
	}
	s.mu.Lock()
	s.reportDepth()
	s.mu.Unlock()
	return nil
}

// pending returns the number of verdicts waiting to be written.
func (s *PGSink) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

func (s *PGSink) reportDepth() {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.Name(), float64(len(s.batch)))
	}
}

func verdictRow(v classify.Verdict) ([]any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize verdict %s: %w", v.ID, err)
	}
	return []any{
		v.ID, v.TS, v.Prediction, v.Label, v.Confidence, v.ProcessedPoints,
		v.Mode, v.IPHash, v.UserAgent, v.LatencyMS, string(payload),
	}, nil
}

func (s *PGSink) flushWithInsert(ctx context.Context, batch []classify.Verdict) error {
	if len(batch) == 0 {
		return nil
	}
	var (
		b    strings.Builder
		args = make([]any, 0, len(batch)*len(verdictColumns))
	)
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.config.Table, strings.Join(verdictColumns, ", "))
	for i, v := range batch {
		row, err := verdictRow(v)
		if err != nil {
			return err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	b.WriteString(" ON CONFLICT (id) DO NOTHING")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy(ctx context.Context, batch []classify.Verdict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.config.Table, verdictColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}
	for _, v := range batch {
		row, err := verdictRow(v)
		if err != nil {
			stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy verdict %s: %w", v.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	flushErr := s.flushBatch(ctx)
	closeErr := s.db.Close()
	if flushErr != nil {
		return fmt.Errorf("final flush (%d verdicts unwritten): %w", s.pending(), flushErr)
	}
	return closeErr
}
