package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/testexec/internal/domain"
)

// SQLiteStore is the persistence collaborator: case definitions, the
// execution history and the durable task queue.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn, migrates the schema and seeds the builtin keywords.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// File databases get one connection too: SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if !isMemoryDSN(dsn) {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seedKeywords(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed keywords: %w", err)
	}

	return store, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS operation_types (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS keywords (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			function_name TEXT NOT NULL UNIQUE,
			description TEXT,
			operation_type_id INTEGER NOT NULL,
			FOREIGN KEY (operation_type_id) REFERENCES operation_types(id)
		)`,
		`CREATE TABLE IF NOT EXISTS cases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			description TEXT,
			debug_vars TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS case_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			case_id INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			keyword_id INTEGER NOT NULL,
			run_order INTEGER NOT NULL DEFAULT 0,
			ref_variables TEXT,
			FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_case_steps_case ON case_steps(case_id, run_order)`,
		`CREATE TABLE IF NOT EXISTS execution_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL UNIQUE,
			request_id TEXT,
			mode TEXT NOT NULL,
			case_id INTEGER NOT NULL DEFAULT 0,
			case_ids TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			output TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			report_path TEXT,
			error_kind TEXT,
			work_dir TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_history_request ON execution_history(request_id) WHERE request_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_history_case ON execution_history(case_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS queue_tasks (
			task_id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			payload BLOB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			available_at INTEGER NOT NULL,
			leased_until INTEGER,
			lease_token TEXT,
			last_error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_tasks_topic_status ON queue_tasks(topic, status, available_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Add new columns for existing DBs (SQLite has limited ALTER TABLE support).
	if err := s.ensureColumn("execution_history", "work_dir", "ALTER TABLE execution_history ADD COLUMN work_dir TEXT"); err != nil {
		return err
	}
	return s.ensureColumn("queue_tasks", "lease_token", "ALTER TABLE queue_tasks ADD COLUMN lease_token TEXT")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	found, err := s.hasColumn(tableName, columnName)
	if err != nil || found {
		return err
	}
	_, err = s.db.Exec(ddl)
	return err
}

// hasColumn releases its rows before returning; the pool holds one connection.
func (s *SQLiteStore) hasColumn(tableName, columnName string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}

// builtinKeywords are the keywords shipped with the runner CLI, by operation type.
var builtinKeywords = []struct {
	opType   string
	name     string
	function string
}{
	{"http", "Send HTTP request", "send_request"},
	{"extract", "Extract JSON data", "ex_jsonData"},
	{"extract", "Extract by regex", "ex_reData"},
	{"extract", "Extract MySQL data", "ex_mysqlData"},
	{"assert", "Compare text", "assert_text_comparators"},
	{"assert", "Compare files by MD5", "assert_files_by_md5_comparators"},
	{"script", "Run script", "run_script"},
	{"script", "Run code", "run_code"},
}

func (s *SQLiteStore) seedKeywords(ctx context.Context) error {
	for _, kw := range builtinKeywords {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO operation_types (name) VALUES (?)`, kw.opType); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO keywords (name, function_name, operation_type_id)
			 SELECT ?, ?, id FROM operation_types WHERE name = ?`,
			kw.name, kw.function, kw.opType); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateOperationType creates an operation type and sets its ID.
func (s *SQLiteStore) CreateOperationType(ctx context.Context, op *domain.OperationType) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO operation_types (name) VALUES (?)`, op.Name)
	if err != nil {
		return err
	}
	op.ID, err = res.LastInsertId()
	return err
}

// GetOperationType retrieves an operation type by ID.
func (s *SQLiteStore) GetOperationType(ctx context.Context, id int64) (*domain.OperationType, error) {
	var op domain.OperationType
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM operation_types WHERE id = ?`, id).Scan(&op.ID, &op.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// CreateKeyword creates a keyword and sets its ID.
func (s *SQLiteStore) CreateKeyword(ctx context.Context, kw *domain.KeywordDefinition) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (name, function_name, description, operation_type_id) VALUES (?, ?, ?, ?)`,
		kw.Name, kw.FunctionName, nullString(kw.Description), kw.OperationTypeID)
	if err != nil {
		return err
	}
	kw.ID, err = res.LastInsertId()
	return err
}

// GetKeyword retrieves a keyword by ID.
func (s *SQLiteStore) GetKeyword(ctx context.Context, id int64) (*domain.KeywordDefinition, error) {
	return s.getKeyword(ctx, `WHERE id = ?`, id)
}

// GetKeywordByFunction retrieves a keyword by its runner function name.
func (s *SQLiteStore) GetKeywordByFunction(ctx context.Context, functionName string) (*domain.KeywordDefinition, error) {
	return s.getKeyword(ctx, `WHERE function_name = ?`, functionName)
}

func (s *SQLiteStore) getKeyword(ctx context.Context, where string, arg any) (*domain.KeywordDefinition, error) {
	var kw domain.KeywordDefinition
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, function_name, description, operation_type_id FROM keywords `+where, arg).
		Scan(&kw.ID, &kw.Name, &kw.FunctionName, &description, &kw.OperationTypeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	kw.Description = description.String
	return &kw, nil
}

// CreateCase creates a case. A zero ID is assigned by the database.
func (s *SQLiteStore) CreateCase(ctx context.Context, c *domain.CaseDefinition) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	var id any
	if c.ID != 0 {
		id = c.ID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (id, project_id, name, description, debug_vars, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, c.ProjectID, c.Name, nullString(c.Description), nullString(c.DebugVars), c.CreatedAt)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCase retrieves a case by ID.
func (s *SQLiteStore) GetCase(ctx context.Context, id int64) (*domain.CaseDefinition, error) {
	var c domain.CaseDefinition
	var description, debugVars sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, debug_vars, created_at FROM cases WHERE id = ?`, id).
		Scan(&c.ID, &c.ProjectID, &c.Name, &description, &debugVars, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Description = description.String
	c.DebugVars = debugVars.String
	return &c, nil
}

// CreateStep creates a step and sets its ID.
func (s *SQLiteStore) CreateStep(ctx context.Context, step *domain.StepDefinition) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO case_steps (case_id, description, keyword_id, run_order, ref_variables) VALUES (?, ?, ?, ?, ?)`,
		step.CaseID, step.Description, step.KeywordID, step.RunOrder, nullString(step.RefVariables))
	if err != nil {
		return err
	}
	step.ID, err = res.LastInsertId()
	return err
}

// GetStepsForCase lists the steps of a case by run order, then insertion order.
func (s *SQLiteStore) GetStepsForCase(ctx context.Context, caseID int64) ([]domain.StepDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, description, keyword_id, run_order, ref_variables
		 FROM case_steps WHERE case_id = ? ORDER BY run_order, id`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.StepDefinition
	for rows.Next() {
		var step domain.StepDefinition
		var refVars sql.NullString
		if err := rows.Scan(&step.ID, &step.CaseID, &step.Description, &step.KeywordID, &step.RunOrder, &refVars); err != nil {
			return nil, err
		}
		step.RefVariables = refVars.String
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

const historyColumns = `id, execution_id, request_id, mode, case_id, case_ids, status, exit_code, output, duration_ms, report_path, error_kind, work_dir, created_at`

// AppendHistory inserts a history record and sets its ID. A record with the
// same request ID as an existing one is rejected by the unique index.
func (s *SQLiteStore) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	caseIDs, err := json.Marshal(rec.CaseIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_history (execution_id, request_id, mode, case_id, case_ids, status, exit_code, output, duration_ms, report_path, error_kind, work_dir, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, nullString(rec.RequestID), rec.Mode, rec.CaseID, string(caseIDs), rec.Status, rec.ExitCode,
		rec.Output, rec.DurationMs, nullString(rec.ReportPath), nullString(string(rec.ErrorKind)), nullString(rec.WorkDir), rec.CreatedAt)
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// GetHistoryByExecutionID retrieves the history record of one run.
func (s *SQLiteStore) GetHistoryByExecutionID(ctx context.Context, executionID string) (*domain.HistoryRecord, error) {
	return s.scanHistory(s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM execution_history WHERE execution_id = ?`, executionID))
}

// GetHistoryByRequestID retrieves the history record produced for an async request.
func (s *SQLiteStore) GetHistoryByRequestID(ctx context.Context, requestID string) (*domain.HistoryRecord, error) {
	return s.scanHistory(s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM execution_history WHERE request_id = ?`, requestID))
}

// ListHistoryForCase lists the most recent runs that included caseID,
// single and batch alike, newest first.
func (s *SQLiteStore) ListHistoryForCase(ctx context.Context, caseID int64, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM execution_history
		 WHERE case_id = ? OR EXISTS (SELECT 1 FROM json_each(execution_history.case_ids) WHERE json_each.value = ?)
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`, caseID, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.HistoryRecord, 0)
	for rows.Next() {
		rec, err := s.scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanHistory(row rowScanner) (*domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var requestID, output, reportPath, errorKind, workDir sql.NullString
	var caseIDs string
	err := row.Scan(&rec.ID, &rec.ExecutionID, &requestID, &rec.Mode, &rec.CaseID, &caseIDs, &rec.Status, &rec.ExitCode,
		&output, &rec.DurationMs, &reportPath, &errorKind, &workDir, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caseIDs), &rec.CaseIDs); err != nil {
		return nil, fmt.Errorf("decode case_ids of %s: %w", rec.ExecutionID, err)
	}
	rec.RequestID = requestID.String
	rec.Output = output.String
	rec.ReportPath = reportPath.String
	rec.ErrorKind = domain.ErrorKind(errorKind.String)
	rec.WorkDir = workDir.String
	return &rec, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
