package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS models (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  organization TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  higher_is_better INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  model_id TEXT NOT NULL,
  metric_id TEXT NOT NULL,
  score REAL NOT NULL,
  task_id TEXT NOT NULL DEFAULT '',
  submitted_at DATETIME NOT NULL,
  FOREIGN KEY(model_id) REFERENCES models(id),
  FOREIGN KEY(metric_id) REFERENCES metrics(id)
);
CREATE INDEX IF NOT EXISTS idx_submissions_metric ON submissions(metric_id, score);
CREATE INDEX IF NOT EXISTS idx_submissions_model ON submissions(model_id);
`
	_, err := db.Exec(schema)
	return err
}

// Repository is the system of record for models, metrics and submissions.
type Repository interface {
	CreateModel(ctx context.Context, m Model) (Model, error)
	GetModel(ctx context.Context, id string) (Model, error)
	ListModels(ctx context.Context, limit, offset int) ([]Model, error)
	DeleteModel(ctx context.Context, id string) error

	CreateMetric(ctx context.Context, m Metric) (Metric, error)
	GetMetric(ctx context.Context, idOrName string) (Metric, error)
	ListMetrics(ctx context.Context) ([]Metric, error)
	MetricAggregates(ctx context.Context) ([]MetricAggregate, error)

	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	Leaderboard(ctx context.Context, metricIDOrName string, limit int) (Ranking, error)
	Statistics(ctx context.Context) (Statistics, error)
}

type sqliteRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepo(db *sql.DB) Repository {
	return &sqliteRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *sqliteRepo) CreateModel(ctx context.Context, m Model) (Model, error) {
	if m.ID == "" {
		m.ID = "mdl_" + uuid.NewString()
	}
	m.CreatedAt = r.now()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO models (id,name,organization,description,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.Name, m.Organization, m.Description, m.CreatedAt)
	if err != nil {
		return Model{}, mapErr(err)
	}
	return m, nil
}

func (r *sqliteRepo) GetModel(ctx context.Context, id string) (Model, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,name,organization,description,created_at FROM models WHERE id=?`, id)
	var m Model
	if err := row.Scan(&m.ID, &m.Name, &m.Organization, &m.Description, &m.CreatedAt); err != nil {
		return Model{}, mapErr(err)
	}
	return m, nil
}

func (r *sqliteRepo) ListModels(ctx context.Context, limit, offset int) ([]Model, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,name,organization,description,created_at
FROM models ORDER BY created_at DESC, name LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	models := make([]Model, 0)
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Organization, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// DeleteModel removes the model together with its submissions.
func (r *sqliteRepo) DeleteModel(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE model_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM models WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *sqliteRepo) CreateMetric(ctx context.Context, m Metric) (Metric, error) {
	if m.ID == "" {
		m.ID = "met_" + uuid.NewString()
	}
	m.CreatedAt = r.now()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO metrics (id,name,description,higher_is_better,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.Name, m.Description, m.HigherIsBetter, m.CreatedAt)
	if err != nil {
		return Metric{}, mapErr(err)
	}
	return m, nil
}

func (r *sqliteRepo) GetMetric(ctx context.Context, idOrName string) (Metric, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,name,description,higher_is_better,created_at FROM metrics WHERE id=? OR name=? LIMIT 1`, idOrName, idOrName)
	var m Metric
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.HigherIsBetter, &m.CreatedAt); err != nil {
		return Metric{}, mapErr(err)
	}
	return m, nil
}

func (r *sqliteRepo) ListMetrics(ctx context.Context) ([]Metric, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,name,description,higher_is_better,created_at FROM metrics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make([]Metric, 0)
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.HigherIsBetter, &m.CreatedAt); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (r *sqliteRepo) MetricAggregates(ctx context.Context) ([]MetricAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT mt.id, mt.name, COUNT(s.id), COALESCE(AVG(s.score),0), COALESCE(MIN(s.score),0), COALESCE(MAX(s.score),0)
FROM metrics mt LEFT JOIN submissions s ON s.metric_id = mt.id
GROUP BY mt.id, mt.name
ORDER BY mt.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MetricAggregate, 0)
	for rows.Next() {
		var a MetricAggregate
		if err := rows.Scan(&a.MetricID, &a.MetricName, &a.Submissions, &a.Mean, &a.Min, &a.Max); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) CreateSubmission(ctx context.Context, s Submission) (Submission, error) {
	if s.ID == "" {
		s.ID = "sub_" + uuid.NewString()
	}
	if _, err := r.GetModel(ctx, s.ModelID); err != nil {
		return Submission{}, fmt.Errorf("model %s: %w", s.ModelID, err)
	}
	metric, err := r.GetMetric(ctx, s.MetricID)
	if err != nil {
		return Submission{}, fmt.Errorf("metric %s: %w", s.MetricID, err)
	}
	s.MetricID = metric.ID
	s.SubmittedAt = r.now()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO submissions (id,model_id,metric_id,score,task_id,submitted_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ModelID, s.MetricID, s.Score, s.TaskID, s.SubmittedAt)
	if err != nil {
		return Submission{}, mapErr(err)
	}
	return s, nil
}

// Leaderboard ranks models by their best score on one metric. Whether best
// means highest or lowest follows the metric's direction.
func (r *sqliteRepo) Leaderboard(ctx context.Context, metricIDOrName string, limit int) (Ranking, error) {
	metric, err := r.GetMetric(ctx, metricIDOrName)
	if err != nil {
		return Ranking{}, err
	}
	agg, dir := "MIN", "ASC"
	if metric.HigherIsBetter {
		agg, dir = "MAX", "DESC"
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT m.id, m.name, m.organization, %s(s.score) AS best, COUNT(s.id)
FROM submissions s JOIN models m ON m.id = s.model_id
WHERE s.metric_id = ?
GROUP BY m.id, m.name, m.organization
ORDER BY best %s, m.name ASC
LIMIT ?`, agg, dir), metric.ID, limit)
	if err != nil {
		return Ranking{}, err
	}
	defer rows.Close()

	out := Ranking{Metric: metric, Entries: make([]Entry, 0)}
	for rows.Next() {
		e := Entry{Rank: len(out.Entries) + 1}
		if err := rows.Scan(&e.ModelID, &e.ModelName, &e.Organization, &e.Score, &e.Submissions); err != nil {
			return Ranking{}, err
		}
		out.Entries = append(out.Entries, e)
	}
	return out, rows.Err()
}

func (r *sqliteRepo) Statistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	err := r.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM models), (SELECT COUNT(*) FROM metrics), (SELECT COUNT(*) FROM submissions)`).
		Scan(&st.Models, &st.Metrics, &st.Submissions)
	if err != nil {
		return Statistics{}, err
	}
	if st.Submissions == 0 {
		return st, nil
	}
	var latest time.Time
	if err := r.db.QueryRowContext(ctx, `
SELECT submitted_at FROM submissions ORDER BY submitted_at DESC LIMIT 1`).Scan(&latest); err != nil {
		return Statistics{}, err
	}
	st.LatestSubmission = &latest
	return st, nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
