package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/LENAX/async-task/pkg/storage/dao"
)

// ErrJobNotFound 作业记录不存在
var ErrJobNotFound = errors.New("job record not found")

const jobTable = "async_job"

var jobColumns = []string{
	"id", "name", "status", "worker", "final_phase", "error_msg", "create_time", "start_time", "end_time",
}

const jobSchema = `CREATE TABLE IF NOT EXISTS async_job (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	worker VARCHAR(128) NOT NULL DEFAULT '',
	final_phase VARCHAR(32) NOT NULL DEFAULT '',
	error_msg TEXT,
	create_time DATETIME NOT NULL,
	start_time DATETIME,
	end_time DATETIME
);`

// JobRecord 作业的持久化视图（对外导出）
type JobRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Worker     string     `json:"worker,omitempty"`
	FinalPhase string     `json:"final_phase,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobRepository 作业记录存储接口（对外导出）
type JobRepository interface {
	// SaveJob 保存作业记录（存在则覆盖）
	SaveJob(ctx context.Context, job *JobRecord) error
	// MarkStarted 记录作业开始执行
	MarkStarted(ctx context.Context, id, worker string, at time.Time) error
	// MarkFinished 记录作业结束
	MarkFinished(ctx context.Context, id, status, finalPhase, errMsg string, at time.Time) error
	// GetJob 查询作业记录，不存在时返回ErrJobNotFound
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	// ListJobs 按创建时间倒序列出作业，status为空表示不过滤，limit<=0表示不限制
	ListJobs(ctx context.Context, status string, limit int) ([]*JobRecord, error)
	// DeleteFinishedBefore 删除在指定时间前结束的作业，返回删除数量
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// SQLJobRepository 基于sqlx的作业记录存储实现（对外导出）
type SQLJobRepository struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLJobRepository 使用已打开的连接创建Repository，并初始化表结构
func NewSQLJobRepository(db *sqlx.DB, dialect Dialect) (*SQLJobRepository, error) {
	repo := &SQLJobRepository{db: db, dialect: dialect}
	if err := repo.initSchema(); err != nil {
		return nil, errors.Wrap(err, "初始化表结构失败")
	}
	return repo, nil
}

// PoolConfig 连接池配置，零值表示使用驱动默认值
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolConfig) apply(db *sqlx.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}

// OpenSQLJobRepository 打开数据库连接、执行方言配置并创建Repository
func OpenSQLJobRepository(dialect Dialect, dsn string, pool PoolConfig) (*SQLJobRepository, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	pool.apply(db)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "数据库连接失败")
	}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "配置%s失败", dialect.Name())
		}
	}

	repo, err := NewSQLJobRepository(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// GetDB 返回底层连接
func (r *SQLJobRepository) GetDB() *sqlx.DB {
	return r.db
}

// Close 关闭数据库连接
func (r *SQLJobRepository) Close() error {
	return r.db.Close()
}

func (r *SQLJobRepository) initSchema() error {
	_, err := r.db.Exec(r.dialect.CreateTableSQL(jobSchema))
	return err
}

// SaveJob 保存作业记录
func (r *SQLJobRepository) SaveJob(ctx context.Context, job *JobRecord) error {
	if job == nil || job.ID == "" {
		return errors.New("作业记录缺少ID")
	}
	query := r.dialect.UpsertSQL(jobTable, jobColumns, "id", jobColumns[1:])
	if _, err := r.db.NamedExecContext(ctx, query, toDAO(job)); err != nil {
		return errors.Wrapf(err, "保存作业记录失败: %s", job.ID)
	}
	return nil
}

// MarkStarted 记录作业开始执行
func (r *SQLJobRepository) MarkStarted(ctx context.Context, id, worker string, at time.Time) error {
	query := r.db.Rebind(`UPDATE async_job SET status = ?, worker = ?, start_time = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, "running", worker, at, id); err != nil {
		return errors.Wrapf(err, "更新作业开始状态失败: %s", id)
	}
	return nil
}

// MarkFinished 记录作业结束
func (r *SQLJobRepository) MarkFinished(ctx context.Context, id, status, finalPhase, errMsg string, at time.Time) error {
	query := r.db.Rebind(`UPDATE async_job SET status = ?, final_phase = ?, error_msg = ?, end_time = ? WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, status, finalPhase, nullString(errMsg), at, id); err != nil {
		return errors.Wrapf(err, "更新作业结束状态失败: %s", id)
	}
	return nil
}

// GetJob 查询作业记录
func (r *SQLJobRepository) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	var d dao.JobRecordDAO
	query := r.db.Rebind(`SELECT ` + strings.Join(jobColumns, ", ") + ` FROM async_job WHERE id = ?`)
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrJobNotFound, id)
		}
		return nil, errors.Wrapf(err, "查询作业记录失败: %s", id)
	}
	return fromDAO(&d), nil
}

// ListJobs 按创建时间倒序列出作业
func (r *SQLJobRepository) ListJobs(ctx context.Context, status string, limit int) ([]*JobRecord, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT ` + strings.Join(jobColumns, ", ") + ` FROM async_job`)
	if status != "" {
		sb.WriteString(` WHERE status = ?`)
		args = append(args, status)
	}
	sb.WriteString(` ORDER BY create_time DESC, id ASC`)
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	var rows []dao.JobRecordDAO
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(sb.String()), args...); err != nil {
		return nil, errors.Wrap(err, "查询作业列表失败")
	}

	jobs := make([]*JobRecord, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, fromDAO(&rows[i]))
	}
	return jobs, nil
}

// DeleteFinishedBefore 删除在指定时间前结束的作业
func (r *SQLJobRepository) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`DELETE FROM async_job WHERE end_time IS NOT NULL AND end_time < ?`)
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, errors.Wrap(err, "清理历史作业失败")
	}
	return res.RowsAffected()
}

func toDAO(job *JobRecord) *dao.JobRecordDAO {
	return &dao.JobRecordDAO{
		ID:           job.ID,
		Name:         job.Name,
		Status:       job.Status,
		Worker:       job.Worker,
		FinalPhase:   job.FinalPhase,
		ErrorMessage: nullString(job.Error),
		CreateTime:   job.CreatedAt,
		StartTime:    nullTime(job.StartedAt),
		EndTime:      nullTime(job.FinishedAt),
	}
}

func fromDAO(d *dao.JobRecordDAO) *JobRecord {
	job := &JobRecord{
		ID:         d.ID,
		Name:       d.Name,
		Status:     d.Status,
		Worker:     d.Worker,
		FinalPhase: d.FinalPhase,
		CreatedAt:  d.CreateTime,
	}
	if d.ErrorMessage.Valid {
		job.Error = d.ErrorMessage.String
	}
	if d.StartTime.Valid {
		t := d.StartTime.Time
		job.StartedAt = &t
	}
	if d.EndTime.Valid {
		t := d.EndTime.Time
		job.FinishedAt = &t
	}
	return job
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ JobRepository = (*SQLJobRepository)(nil)
