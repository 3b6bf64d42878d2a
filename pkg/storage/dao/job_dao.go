package dao

import (
	"database/sql"
	"time"
)

// JobRecordDAO async_job表的数据访问对象（内部使用）
type JobRecordDAO struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Status       string         `db:"status"`
	Worker       string         `db:"worker"`
	FinalPhase   string         `db:"final_phase"`
	ErrorMessage sql.NullString `db:"error_msg"`
	CreateTime   time.Time      `db:"create_time"`
	StartTime    sql.NullTime   `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
}
