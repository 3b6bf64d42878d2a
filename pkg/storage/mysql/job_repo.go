package mysql

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/LENAX/async-task/pkg/storage"
)

// NewJobRepoFromDSN 从DSN创建MySQL作业记录Repository
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func NewJobRepoFromDSN(dsn string, pool storage.PoolConfig) (*storage.SQLJobRepository, error) {
	return storage.OpenSQLJobRepository(NewMySQLDialect(), ensureParseTime(dsn), pool)
}

// ensureParseTime 确保DSN包含parseTime=true，否则DATETIME无法扫描到time.Time
func ensureParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime=true") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
