package sqlite

import (
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/async-task/pkg/storage"
)

// NewJobRepoFromDSN 从DSN创建SQLite作业记录Repository
// SQLite只允许单写，未指定连接数时限制为1个连接（内存库也因此在连接间共享）
func NewJobRepoFromDSN(dsn string, pool storage.PoolConfig) (*storage.SQLJobRepository, error) {
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 1
	}
	return storage.OpenSQLJobRepository(NewSQLiteDialect(), dsn, pool)
}
