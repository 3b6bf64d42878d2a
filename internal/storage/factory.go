package storage

import (
	"github.com/pkg/errors"

	"github.com/LENAX/async-task/pkg/storage"
	"github.com/LENAX/async-task/pkg/storage/mysql"
	"github.com/LENAX/async-task/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/async-task/pkg/storage/sqlite"
)

// NewJobRepository 按数据库类型创建作业记录Repository（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串
func NewJobRepository(dbType, dsn string, pool storage.PoolConfig) (storage.JobRepository, error) {
	var (
		repo *storage.SQLJobRepository
		err  error
	)
	switch dbType {
	case "sqlite", "sqlite3":
		repo, err = pkgsqlite.NewJobRepoFromDSN(dsn, pool)
	case "mysql":
		repo, err = mysql.NewJobRepoFromDSN(dsn, pool)
	case "postgres", "postgresql":
		repo, err = postgres.NewJobRepoFromDSN(dsn, pool)
	default:
		return nil, errors.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create %s repository failed", dbType)
	}
	return repo, nil
}
