package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName database/sql驱动名
	DriverName() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（命名参数形式 :column）
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 冲突时需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 把SQLite风格的DDL转换为当前数据库的DDL
	CreateTableSQL(schema string) string

	// ConfigureDB 连接建立后需要执行的配置语句（如SQLite的PRAGMA）
	ConfigureDB() []string
}
