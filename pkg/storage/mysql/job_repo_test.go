package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureParseTime(t *testing.T) {
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", ensureParseTime("u:p@tcp(h:3306)/db"))
	assert.Equal(t, "u:p@tcp(h:3306)/db?charset=utf8mb4&parseTime=true", ensureParseTime("u:p@tcp(h:3306)/db?charset=utf8mb4"))
	assert.Equal(t, "u:p@tcp(h:3306)/db?parseTime=true", ensureParseTime("u:p@tcp(h:3306)/db?parseTime=true"))
}
