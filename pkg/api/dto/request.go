package dto

// HistoryQueryRequest 作业历史查询请求
type HistoryQueryRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending running completed cancelled failed"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// GetDefaultLimit 获取默认limit
func (r *HistoryQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 50
	}
	return r.Limit
}
