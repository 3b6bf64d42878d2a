package task

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// Handle 结果处理器的存活检查句柄（对外导出）
// 持有Handle不会延长处理器的生命周期；Get返回false表示处理器已不可达
type Handle[H any] interface {
	Get() (*H, bool)
}

// WeakHandle 基于弱指针的Handle实现
// 处理器被GC回收后Get返回false
type WeakHandle[H any] struct {
	ptr weak.Pointer[H]
}

// NewWeakHandle 为处理器创建弱引用句柄
func NewWeakHandle[H any](handler *H) WeakHandle[H] {
	return WeakHandle[H]{ptr: weak.Make(handler)}
}

// Get 获取处理器
func (h WeakHandle[H]) Get() (*H, bool) {
	p := h.ptr.Value()
	return p, p != nil
}

// HandleRegistry 基于注册表的Handle实现
// 适用于宿主需要显式管理处理器生命周期的场景（例如界面关闭时主动Release）
type HandleRegistry[H any] struct {
	mu       sync.RWMutex
	handlers map[string]*H
}

// NewHandleRegistry 创建注册表
func NewHandleRegistry[H any]() *HandleRegistry[H] {
	return &HandleRegistry[H]{handlers: make(map[string]*H)}
}

// Register 注册处理器并返回令牌
func (r *HandleRegistry[H]) Register(handler *H) *Token[H] {
	id := uuid.NewString()
	r.mu.Lock()
	r.handlers[id] = handler
	r.mu.Unlock()
	return &Token[H]{id: id, registry: r}
}

// Release 释放令牌，之后该令牌不可达。重复释放是无操作
func (r *HandleRegistry[H]) Release(token *Token[H]) {
	if token == nil {
		return
	}
	r.mu.Lock()
	delete(r.handlers, token.id)
	r.mu.Unlock()
}

// Len 当前已注册的处理器数量
func (r *HandleRegistry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *HandleRegistry[H]) lookup(id string) (*H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Token 注册表令牌，实现Handle
type Token[H any] struct {
	id       string
	registry *HandleRegistry[H]
}

// ID 令牌ID
func (t *Token[H]) ID() string {
	return t.id
}

// Get 获取处理器
func (t *Token[H]) Get() (*H, bool) {
	if t == nil || t.registry == nil {
		return nil, false
	}
	return t.registry.lookup(t.id)
}
