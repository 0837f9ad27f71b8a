package public

import "github.com/tiernet/internal/provider"

// Handler 公开接口与成员中心接口处理器入口
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
