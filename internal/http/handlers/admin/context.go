package admin

import (
	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/http/response"

	handlershared "github.com/tiernet/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

// actorOf 当前操作者标识，写入流水与状态迁移记录
func actorOf(c *gin.Context) string {
	principal, ok := handlershared.GetPrincipal(c)
	if !ok {
		return constants.ActorSystem
	}
	return principal.Actor()
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func respondServiceError(c *gin.Context, err error) {
	handlershared.RespondServiceError(c, err)
}

func respondBadRequest(c *gin.Context, err error) {
	respondError(c, response.CodeBadRequest, "bad request", err)
}
