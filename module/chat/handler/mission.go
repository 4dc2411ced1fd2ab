package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"MissionChat/global/response"
	"MissionChat/logger"
	midsec "MissionChat/middleware/security"
	"MissionChat/tools/errs"
)

// postMissionUpdate 把任务流程的更新原样转发到 mission 房间
func (h *Handler) postMissionUpdate(c *gin.Context) {
	if h.missions == nil {
		response.Fail(c, errs.InvalidOperation("Mission updates are not enabled on this node").Wrap())
		return
	}
	missionID := strings.TrimSpace(c.Param("id"))
	body, err := c.GetRawData()
	if err != nil {
		response.Fail(c, errs.Validation("Invalid request body").WrapMsg(err.Error()))
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		response.Fail(c, errs.Validation("Request body must be JSON").Wrap())
		return
	}
	if err := h.missions.MissionUpdated(c.Request.Context(), missionID, body); err != nil {
		response.Fail(c, err)
		return
	}
	logger.Debug("mission update accepted", zap.String("mission", missionID), zap.String("by", midsec.UserID(c)))
	response.Success(c, http.StatusAccepted, nil)
}

// getPresence 本节点持有连接即在线，否则查共享 presence
func (h *Handler) getPresence(c *gin.Context) {
	user := c.Param("id")
	if h.local != nil && h.local.Online(user) {
		response.Success(c, http.StatusOK, gin.H{"userId": user, "online": true})
		return
	}
	_, online, err := h.presence.Lookup(c.Request.Context(), user)
	if err != nil {
		response.Fail(c, errs.WrapMsg(err, "presence lookup", "user", user))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"userId": user, "online": online})
}
