package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MissionChat/global/response"
	"MissionChat/logger"
	midsec "MissionChat/middleware/security"
	"MissionChat/module/chat/model"
	"MissionChat/module/chat/service"
)

// conversationView 在会话上附带参与者资料（配置了 profile 源时）
type conversationView struct {
	*model.Conversation
	ParticipantProfiles []model.Profile `json:"participantProfiles,omitempty"`
}

func (h *Handler) createConversation(c *gin.Context) {
	var req createConversationReq
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	conv, created, err := h.dir.CreateOrGet(c.Request.Context(), service.CreateInput{
		Type:           model.ConversationType(req.Type),
		InitiatorID:    midsec.UserID(c),
		ParticipantIDs: req.Participants,
		Mission:        req.Mission,
		Title:          req.Title,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"conversation": h.views(c.Request.Context(), conv)[0]})
}

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.dir.ListForUser(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"count":         len(list),
		"conversations": h.views(c.Request.Context(), list...),
	})
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, err := h.dir.GetByID(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conversation": h.views(c.Request.Context(), conv)[0]})
}

func (h *Handler) addParticipant(c *gin.Context) {
	var req addParticipantReq
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	conv, err := h.dir.AddParticipant(c.Request.Context(), c.Param("id"), midsec.UserID(c), req.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"conversation": h.views(c.Request.Context(), conv)[0]})
}

func (h *Handler) leaveConversation(c *gin.Context) {
	deleted, err := h.dir.RemoveParticipant(c.Request.Context(), c.Param("id"), midsec.UserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	msg := "Left conversation successfully"
	if deleted {
		msg = "Conversation deleted"
	}
	response.Success(c, http.StatusOK, gin.H{"message": msg})
}

// views 批量查询参与者资料；资料源不可用时只返回会话本身
func (h *Handler) views(ctx context.Context, convs ...*model.Conversation) []conversationView {
	out := make([]conversationView, len(convs))
	for i, conv := range convs {
		out[i] = conversationView{Conversation: conv}
	}
	if h.profiles == nil || len(convs) == 0 {
		return out
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, conv := range convs {
		for _, p := range conv.Participants {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				ids = append(ids, p)
			}
		}
	}
	profiles, err := h.profiles.Profiles(ctx, ids)
	if err != nil {
		logger.Warn("resolve participant profiles failed", zap.Int("users", len(ids)), zap.Error(err))
		return out
	}
	for i, conv := range convs {
		for _, p := range conv.Participants {
			if pr, ok := profiles[p]; ok {
				out[i].ParticipantProfiles = append(out[i].ParticipantProfiles, pr)
			}
		}
	}
	return out
}
