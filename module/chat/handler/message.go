package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MissionChat/global/response"
	"MissionChat/logger"
	midsec "MissionChat/middleware/security"
	"MissionChat/module/chat/model"
	"MissionChat/module/chat/service"
	"MissionChat/tools/errs"
)

type senderProfile struct {
	Name         string `json:"name"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// messageView 附带发送者资料（配置了 profile 源时）
type messageView struct {
	*model.Message
	SenderProfile *senderProfile `json:"senderProfile,omitempty"`
}

func (h *Handler) messageViews(ctx context.Context, msgs ...*model.Message) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{Message: m}
	}
	if h.profiles == nil || len(msgs) == 0 {
		return out
	}
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		if _, ok := seen[m.Sender]; !ok {
			seen[m.Sender] = struct{}{}
			ids = append(ids, m.Sender)
		}
	}
	profiles, err := h.profiles.Profiles(ctx, ids)
	if err != nil {
		logger.Warn("resolve sender profiles failed", zap.Int("users", len(ids)), zap.Error(err))
		return out
	}
	for i, m := range msgs {
		if pr, ok := profiles[m.Sender]; ok {
			out[i].SenderProfile = &senderProfile{Name: pr.Name, ProfileImage: pr.ProfileImage}
		}
	}
	return out
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := bindJSON(c, &req); err != nil {
		response.Fail(c, err)
		return
	}
	atts := make([]model.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		atts = append(atts, model.Attachment{FileURL: a.FileURL, FileType: a.FileType, FileName: a.FileName})
	}
	m, err := h.msgs.Append(c.Request.Context(), service.AppendInput{
		ConversationID: req.ConversationID,
		SenderID:       midsec.UserID(c),
		Content:        req.Content,
		Attachments:    atts,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"message": h.messageViews(c.Request.Context(), m)[0]})
}

func (h *Handler) listMessages(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		response.Fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", h.defaultPage)
	if err != nil {
		response.Fail(c, err)
		return
	}
	p, err := h.msgs.Page(c.Request.Context(), c.Param("conversationId"), midsec.UserID(c), page, limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"count":    len(p.Items),
		"messages": h.messageViews(c.Request.Context(), p.Items...),
		"total":    p.Total,
		"page":     p.Page,
		"pages":    p.PageCount,
	})
}

func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.msgs.Delete(c.Request.Context(), c.Param("id"), midsec.UserID(c)); err != nil {
		response.Fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Message deleted"})
}

// queryInt 缺省时返回 def；非数字返回 ValidationError
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(key + " must be a number").Wrap()
	}
	return n, nil
}
