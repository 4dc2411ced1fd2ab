// Package handler exposes conversations and messages over REST.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	mid "MissionChat/middleware"
	"MissionChat/module/chat/service"
	"MissionChat/service/storage"
	"MissionChat/tools/safe"
)

// MissionBroadcaster delivers a mission workflow update to the mission room.
type MissionBroadcaster interface {
	MissionUpdated(ctx context.Context, missionID string, update []byte) error
}

// LocalPresence answers from the connections held by this node.
type LocalPresence interface {
	Online(user string) bool
}

type Options struct {
	Directory *service.Directory
	Messages  *service.MessageLog
	Presence  storage.Presence
	// 可选
	Profiles          storage.Profiles
	Missions          MissionBroadcaster
	Local             LocalPresence
	DefaultPageSize   int
	SendRatePerSecond int
}

type Handler struct {
	dir         *service.Directory
	msgs        *service.MessageLog
	presence    storage.Presence
	local       LocalPresence
	profiles    storage.Profiles
	missions    MissionBroadcaster
	defaultPage int
	sendRate    int
}

func New(o Options) *Handler {
	safe.MustNotNil(o.Directory, "directory")
	safe.MustNotNil(o.Messages, "message log")
	if o.Presence == nil {
		o.Presence = storage.NewMemPresence()
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = service.DefaultPageSize
	}
	return &Handler{
		dir:         o.Directory,
		msgs:        o.Messages,
		presence:    o.Presence,
		local:       o.Local,
		profiles:    o.Profiles,
		missions:    o.Missions,
		defaultPage: o.DefaultPageSize,
		sendRate:    o.SendRatePerSecond,
	}
}

// Register 挂载 /api 下的路由以及 /healthz
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	auth := mid.RouteOpt{IsAuth: true}
	api := r.Group("/api")

	mid.POST(api, "/conversations", h.createConversation, auth)
	mid.GET(api, "/conversations", h.listConversations, auth)
	mid.GET(api, "/conversations/:id", h.getConversation, auth)
	mid.PUT(api, "/conversations/:id/participants", h.addParticipant, auth)
	mid.DELETE(api, "/conversations/:id/participants", h.leaveConversation, auth)

	mid.POST(api, "/messages", h.sendMessage, mid.RouteOpt{
		IsAuth: true,
		Before: []gin.HandlerFunc{mid.RateLimit(h.sendRate)},
	})
	mid.GET(api, "/messages/:conversationId", h.listMessages, auth)
	mid.DELETE(api, "/messages/:id", h.deleteMessage, auth)

	mid.POST(api, "/missions/:id/updates", h.postMissionUpdate, auth)
	mid.GET(api, "/users/:id/presence", h.getPresence, auth)
}
