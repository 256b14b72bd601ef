package handlers

import (
	"net/http"

	"animehub-be/internal/chat"
	"animehub-be/internal/http/middleware"
	"animehub-be/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ChatHandler struct {
	Resolver *chat.Resolver
	Messages *chat.MessageService
	Groups   *chat.GroupService
}

type createDirectReq struct {
	OtherUserID string `json:"otherUserId" binding:"required"`
}

func (h *ChatHandler) CreateDirectConversation(c *gin.Context) {
	var req createDirectReq
	if !bindJSON(c, &req) {
		return
	}
	other, err := chat.ParseID(req.OtherUserID, "user")
	if err != nil {
		fail(c, err)
		return
	}
	view, _, err := h.Resolver.GetOrCreateDirect(c.Request.Context(), middleware.MustUserID(c), other)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.Resolver.ListConversations(c.Request.Context(), middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// ListMessages serves both direct and group histories; kind is bound at
// route registration.
func (h *ChatHandler) ListMessages(kind models.ConversationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "conversation")
		if !ok {
			return
		}
		page, err := h.Messages.List(c.Request.Context(), models.ConversationRef{Kind: kind, ID: id}, middleware.MustUserID(c),
			queryInt(c, "page"), queryInt(c, "limit", "pageSize"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

type sendMessageReq struct {
	Content string `json:"content"`
}

// SendMessage accepts JSON {content} or a multipart form with content and
// an optional attachment file.
func (h *ChatHandler) SendMessage(kind models.ConversationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "conversation")
		if !ok {
			return
		}
		in := chat.SendInput{
			Conversation: models.ConversationRef{Kind: kind, ID: id},
			SenderID:     middleware.MustUserID(c),
		}
		if isMultipart(c) {
			f, err := formFile(c, "attachment")
			if err != nil {
				fail(c, err)
				return
			}
			in.Content, in.Attachment = c.PostForm("content"), f
		} else {
			var req sendMessageReq
			if !bindJSON(c, &req) {
				return
			}
			in.Content = req.Content
		}

		msg, err := h.Messages.Send(c.Request.Context(), in)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "message")
	if !ok {
		return
	}
	msg, err := h.Messages.MarkRead(c.Request.Context(), id, middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	id, ok := paramID(c, "message")
	if !ok {
		return
	}
	if err := h.Messages.Delete(c.Request.Context(), id, middleware.MustUserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type groupReq struct {
	Name    *string  `json:"name"`
	Members []string `json:"members"`
}

func parseMembers(raw []string) ([]uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := chat.ParseID(s, "member")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req groupReq
	if !bindJSON(c, &req) {
		return
	}
	members, err := parseMembers(req.Members)
	if err != nil {
		fail(c, err)
		return
	}
	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	g, err := h.Groups.Create(c.Request.Context(), middleware.MustUserID(c), name, members)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *ChatHandler) ListGroups(c *gin.Context) {
	list, err := h.Groups.List(c.Request.Context(), middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *ChatHandler) GetGroup(c *gin.Context) {
	id, ok := paramID(c, "group")
	if !ok {
		return
	}
	g, err := h.Groups.Get(c.Request.Context(), id, middleware.MustUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *ChatHandler) UpdateGroup(c *gin.Context) {
	id, ok := paramID(c, "group")
	if !ok {
		return
	}
	var req groupReq
	if !bindJSON(c, &req) {
		return
	}
	members, err := parseMembers(req.Members)
	if err != nil {
		fail(c, err)
		return
	}
	g, err := h.Groups.Update(c.Request.Context(), id, middleware.MustUserID(c), chat.GroupUpdate{Name: req.Name, Members: members})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *ChatHandler) DeleteGroup(c *gin.Context) {
	id, ok := paramID(c, "group")
	if !ok {
		return
	}
	if err := h.Groups.Delete(c.Request.Context(), id, middleware.MustUserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
