package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/reportdesk/internal/middleware"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Routes(r chi.Router) {
	r.Get("/chats", h.listChats)
	r.Post("/chats/direct", h.directChat)
	r.Post("/chats/group", h.groupChat)
	r.Get("/chats/{chatID}/messages", h.listMessages)
	r.Post("/chats/{chatID}/messages", h.createMessage)
	r.Get("/chats/{chatID}/unread", h.unreadCount)
	r.Post("/chats/{chatID}/participants", h.addParticipant)
	r.Delete("/chats/{chatID}/participants/{userID}", h.removeParticipant)
	r.Put("/chats/{chatID}/notifications", h.updateNotifications)
	r.Put("/messages/{messageID}", h.editMessage)
	r.Delete("/messages/{messageID}", h.deleteMessage)
	r.Put("/messages/{messageID}/reactions", h.addReaction)
	r.Delete("/messages/{messageID}/reactions", h.removeReaction)
	r.Post("/messages/{messageID}/read", h.markRead)
}

func (h *ChatHandler) listChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.chat.GetUserChats(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *ChatHandler) directChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	chat, err := h.chat.GetOrCreateDirectChat(r.Context(), middleware.GetUserID(r.Context()), req.RecipientID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) groupChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string             `json:"name"`
		AvatarURL      string             `json:"avatar_url"`
		IsPublic       bool               `json:"is_public"`
		ParticipantIDs []string           `json:"participant_ids"`
		Settings       model.ChatSettings `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	chat, err := h.chat.CreateGroupChat(r.Context(), middleware.GetUserID(r.Context()), service.GroupChatInput{
		Name:           req.Name,
		AvatarURL:      req.AvatarURL,
		IsPublic:       req.IsPublic,
		ParticipantIDs: req.ParticipantIDs,
		Settings:       req.Settings,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.GetChatMessages(r.Context(),
		chi.URLParam(r, "chatID"), middleware.GetUserID(r.Context()),
		queryInt(r, "page", 1), queryInt(r, "limit", 50))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content     string            `json:"content"`
		MessageType model.MessageType `json:"message_type"`
		ReplyToID   *string           `json:"reply_to_id"`
		File        *model.FileData   `json:"file_data"`
		Mentions    []model.Mention   `json:"mentions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.MessageType == "" {
		req.MessageType = model.MessageTypeText
	}
	msg, err := h.chat.CreateMessage(r.Context(), service.CreateMessageInput{
		ChatID:      chi.URLParam(r, "chatID"),
		SenderID:    middleware.GetUserID(r.Context()),
		Content:     req.Content,
		MessageType: req.MessageType,
		ReplyToID:   req.ReplyToID,
		File:        req.File,
		Mentions:    req.Mentions,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.chat.UnreadCount(r.Context(), chi.URLParam(r, "chatID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (h *ChatHandler) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	chat, err := h.chat.AddParticipant(r.Context(), chi.URLParam(r, "chatID"), req.UserID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	err := h.chat.RemoveParticipant(r.Context(),
		chi.URLParam(r, "chatID"), chi.URLParam(r, "userID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) updateNotifications(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Muted bool `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	err := h.chat.UpdateNotificationSettings(r.Context(), chi.URLParam(r, "chatID"), middleware.GetUserID(r.Context()), req.Muted)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) editMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.chat.EditMessage(r.Context(), chi.URLParam(r, "messageID"), middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chat.DeleteMessage(r.Context(), chi.URLParam(r, "messageID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) addReaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.chat.AddReaction(r.Context(), chi.URLParam(r, "messageID"), middleware.GetUserID(r.Context()), req.Emoji)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) removeReaction(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chat.RemoveReaction(r.Context(), chi.URLParam(r, "messageID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) markRead(w http.ResponseWriter, r *http.Request) {
	msg, err := h.chat.MarkMessageRead(r.Context(), chi.URLParam(r, "messageID"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
