package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dmserver/internal/domain"
	"dmserver/internal/service"
)

type messageSendRequest struct {
	ReceiverID   string               `json:"receiver_id"`
	Content      string               `json:"content"`
	MessageType  string               `json:"message_type"`
	MediaURL     *string              `json:"media_url"`
	FileMetadata *domain.FileMetadata `json:"file_metadata"`
	ReplyTo      *string              `json:"reply_to"`
}

type messageEditRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func handleSendMessage(deliverySvc *service.DeliveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageSendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.MessageType == "" {
			req.MessageType = string(domain.TypeText)
		}

		msg, err := deliverySvc.Send(r.Context(), service.SendInput{
			SenderID:     currentUser.ID,
			ReceiverID:   req.ReceiverID,
			Content:      req.Content,
			Type:         domain.MessageType(req.MessageType),
			MediaURL:     req.MediaURL,
			FileMetadata: req.FileMetadata,
			ReplyTo:      req.ReplyTo,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convID := chi.URLParam(r, "conversationID")
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		msgs, err := msgSvc.History(r.Context(), convID, currentUser.ID, page, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleUnreadCount(msgSvc *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		count, err := msgSvc.UnreadCount(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"unread_count": count})
	}
}

func handleEditMessage(deliverySvc *service.DeliveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		msgID := chi.URLParam(r, "messageID")
		var req messageEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		msg, err := deliverySvc.Edit(r.Context(), msgID, currentUser.ID, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleDeleteMessage(deliverySvc *service.DeliveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		msgID := chi.URLParam(r, "messageID")
		msg, err := deliverySvc.Delete(r.Context(), msgID, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleAddReaction(deliverySvc *service.DeliveryService) http.HandlerFunc {
	return handleReaction(deliverySvc, true)
}

func handleRemoveReaction(deliverySvc *service.DeliveryService) http.HandlerFunc {
	return handleReaction(deliverySvc, false)
}

func handleReaction(deliverySvc *service.DeliveryService, add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		msgID := chi.URLParam(r, "messageID")
		var req reactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		msg, err := deliverySvc.React(r.Context(), msgID, currentUser.ID, req.Emoji, add)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}
