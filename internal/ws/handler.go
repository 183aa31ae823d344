package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"dmserver/internal/domain"
	"dmserver/internal/presence"
	"dmserver/internal/security"
	"dmserver/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol), then dispatches events:
//   - message:send     -> resolve conversation, persist, push to receiver, confirm delivery
//   - message:read     -> mark conversation read + fan out per-message read receipts
//   - message:reaction -> add/remove a reaction and notify both participants
//   - typing:start / typing:stop -> relay indicator to the other participant
func MakeHandler(
	registry *presence.Registry,
	tokens *security.TokenService,
	users domain.UserRepository,
	delivery *service.DeliveryService,
	typing *service.TypingService,
	allowedOrigins []string,
	eventRate rate.Limit,
	eventBurst int,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := users.GetByUsername(ctx, sub)
		if err != nil || user == nil || !user.IsActive {
			http.Error(w, "user not found or inactive", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := NewClient(user.ID, conn)
		if wentOnline := registry.Register(user.ID, client); wentOnline {
			if err := users.SetPresence(ctx, user.ID, domain.UserOnline, time.Now().UTC()); err != nil {
				log.Printf("ws: set online for %s: %v", user.ID, err)
			}
		}
		defer func() {
			wentOffline, lastSeen := registry.Unregister(user.ID, client)
			if wentOffline {
				if err := users.SetPresence(context.Background(), user.ID, domain.UserOffline, lastSeen); err != nil {
					log.Printf("ws: set offline for %s: %v", user.ID, err)
				}
			}
		}()

		limiter := rate.NewLimiter(eventRate, eventBurst)
		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			if !limiter.Allow() {
				sendError(client, "rate_limited", "too many events, slow down")
				continue
			}
			eventType, _ := payload["type"].(string)
			switch eventType {

			// ── send message ─────────────────────────────────────────────────
			case "message:send":
				receiverID, _ := payload["receiver_id"].(string)
				content, _ := payload["content"].(string)
				msgType, _ := payload["message_type"].(string)
				if msgType == "" {
					msgType = string(domain.TypeText)
				}
				if receiverID == "" {
					sendError(client, "validation", "message:send requires receiver_id")
					continue
				}
				in := service.SendInput{
					SenderID:   user.ID,
					ReceiverID: receiverID,
					Content:    content,
					Type:       domain.MessageType(msgType),
				}
				if mediaURL, _ := payload["media_url"].(string); mediaURL != "" {
					in.MediaURL = &mediaURL
				}
				if replyTo, _ := payload["reply_to"].(string); replyTo != "" {
					in.ReplyTo = &replyTo
				}
				if _, err := delivery.Send(ctx, in); err != nil {
					log.Printf("ws: message:send: %v", err)
					sendError(client, errorKind(err), "failed to send message")
				}

			// ── read receipt ─────────────────────────────────────────────────
			case "message:read":
				convID, _ := payload["conversation_id"].(string)
				if convID == "" {
					continue
				}
				if _, err := delivery.ReadReceipt(ctx, convID, user.ID); err != nil {
					log.Printf("ws: message:read: %v", err)
					sendError(client, errorKind(err), "failed to mark messages as read")
				}

			// ── reactions ────────────────────────────────────────────────────
			case "message:reaction":
				msgID, _ := payload["message_id"].(string)
				emoji, _ := payload["emoji"].(string)
				action, _ := payload["action"].(string)
				if msgID == "" || emoji == "" {
					sendError(client, "validation", "message:reaction requires message_id and emoji")
					continue
				}
				if _, err := delivery.React(ctx, msgID, user.ID, emoji, action != "remove"); err != nil {
					log.Printf("ws: message:reaction: %v", err)
					sendError(client, errorKind(err), "failed to update reaction")
				}

			// ── typing indicator ─────────────────────────────────────────────
			case "typing:start", "typing:stop":
				convID, _ := payload["conversation_id"].(string)
				if convID == "" {
					continue
				}
				var err error
				if eventType == "typing:start" {
					err = typing.Start(ctx, convID, user.ID)
				} else {
					err = typing.Stop(ctx, convID, user.ID)
				}
				if err != nil {
					sendError(client, errorKind(err), "not allowed for this conversation")
				}

			default:
				log.Printf("ws: unknown event type %q from user %s", eventType, user.ID)
			}
		}
	}
}

// errorKind classifies a service error by its domain sentinel so clients
// can tell a rejected request from a missing resource or a server-side
// failure without parsing the message text.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

func sendError(c *Client, kind, msg string) {
	_ = c.Send(map[string]any{
		"type":    "error",
		"kind":    kind,
		"message": msg,
	})
}
