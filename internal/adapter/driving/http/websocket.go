package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins outside dev
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire frame in both directions: an event name plus an
// event-specific body.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type callErrorDTO struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WSClient adapts one gorilla connection to the gateway Client interface.
// Writes are serialized; the hub may send from several goroutines at once.
type WSClient struct {
	userID domain.UserID

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (c *WSClient) UserID() domain.UserID {
	return c.userID
}

func (c *WSClient) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope{Event: event, Data: data})
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// ServeWS upgrades the connection, registers it under the authenticated user
// and pumps incoming events into the services until the peer goes away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{userID: userID, conn: conn}

	l := log.With().Str("user_id", userID.String()).Logger()
	l.Info().Msg("websocket attached")

	h.ConnHub.Register(client)
	defer h.ConnHub.Unregister(client)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("unexpected close")
			}
			return
		}
		h.dispatch(r, client, env)
	}
}

func (h *Handler) dispatch(r *http.Request, client *WSClient, env envelope) {
	ctx := r.Context()
	userID := client.userID

	switch env.Event {
	case domain.EventInitiateCall:
		var req struct {
			ReceiverID string          `json:"receiverId"`
			CallType   domain.CallType `json:"callType"`
			Offer      json.RawMessage `json:"offer"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ReceiverID == "" || !req.CallType.Valid() {
			h.sendError(client, "malformed initiate-call", "BAD_REQUEST")
			return
		}
		_, err := h.Signaling.InitiateCall(ctx, userID, domain.UserID(req.ReceiverID), req.CallType, req.Offer)
		if err != nil {
			h.sendError(client, err.Error(), domain.RejectionCode(err))
		}

	case domain.EventAnswerCall:
		var req struct {
			CallID string          `json:"callId"`
			Answer json.RawMessage `json:"answer"`
		}
		callID, ok := h.decodeCallID(client, env.Data, &req, &req.CallID)
		if !ok {
			return
		}
		if err := h.Signaling.AnswerCall(ctx, callID, req.Answer); err != nil {
			h.sendError(client, err.Error(), domain.RejectionCode(err))
		}

	case domain.EventDeclineCall:
		var req struct {
			CallID string `json:"callId"`
			Reason string `json:"reason"`
		}
		callID, ok := h.decodeCallID(client, env.Data, &req, &req.CallID)
		if !ok {
			return
		}
		h.Signaling.DeclineCall(ctx, callID, req.Reason)

	case domain.EventEndCall:
		var req struct {
			CallID          string          `json:"callId"`
			ConnectionStats json.RawMessage `json:"connectionStats"`
		}
		callID, ok := h.decodeCallID(client, env.Data, &req, &req.CallID)
		if !ok {
			return
		}
		h.Signaling.EndCall(ctx, callID, userID, domain.EndUserEnded, req.ConnectionStats)

	case domain.EventICECandidate:
		var req struct {
			CallID    string          `json:"callId"`
			Candidate json.RawMessage `json:"candidate"`
		}
		callID, ok := h.decodeCallID(client, env.Data, &req, &req.CallID)
		if !ok {
			return
		}
		h.Signaling.RelayNegotiationPayload(ctx, callID, userID, req.Candidate)

	case domain.EventQualityUpdate:
		h.relayControl(ctx, client, env.Data, domain.ControlQualityReport, "quality")

	case domain.EventToggleAudio:
		h.relayControl(ctx, client, env.Data, domain.ControlAudioToggle, "")

	case domain.EventToggleVideo:
		h.relayControl(ctx, client, env.Data, domain.ControlVideoToggle, "")

	case domain.EventScreenShareOn:
		h.relayControl(ctx, client, env.Data, domain.ControlScreenShareOn, "")

	case domain.EventScreenShareOff:
		h.relayControl(ctx, client, env.Data, domain.ControlScreenShareOff, "")

	case domain.EventSendMessage:
		var req struct {
			RecipientID string `json:"recipientId"`
			Content     string `json:"content"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.sendError(client, "malformed message", "BAD_REQUEST")
			return
		}
		if _, err := h.Chat.SendMessage(ctx, userID, domain.UserID(req.RecipientID), req.Content); err != nil {
			h.sendError(client, err.Error(), "MESSAGE_FAILED")
		}

	default:
		log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

// relayControl handles the family of control-signal events that all carry a
// callId plus an opaque body. When field is set, only that sub-object is
// forwarded as the payload; otherwise the body minus the callId is.
func (h *Handler) relayControl(ctx context.Context, client *WSClient, data json.RawMessage, kind domain.ControlKind, field string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	var callIDStr string
	if err := json.Unmarshal(raw["callId"], &callIDStr); err != nil {
		return
	}
	callID, err := domain.ParseCallID(callIDStr)
	if err != nil {
		return
	}

	var payload json.RawMessage
	if field != "" {
		payload = raw[field]
	} else {
		delete(raw, "callId")
		payload, _ = json.Marshal(raw)
	}

	h.Signaling.RelayControlSignal(ctx, callID, client.userID, kind, payload)
}

func (h *Handler) decodeCallID(client *WSClient, data json.RawMessage, req any, rawID *string) (domain.CallID, bool) {
	if err := json.Unmarshal(data, req); err != nil || *rawID == "" {
		h.sendError(client, "malformed request", "BAD_REQUEST")
		return domain.CallID{}, false
	}
	callID, err := domain.ParseCallID(*rawID)
	if err != nil {
		h.sendError(client, "malformed call id", "BAD_REQUEST")
		return domain.CallID{}, false
	}
	return callID, true
}

func (h *Handler) sendError(client *WSClient, msg, code string) {
	if err := client.Send(domain.EventCallError, callErrorDTO{Error: msg, Code: code}); err != nil {
		log.Warn().Err(err).Str("user_id", client.userID.String()).Msg("error notification failed")
	}
}
