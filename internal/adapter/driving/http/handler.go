package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pulsechat/pulse/internal/adapter/driven/gateway/ws"
	"github.com/pulsechat/pulse/internal/auth"
	"github.com/pulsechat/pulse/internal/core/domain"
	"github.com/pulsechat/pulse/internal/core/port"
	"github.com/pulsechat/pulse/internal/core/service"
)

type Handler struct {
	Chat      *service.ChatService
	Signaling *service.SignalingHub
	ConnHub   *ws.Hub
	History   port.CallHistory
	Messages  port.MessageRepository
	Auth      *auth.Manager
}

func NewHandler(chat *service.ChatService, signaling *service.SignalingHub, connHub *ws.Hub, history port.CallHistory, messages port.MessageRepository, authMgr *auth.Manager) *Handler {
	return &Handler{
		Chat:      chat,
		Signaling: signaling,
		ConnHub:   connHub,
		History:   history,
		Messages:  messages,
		Auth:      authMgr,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(h.Auth))

		r.Get("/ws", h.ServeWS)

		r.Route("/api", func(r chi.Router) {
			r.Get("/calls/history", h.GetCallHistory)
			r.Get("/calls/stats", h.GetCallStats)
			r.Get("/calls/active", h.GetActiveCalls)
			r.Delete("/calls/{callID}", h.DeleteCall)
			r.Get("/messages/{peerID}", h.GetConversation)
		})
	})

	return r
}

type callDTO struct {
	CallID     string           `json:"callId"`
	CallerID   string           `json:"callerId"`
	ReceiverID string           `json:"receiverId"`
	CallType   domain.CallType  `json:"callType"`
	Status     domain.CallStatus `json:"status"`
	StartTime  time.Time        `json:"startTime"`
	EndTime    *time.Time       `json:"endTime,omitempty"`
	Duration   int              `json:"duration"`
	EndReason  domain.EndReason `json:"endReason,omitempty"`
	Direction  string           `json:"direction,omitempty"`
}

func toCallDTO(s domain.CallSession, viewer domain.UserID) callDTO {
	dto := callDTO{
		CallID:     s.CallID.String(),
		CallerID:   s.CallerID.String(),
		ReceiverID: s.ReceiverID.String(),
		CallType:   s.CallType,
		Status:     s.Status,
		StartTime:  s.StartTime,
		Duration:   s.Duration,
		EndReason:  s.EndReason,
	}
	if !s.EndTime.IsZero() {
		t := s.EndTime
		dto.EndTime = &t
	}
	if viewer != "" {
		if s.CallerID == viewer {
			dto.Direction = "outgoing"
		} else {
			dto.Direction = "incoming"
		}
	}
	return dto
}

// GetCallHistory lists the user's calls, newest first, with paging and an
// optional voice/video filter.
func (h *Handler) GetCallHistory(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	var callType domain.CallType
	if t := r.URL.Query().Get("type"); t != "" && t != "all" {
		callType = domain.CallType(t)
		if !callType.Valid() {
			respondError(w, http.StatusBadRequest, "unknown call type")
			return
		}
	}

	calls, total, err := h.History.ListByUser(r.Context(), userID, callType, page, limit)
	if err != nil {
		log.Error().Err(err).Msg("call history query failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	dtos := make([]callDTO, 0, len(calls))
	for _, c := range calls {
		dtos = append(dtos, toCallDTO(c, userID))
	}
	totalPages := (total + limit - 1) / limit
	respondJSON(w, http.StatusOK, map[string]any{
		"calls":       dtos,
		"totalPages":  totalPages,
		"currentPage": page,
		"total":       total,
	})
}

// GetCallStats aggregates the user's calls over a day, week or month window.
func (h *Handler) GetCallStats(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "week"
	}
	since, ok := periodStart(time.Now(), period)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown period")
		return
	}

	stats, err := h.History.Stats(r.Context(), userID, since)
	if err != nil {
		log.Error().Err(err).Msg("call stats query failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"stats":  stats,
	})
}

func (h *Handler) GetActiveCalls(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))

	calls, err := h.History.Active(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Msg("active calls query failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	dtos := make([]callDTO, 0, len(calls))
	for _, c := range calls {
		dtos = append(dtos, toCallDTO(c, userID))
	}
	respondJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeleteCall(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))

	callID, err := domain.ParseCallID(chi.URLParam(r, "callID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed call id")
		return
	}

	switch err := h.History.Delete(r.Context(), callID, userID); err {
	case nil:
		respondJSON(w, http.StatusOK, map[string]string{"message": "call deleted"})
	case port.ErrRecordNotFound:
		respondError(w, http.StatusNotFound, "call not found")
	case port.ErrForbidden:
		respondError(w, http.StatusForbidden, "not a participant")
	default:
		log.Error().Err(err).Msg("call delete failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(auth.IdentityFrom(r.Context()))
	peerID := domain.UserID(chi.URLParam(r, "peerID"))
	limit := queryInt(r, "limit", 50)

	msgs, err := h.Chat.Conversation(r.Context(), userID, peerID, limit)
	if err != nil {
		log.Error().Err(err).Msg("conversation query failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	type messageDTO struct {
		ID        string    `json:"id"`
		SenderID  string    `json:"senderId"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}
	dtos := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		dtos = append(dtos, messageDTO{
			ID:        m.ID.String(),
			SenderID:  m.SenderID.String(),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, dtos)
}

// periodStart maps a stats period name onto its calendar start.
func periodStart(now time.Time, period string) (time.Time, bool) {
	switch period {
	case "day":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), true
	case "week":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return midnight.AddDate(0, 0, -int(now.Weekday())), true
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	}
	return time.Time{}, false
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encoding failed")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
