package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
)

type identityKey struct{}

// requireIdentity reads the caller from the identity headers set by the
// authenticating proxy in front of the relay.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		id := r.Header.Get(headerUserID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + headerUserID})
			return
		}
		user := domain.Participant{ID: domain.UserID(id), Name: r.Header.Get(headerUserName)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, user)))
	})
}

func identity(r *http.Request) domain.Participant {
	user, _ := r.Context().Value(identityKey{}).(domain.Participant)
	return user
}

type channelRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type startResponse struct {
	Success        bool             `json:"success"`
	ChannelID      domain.ChannelID `json:"channelId"`
	InitiatorID    domain.UserID    `json:"initiatorId"`
	ParticipantIDs []domain.UserID  `json:"participantIds"`
}

type statusResponse struct {
	Active         bool                 `json:"active"`
	ChannelID      domain.ChannelID     `json:"channelId"`
	ChannelName    string               `json:"channelName,omitempty"`
	InitiatorID    domain.UserID        `json:"initiatorId,omitempty"`
	InitiatorName  string               `json:"initiatorName,omitempty"`
	ParticipantIDs []domain.UserID      `json:"participantIds,omitempty"`
	Participants   []domain.Participant `json:"participants,omitempty"`
}

type joinResponse struct {
	Success        bool                 `json:"success"`
	ChannelID      domain.ChannelID     `json:"channelId"`
	ParticipantIDs []domain.UserID      `json:"participantIds"`
	Participants   []domain.Participant `json:"participants"`
}

type leaveResponse struct {
	Success   bool             `json:"success"`
	ChannelID domain.ChannelID `json:"channelId"`
}

func decodeChannel(r *http.Request) (domain.ChannelID, error) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.Wrap(domain.ErrBadRequest, "invalid body")
	}
	if req.ChannelID == "" {
		return "", errors.Wrap(domain.ErrBadRequest, "channelId is required")
	}
	return req.ChannelID, nil
}

func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	channelID, err := decodeChannel(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	call, err := h.CallService.StartCall(r.Context(), identity(r), channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		Success:        true,
		ChannelID:      call.ChannelID,
		InitiatorID:    call.InitiatorID,
		ParticipantIDs: call.ParticipantIDs(),
	})
}

func (h *Handler) CallStatus(w http.ResponseWriter, r *http.Request) {
	channelID := domain.ChannelID(chi.URLParam(r, "channelID"))
	call, err := h.CallService.Status(r.Context(), identity(r).ID, channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if call == nil {
		writeJSON(w, http.StatusOK, statusResponse{ChannelID: channelID})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Active:         true,
		ChannelID:      call.ChannelID,
		ChannelName:    call.ChannelName,
		InitiatorID:    call.InitiatorID,
		InitiatorName:  call.InitiatorName,
		ParticipantIDs: call.ParticipantIDs(),
		Participants:   call.Participants,
	})
}

func (h *Handler) JoinCall(w http.ResponseWriter, r *http.Request) {
	channelID, err := decodeChannel(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	call, err := h.CallService.JoinCall(r.Context(), identity(r), channelID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, joinResponse{
		Success:        true,
		ChannelID:      call.ChannelID,
		ParticipantIDs: call.ParticipantIDs(),
		Participants:   call.Participants,
	})
}

func (h *Handler) LeaveCall(w http.ResponseWriter, r *http.Request) {
	channelID, err := decodeChannel(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.CallService.LeaveCall(r.Context(), identity(r).ID, channelID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaveResponse{Success: true, ChannelID: channelID})
}
