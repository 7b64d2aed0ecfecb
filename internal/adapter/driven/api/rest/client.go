package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Client implements port.CallAPI against the relay's REST routes.
type Client struct {
	baseURL string
	self    domain.Participant
	http    *http.Client
}

func NewClient(baseURL string, self domain.Participant, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/call/group",
		self:    self,
		http:    httpClient,
	}
}

type channelRequest struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type statusResponse struct {
	Active         bool                 `json:"active"`
	ChannelID      domain.ChannelID     `json:"channelId"`
	ChannelName    string               `json:"channelName"`
	InitiatorID    domain.UserID        `json:"initiatorId"`
	InitiatorName  string               `json:"initiatorName"`
	ParticipantIDs []domain.UserID      `json:"participantIds"`
	Participants   []domain.Participant `json:"participants"`
}

type joinResponse struct {
	ParticipantIDs []domain.UserID      `json:"participantIds"`
	Participants   []domain.Participant `json:"participants"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) StartCall(ctx context.Context, channelID domain.ChannelID) error {
	return c.do(ctx, http.MethodPost, "/start", channelRequest{ChannelID: channelID}, nil)
}

func (c *Client) GetCallStatus(ctx context.Context, channelID domain.ChannelID) (*port.CallStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(channelID.String()), nil, &resp); err != nil {
		return nil, err
	}
	if resp.ChannelID == "" {
		resp.ChannelID = channelID
	}
	return &port.CallStatus{
		Active:         resp.Active,
		ChannelID:      resp.ChannelID,
		ChannelName:    resp.ChannelName,
		InitiatorID:    resp.InitiatorID,
		InitiatorName:  resp.InitiatorName,
		ParticipantIDs: resp.ParticipantIDs,
		Participants:   resp.Participants,
	}, nil
}

func (c *Client) JoinCall(ctx context.Context, channelID domain.ChannelID) (*port.JoinResult, error) {
	var resp joinResponse
	if err := c.do(ctx, http.MethodPost, "/join", channelRequest{ChannelID: channelID}, &resp); err != nil {
		return nil, err
	}
	return &port.JoinResult{ParticipantIDs: resp.ParticipantIDs, Participants: resp.Participants}, nil
}

func (c *Client) LeaveCall(ctx context.Context, channelID domain.ChannelID) error {
	return c.do(ctx, http.MethodPost, "/leave", channelRequest{ChannelID: channelID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", c.self.ID.String())
	if c.self.Name != "" {
		req.Header.Set("X-User-Name", c.self.Name)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("%s %s", method, path)
		}
		return &domain.APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}
