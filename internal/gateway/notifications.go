package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/normalize"
)

type Notifications struct {
	client *Client
}

func NewNotifications(c *Client) *Notifications {
	return &Notifications{client: c}
}

func (n *Notifications) List(ctx context.Context) ([]domain.Notification, error) {
	raw, err := n.client.do(ctx, http.MethodGet, "/notifications", nil, nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeList[domain.Notification](unwrap(raw, "notifications"))
}

func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	raw, err := n.client.do(ctx, http.MethodGet, "/notifications/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	var body struct {
		Count       *int `json:"count"`
		UnreadCount *int `json:"unreadCount"`
	}
	if err := json.Unmarshal(unwrap(raw), &body); err != nil {
		return 0, fmt.Errorf("decode unread count: %w", err)
	}
	switch {
	case body.Count != nil:
		return *body.Count, nil
	case body.UnreadCount != nil:
		return *body.UnreadCount, nil
	}
	return 0, fmt.Errorf("decode unread count: missing count")
}

func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	_, err := n.client.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
	return err
}

func (n *Notifications) MarkAllRead(ctx context.Context) error {
	_, err := n.client.do(ctx, http.MethodPatch, "/notifications/read-all", nil, nil)
	return err
}

func (n *Notifications) Delete(ctx context.Context, id string) error {
	_, err := n.client.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
	return err
}

func (n *Notifications) DeleteAll(ctx context.Context) error {
	_, err := n.client.do(ctx, http.MethodDelete, "/notifications", nil, nil)
	return err
}
