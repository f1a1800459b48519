package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	var query url.Values
	if unreadOnly {
		query = url.Values{"is_read": {"false"}}
	}
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "notifications/", Query: query})
	if err != nil {
		return nil, err
	}
	notifications, err := decodeList[Notification](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return notifications, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("notifications/%d/read/", id), nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodPost, "notifications/mark-all-read/", nil, nil)
}
