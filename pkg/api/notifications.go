package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type Notification struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Summary   map[string]string `json:"summary"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (c *Client) Notifications(ctx context.Context, page, perPage int) ([]Notification, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("perPage", strconv.Itoa(perPage))
	}
	var res []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", q, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) UnreadNotifications(ctx context.Context) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-counter", nil, nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) MarkNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil, nil)
}
