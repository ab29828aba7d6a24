package api

import (
	"context"
	"net/http"
	"net/url"
)

type Contact struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	User     struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	} `json:"user"`
}

// Contacts lists the address book of the session workspace, or of a single
// user when includePersonal is set.
func (c *Client) Contacts(ctx context.Context, includePersonal bool) ([]Contact, error) {
	q := url.Values{}
	if includePersonal {
		q.Set("includePersonal", "true")
	}
	var res []Contact
	if err := c.do(ctx, http.MethodGet, "/address-book", q, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Nicknames indexes contacts by address for labelling history steps.
func Nicknames(contacts []Contact) map[string]string {
	res := make(map[string]string, len(contacts))
	for _, ct := range contacts {
		if ct.User.Address != "" {
			res[ct.User.Address] = ct.Nickname
		}
	}
	return res
}
