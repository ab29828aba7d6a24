package api

import (
	"context"
	"net/http"

	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/pkg/errors"
)

var _ session.AuthService = (*Client)(nil)

type WebAuthnCredential struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Origin    string `json:"origin"`
	Hardware  string `json:"hardware,omitempty"`
}

type CreateUserRequest struct {
	Name     string              `json:"name,omitempty"`
	Address  string              `json:"address"`
	Provider string              `json:"provider"`
	Type     session.AccountType `json:"type"`
	WebAuthn *WebAuthnCredential `json:"webauthn,omitempty"`
}

type User struct {
	ID       string              `json:"id"`
	Address  string              `json:"address"`
	Name     string              `json:"name"`
	Avatar   string              `json:"avatar,omitempty"`
	Provider string              `json:"provider,omitempty"`
	Type     session.AccountType `json:"type"`
	WebAuthn *WebAuthnCredential `json:"webauthn,omitempty"`
}

type UserInfo struct {
	User
	OnSingleWorkspace bool              `json:"onSingleWorkspace"`
	FirstLogin        bool              `json:"firstLogin"`
	Workspace         session.Workspace `json:"workspace"`
}

func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*session.SignInCode, error) {
	var res session.SignInCode
	if err := c.do(ctx, http.MethodPost, "/user", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GenerateSignInCode(ctx context.Context, address string) (*session.SignInCode, error) {
	var res session.SignInCode
	if err := c.do(ctx, http.MethodPost, "/auth/code/"+escape(address), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SignIn exchanges a signed challenge for an access token. Any answer other
// than 200 means the signature was not accepted.
func (c *Client) SignIn(ctx context.Context, req session.SignInRequest) (*session.SignInResponse, error) {
	var res session.SignInResponse
	code, err := c.call(ctx, http.MethodPost, "/auth/sign-in", nil, req, &res)
	if code != 0 && code != http.StatusOK {
		return nil, errors.Wrapf(session.ErrInvalidSignature, "sign-in answered %d", code)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	var res UserInfo
	if err := c.do(ctx, http.MethodGet, "/user/latest/info", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Nickname looks a user up by nickname. An unknown nickname yields nil.
func (c *Client) Nickname(ctx context.Context, nickname string) (*User, error) {
	if nickname == "" {
		return nil, nil
	}
	var res User
	err := c.do(ctx, http.MethodGet, "/user/nickname/"+escape(nickname), nil, nil, &res)
	if StatusCode(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if res.ID == "" {
		return nil, nil
	}
	return &res, nil
}

func (c *Client) UsersByHardware(ctx context.Context, hardwareID string) ([]User, error) {
	var res []User
	if err := c.do(ctx, http.MethodGet, "/user/by-hardware/"+escape(hardwareID), nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) SelectNetwork(ctx context.Context, networkURL string) (bool, error) {
	var ok bool
	err := c.do(ctx, http.MethodPost, "/user/select-network/", nil, map[string]string{"network": networkURL}, &ok)
	return ok, err
}
