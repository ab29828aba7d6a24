package session

import (
	"context"

	"github.com/GwanWingYan/vaultsign/pkg/wallet"
	"github.com/pkg/errors"
)

type Encoder string

const (
	EncoderFuel     Encoder = "FUEL"
	EncoderMetamask Encoder = "METAMASK"
	EncoderWebAuthn Encoder = "WEB_AUTHN"
)

type SignInCode struct {
	ID   string      `json:"id"`
	Code string      `json:"code"`
	Type AccountType `json:"type"`
}

type SignInRequest struct {
	Encoder   Encoder `json:"encoder"`
	Signature string  `json:"signature"`
	Digest    string  `json:"digest"`
}

type Workspace struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Single      bool        `json:"single"`
	Permissions Permissions `json:"permissions"`
}

type SignInResponse struct {
	AccessToken string    `json:"accessToken"`
	Address     string    `json:"address"`
	Avatar      string    `json:"avatar"`
	UserID      string    `json:"user_id"`
	Workspace   Workspace `json:"workspace"`
	FirstLogin  bool      `json:"firstLogin"`
	WebAuthn    *WebAuthn `json:"webAuthn,omitempty"`
}

// AuthService is the sign-in surface of the backend. SignIn returns
// ErrInvalidSignature for any answer other than success.
type AuthService interface {
	GenerateSignInCode(ctx context.Context, address string) (*SignInCode, error)
	SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error)
}

// Authenticator runs the challenge sign-in: fetch a code for the address,
// have the wallet sign it, and exchange the signature for a token.
type Authenticator struct {
	Service AuthService
	Signer  wallet.MessageSigner
	Store   *Store
}

func (a *Authenticator) SignIn(ctx context.Context, address string, enc Encoder) (*Session, error) {
	code, err := a.Service.GenerateSignInCode(ctx, address)
	if err != nil {
		return nil, errors.Wrapf(err, "error generating sign-in code for %s", address)
	}
	signature, err := a.Signer.SignMessage(ctx, address, code.Code)
	if err != nil {
		return nil, errors.Wrapf(err, "error signing sign-in code for %s", address)
	}
	resp, err := a.Service.SignIn(ctx, SignInRequest{Encoder: enc, Signature: signature, Digest: code.Code})
	if err != nil {
		return nil, err
	}

	accountType := AccountFuel
	if enc == EncoderWebAuthn {
		accountType = AccountWebAuthn
	}
	account := resp.Address
	if account == "" {
		account = address
	}
	if err := a.Store.Authenticate(AuthenticateParams{
		UserID:          resp.UserID,
		Avatar:          resp.Avatar,
		Account:         account,
		AccountType:     accountType,
		AccessToken:     resp.AccessToken,
		Permissions:     resp.Workspace.Permissions,
		SingleWorkspace: resp.Workspace.ID,
		WebAuthn:        resp.WebAuthn,
	}); err != nil {
		return nil, err
	}
	return a.Store.Current()
}
