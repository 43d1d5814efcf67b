package gateway

import (
	"context"
	"net/http"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/normalize"
)

type Auth struct {
	client *Client
}

func NewAuth(c *Client) *Auth {
	return &Auth{client: c}
}

func (a *Auth) Login(ctx context.Context, email, password string) (domain.LoginResponse, error) {
	raw, err := a.client.send(ctx, http.MethodPost, "/auth/login", nil, domain.LoginRequest{Email: email, Password: password}, false)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return normalize.Decode[domain.LoginResponse](unwrap(raw))
}
