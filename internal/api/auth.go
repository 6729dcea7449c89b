package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/models"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type TelegramRequest struct {
	InitData string `json:"initData" validate:"required"`
}

type authResponse struct {
	OK      bool               `json:"ok"`
	User    models.UserSummary `json:"user"`
	Token   string             `json:"token"`
	Message string             `json:"message"`
}

func (r authResponse) session(op string) (models.Session, error) {
	if !r.OK || r.Token == "" || r.User.ID == "" {
		msg := r.Message
		if msg == "" {
			msg = "incomplete auth response"
		}
		return models.Session{}, errs.E(errs.Auth, op, errors.New(msg))
	}
	return models.Session{User: r.User, Token: r.Token}, nil
}

func (c *Client) authenticate(ctx context.Context, op, path string, body any) (models.Session, error) {
	if err := Validate(body); err != nil {
		return models.Session{}, err
	}
	var out authResponse
	if err := c.do(ctx, op, http.MethodPost, path, "", body, &out); err != nil {
		// a rejected password is an auth failure, not a form error
		if errs.Is(err, errs.Validation) && path == "/auth/login" {
			return models.Session{}, errs.E(errs.Auth, op, err)
		}
		return models.Session{}, err
	}
	return out.session(op)
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (models.Session, error) {
	return c.authenticate(ctx, "api.register", "/auth/register", req)
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (models.Session, error) {
	return c.authenticate(ctx, "api.login", "/auth/login", req)
}

// TelegramLogin exchanges Mini-App init data for a session.
func (c *Client) TelegramLogin(ctx context.Context, initData string) (models.Session, error) {
	s, err := c.authenticate(ctx, "api.telegram", "/auth/telegram", TelegramRequest{InitData: initData})
	if errs.Is(err, errs.Validation) {
		return models.Session{}, errs.E(errs.Auth, "api.telegram", err)
	}
	return s, err
}

// TelegramReauth re-authenticates with fixed init data. It satisfies
// session.Reauthenticator.
type TelegramReauth struct {
	Client   *Client
	InitData string
}

func (t TelegramReauth) Reauthenticate(ctx context.Context) (models.Session, error) {
	if t.InitData == "" {
		return models.Session{}, errs.Msg(errs.Auth, "api.telegram", "no telegram init data")
	}
	return t.Client.TelegramLogin(ctx, t.InitData)
}
