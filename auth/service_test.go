package auth

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/registration"
)

type fakeAPI struct {
	loginResp *backend.Response
	loginErr  error
	loginReq  backend.LoginRequest
	loginVar  registration.Variant

	logoutErr   error
	logoutCalls []registration.Variant

	meResp *backend.Response
	meErr  error
}

func (f *fakeAPI) Login(_ context.Context, v registration.Variant, req backend.LoginRequest) (*backend.Response, error) {
	f.loginVar = v
	f.loginReq = req
	return f.loginResp, f.loginErr
}

func (f *fakeAPI) Logout(_ context.Context, v registration.Variant) (*backend.Response, error) {
	f.logoutCalls = append(f.logoutCalls, v)
	if f.logoutErr != nil {
		return nil, f.logoutErr
	}
	return &backend.Response{StatusCode: 200}, nil
}

func (f *fakeAPI) Me(_ context.Context, _ registration.Variant) (*backend.Response, error) {
	return f.meResp, f.meErr
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "64f0c0ffee",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func statusErr(status int, body map[string]any) (*backend.Response, error) {
	resp := &backend.Response{StatusCode: status, Body: body}
	if s, _ := body["error"].(string); s != "" {
		resp.Message = s
	}
	return resp, &backend.StatusError{Call: "login", Response: resp}
}

func TestValidateCredentials(t *testing.T) {
	err := ValidateCredentials(Credentials{Email: "not-an-email", Password: "short"})
	require.ErrorIs(t, err, registration.ErrInvalid)
	fields := registration.FieldErrors(err)
	assert.Equal(t, MsgInvalidEmail, fields[registration.FieldEmail])
	assert.Equal(t, MsgShortPassword, fields[registration.FieldPassword])

	assert.NoError(t, ValidateCredentials(Credentials{Email: "a@b.co", Password: "12345678"}))
}

func TestLogin_StoresSession(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)
	api := &fakeAPI{loginResp: &backend.Response{StatusCode: 200, Body: map[string]any{
		"token": token,
		"user":  map[string]any{"_id": "64f0c0ffee", "FullName": "Sita Sharma"},
	}}}
	store := NewMemoryStore()
	svc := NewService(api, store)

	lat, lon := 27.717, 85.324
	sess, err := svc.Login(context.Background(), registration.VariantProvider, Credentials{
		Email: "sita@example.com", Password: "Secret#123", Latitude: &lat, Longitude: &lon,
	})
	require.NoError(t, err)

	assert.Equal(t, registration.VariantProvider, api.loginVar)
	assert.Equal(t, "sita@example.com", api.loginReq.Email)
	require.NotNil(t, api.loginReq.Latitude)
	assert.InDelta(t, 27.717, *api.loginReq.Latitude, 1e-9)

	assert.Equal(t, token, sess.Token)
	assert.Equal(t, "Sita Sharma", sess.User.Name)
	assert.Equal(t, "64f0c0ffee", sess.User.ID)
	assert.True(t, exp.Equal(sess.ExpiresAt))
	assert.False(t, sess.Expired(time.Now()))
	assert.Equal(t, "64f0c0ffee", sess.Claims["sub"])

	ctx := context.Background()
	role, err := store.Get(ctx, KeyRole)
	require.NoError(t, err)
	assert.Equal(t, "provider", role)

	raw, err := store.Get(ctx, KeyUserData)
	require.NoError(t, err)
	var data UserData
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	assert.Equal(t, UserData{ID: "64f0c0ffee", Name: "Sita Sharma", Email: "sita@example.com", Role: "provider"}, data)
}

func TestLogin_NameFallsBackToEmail(t *testing.T) {
	api := &fakeAPI{loginResp: &backend.Response{StatusCode: 200, Body: map[string]any{"token": "opaque"}}}
	svc := NewService(api, NewMemoryStore())

	sess, err := svc.Login(context.Background(), registration.VariantCustomer, Credentials{
		Email: "anish@example.com", Password: "Secret#123",
	})
	require.NoError(t, err)
	assert.Equal(t, "anish", sess.User.Name)
	assert.Nil(t, api.loginReq.Latitude)
	assert.Nil(t, sess.Claims, "an opaque token has no readable claims")
	assert.True(t, sess.ExpiresAt.IsZero())
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name   string
		call   func() (*backend.Response, error)
		want   string
		status int
	}{
		{
			name:   "400 with backend error",
			call:   func() (*backend.Response, error) { return statusErr(400, map[string]any{"error": "Wrong password"}) },
			want:   "Wrong password",
			status: 400,
		},
		{
			name:   "400 without body",
			call:   func() (*backend.Response, error) { return statusErr(400, nil) },
			want:   MsgInvalidCredentials,
			status: 400,
		},
		{
			name:   "403",
			call:   func() (*backend.Response, error) { return statusErr(403, nil) },
			want:   MsgNotVerified,
			status: 403,
		},
		{
			name:   "404",
			call:   func() (*backend.Response, error) { return statusErr(404, nil) },
			want:   MsgUserNotFound,
			status: 404,
		},
		{
			name:   "500",
			call:   func() (*backend.Response, error) { return statusErr(500, map[string]any{"error": "db down"}) },
			want:   MsgLoginFailed,
			status: 500,
		},
		{
			name: "network",
			call: func() (*backend.Response, error) {
				return nil, backend.NewNetworkError(errors.New("connection refused"))
			},
			want: MsgLoginFailed,
		},
		{
			name: "2xx without token",
			call: func() (*backend.Response, error) { return &backend.Response{StatusCode: 200}, nil },
			want: MsgLoginFailed, status: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.call()
			store := NewMemoryStore()
			svc := NewService(&fakeAPI{loginResp: resp, loginErr: err}, store)

			_, err = svc.Login(context.Background(), registration.VariantCustomer, Credentials{
				Email: "anish@example.com", Password: "Secret#123",
			})
			var le *LoginError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.want, le.Message)
			assert.Equal(t, tt.status, le.StatusCode)

			_, getErr := store.Get(context.Background(), KeyToken)
			assert.ErrorIs(t, getErr, ErrNotFound)
		})
	}
}

func TestLogin_InvalidCredentialsSkipBackend(t *testing.T) {
	api := &fakeAPI{}
	svc := NewService(api, NewMemoryStore())
	_, err := svc.Login(context.Background(), registration.VariantCustomer, Credentials{Email: "x", Password: "y"})
	assert.ErrorIs(t, err, registration.ErrInvalid)
	assert.Empty(t, api.loginReq.Email)
}

func TestLogout_ClearsEvenWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeyToken, "t"))
	require.NoError(t, store.Set(ctx, KeyRole, "provider"))
	require.NoError(t, store.Set(ctx, KeyUserData, "{}"))

	api := &fakeAPI{logoutErr: backend.NewNetworkError(errors.New("down"))}
	svc := NewService(api, store)

	require.NoError(t, svc.Logout(ctx))
	assert.Equal(t, []registration.Variant{registration.VariantProvider}, api.logoutCalls)
	for _, key := range sessionKeys {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound, key)
	}

	_, err := svc.Current(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLogout_WithoutSessionSkipsBackend(t *testing.T) {
	api := &fakeAPI{}
	require.NoError(t, NewService(api, NewMemoryStore()).Logout(context.Background()))
	assert.Empty(t, api.logoutCalls)
}

func TestWhoami(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeyToken, "opaque"))
	require.NoError(t, store.Set(ctx, KeyUserData, `{"name":"Anish","email":"anish@example.com","role":"customer"}`))

	api := &fakeAPI{meResp: &backend.Response{StatusCode: 200, Body: map[string]any{
		"user": map[string]any{"FullName": "Anish Thapa"},
	}}}
	sess, profile, err := NewService(api, store).Whoami(ctx)
	require.NoError(t, err)
	assert.Equal(t, registration.VariantCustomer, sess.Role)
	assert.Equal(t, "Anish", sess.User.Name)
	assert.Equal(t, "Anish Thapa", profile["FullName"])
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(&fakeAPI{}, store)

	tok, err := svc.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, store.Set(ctx, KeyToken, "bearer-me"))
	tok, err = svc.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bearer-me", tok)

	var _ backend.TokenSource = svc
	var _ backend.TokenSource = StoreTokenSource{Store: store}
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("anish@example.com"))
	assert.Equal(t, "***", MaskEmail("nope"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
}
