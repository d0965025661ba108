package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkSwift/internal/app/model"
	"github.com/sifan077/LinkSwift/internal/app/service"
	"github.com/sifan077/LinkSwift/internal/auth"
	"github.com/sifan077/LinkSwift/internal/http/middleware"
	httpUtil "github.com/sifan077/LinkSwift/internal/http/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubLinkService lets each test script the service outcome.
type stubLinkService struct {
	createFn    func(ctx context.Context, input service.CreateLinkInput) (*service.CreateLinkResult, error)
	checkFn     func(ctx context.Context, key string) (*service.LinkCheck, error)
	resolveFn   func(ctx context.Context, input service.ResolveInput) (*service.Resolution, error)
	privateFn   func(ctx context.Context, input service.ResolveInput) (*service.Resolution, error)
	protectedFn func(ctx context.Context, input service.ResolveInput) (*service.Resolution, error)
	handshakeFn func(ctx context.Context, input service.HandshakeInput) (*service.Resolution, error)
	listFn      func(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error)
	analyticsFn func(ctx context.Context, key, callerID string) (*model.Analytics, error)
	deleteFn    func(ctx context.Context, key, callerID string) error
}

var errNotScripted = errors.New("not scripted")

func (s *stubLinkService) CreateLink(ctx context.Context, input service.CreateLinkInput) (*service.CreateLinkResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, input)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) CheckLink(ctx context.Context, key string) (*service.LinkCheck, error) {
	if s.checkFn != nil {
		return s.checkFn(ctx, key)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) Resolve(ctx context.Context, input service.ResolveInput) (*service.Resolution, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, input)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) ResolvePrivate(ctx context.Context, input service.ResolveInput) (*service.Resolution, error) {
	if s.privateFn != nil {
		return s.privateFn(ctx, input)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) ResolveProtected(ctx context.Context, input service.ResolveInput) (*service.Resolution, error) {
	if s.protectedFn != nil {
		return s.protectedFn(ctx, input)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) VerifyHandshake(ctx context.Context, input service.HandshakeInput) (*service.Resolution, error) {
	if s.handshakeFn != nil {
		return s.handshakeFn(ctx, input)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) ListLinks(ctx context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
	if s.listFn != nil {
		return s.listFn(ctx, ownerID, limit, offset)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) GetAnalytics(ctx context.Context, key, callerID string) (*model.Analytics, error) {
	if s.analyticsFn != nil {
		return s.analyticsFn(ctx, key, callerID)
	}
	return nil, errNotScripted
}

func (s *stubLinkService) DeleteLink(ctx context.Context, key, callerID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, key, callerID)
	}
	return errNotScripted
}

var testVerifier = auth.NewVerifier([]byte("handler-secret"))

func newTestApp(svc service.LinkService, grants *httpUtil.GrantSigner) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Authenticate(testVerifier, zap.NewNop()))
	NewAPIHandler(APIDeps{LinkService: svc, BaseURL: "https://sho.rt/", LoginURL: "/login"}).Register(app)
	NewRedirectHandler(RedirectDeps{LinkService: svc, Grants: grants, LoginURL: "/login"}).Register(app)
	return app
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := testVerifier.Issue(userID, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind   service.Kind
		status int
	}{
		{service.KindInvalidInput, fiber.StatusBadRequest},
		{service.KindAuthRequired, fiber.StatusUnauthorized},
		{service.KindPasswordRequired, fiber.StatusUnauthorized},
		{service.KindInvalidPassword, fiber.StatusUnauthorized},
		{service.KindUnauthorized, fiber.StatusForbidden},
		{service.KindForbidden, fiber.StatusForbidden},
		{service.KindNotFound, fiber.StatusNotFound},
		{service.KindInternal, fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			svc := &stubLinkService{
				checkFn: func(context.Context, string) (*service.LinkCheck, error) {
					return nil, &service.Error{Kind: tt.kind, Message: "msg", Redirect: "/somewhere", Err: errors.New("db password leaked")}
				},
			}
			resp, err := newTestApp(svc, nil).Test(httptest.NewRequest(fiber.MethodGet, "/check/abc123", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			body := decodeBody(t, resp)
			assert.Equal(t, string(tt.kind), body["reason"])
			assert.Equal(t, "/somewhere", body["redirect"])
			if tt.kind == service.KindInternal {
				assert.Equal(t, "internal server error", body["error"])
			} else {
				assert.Equal(t, "msg", body["error"])
			}
		})
	}
}

func TestWriteError_UnclassifiedIsInternal(t *testing.T) {
	svc := &stubLinkService{}
	resp, err := newTestApp(svc, nil).Test(httptest.NewRequest(fiber.MethodGet, "/check/abc123", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal server error", decodeBody(t, resp)["error"])
}

func TestCreateLink_PassesRequest(t *testing.T) {
	var got service.CreateLinkInput
	svc := &stubLinkService{
		createFn: func(_ context.Context, input service.CreateLinkInput) (*service.CreateLinkResult, error) {
			got = input
			return &service.CreateLinkResult{
				Link:           &model.Link{Key: "abc123", ExpiresAt: time.Now().Add(time.Hour)},
				ShortURL:       "https://sho.rt/abc123",
				HandshakeToken: "tok",
			}, nil
		},
	}

	req := httptest.NewRequest(fiber.MethodPost, "/links", strings.NewReader(
		`{"url":" https://example.com ","nome":"promo","expira_em":3,"privado":true,"handshake":true}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, bearer(t, "alice"))

	resp, err := newTestApp(svc, nil).Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "https://sho.rt/abc123", body["url"])
	assert.Equal(t, "tok", body["token"])

	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, "promo", got.Name)
	assert.Equal(t, 3, got.ExpireInDays)
	assert.True(t, got.Private)
	require.NotNil(t, got.Handshake)
	assert.True(t, *got.Handshake)
	assert.Equal(t, "alice", got.CallerID)
}

func TestCreateLink_BadBody(t *testing.T) {
	app := newTestApp(&stubLinkService{}, nil)

	for name, payload := range map[string]string{
		"malformed json":   `{"url":`,
		"negative expiry":  `{"url":"https://example.com","expira_em":-4}`,
		"oversized name":   `{"url":"https://example.com","nome":"` + strings.Repeat("n", 121) + `"}`,
		"wrong field type": `{"url":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, "/links", strings.NewReader(payload))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid_input", decodeBody(t, resp)["reason"])
		})
	}
}

func TestResolve_PassesGrantFromCookie(t *testing.T) {
	grants := httpUtil.NewGrantSigner([]byte("grant"), time.Minute)
	var got service.ResolveInput
	svc := &stubLinkService{
		resolveFn: func(_ context.Context, input service.ResolveInput) (*service.Resolution, error) {
			got = input
			return &service.Resolution{Key: input.Key, URL: "https://example.com/dest"}, nil
		},
	}
	app := newTestApp(svc, grants)

	grant, err := grants.Issue("abc123")
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodGet, "/r/abc123", nil)
	req.Header.Set(fiber.HeaderCookie, httpUtil.GrantCookieName("abc123")+"="+grant)
	req.Header.Set(fiber.HeaderUserAgent, "test-agent")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/dest", resp.Header.Get(fiber.HeaderLocation))
	assert.True(t, got.Grant)
	assert.Equal(t, "abc123", got.Key)
	assert.Equal(t, "test-agent", got.UserAgent)

	// A grant for another key does not carry over.
	req = httptest.NewRequest(fiber.MethodGet, "/zzz999", nil)
	req.Header.Set(fiber.HeaderCookie, httpUtil.GrantCookieName("zzz999")+"="+grant)
	_, err = app.Test(req)
	require.NoError(t, err)
	assert.False(t, got.Grant)
}

func TestResolve_BrowserFollowsHint(t *testing.T) {
	svc := &stubLinkService{
		resolveFn: func(_ context.Context, input service.ResolveInput) (*service.Resolution, error) {
			return nil, &service.Error{Kind: service.KindPasswordRequired, Message: "password required", Redirect: "/password/" + input.Key}
		},
	}
	app := newTestApp(svc, nil)

	req := httptest.NewRequest(fiber.MethodGet, "/abc123", nil)
	req.Header.Set(fiber.HeaderAccept, "text/html,application/xhtml+xml")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/password/abc123", resp.Header.Get(fiber.HeaderLocation))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/abc123", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "password_required", body["reason"])
	assert.Equal(t, "/password/abc123", body["redirect"])
}

func TestVerifyHandshake_RequiresFields(t *testing.T) {
	app := newTestApp(&stubLinkService{}, nil)

	req := httptest.NewRequest(fiber.MethodPost, "/handshake/verify", strings.NewReader(`{"key":"abc123"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestListLinks_Pagination(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &stubLinkService{
		listFn: func(_ context.Context, ownerID string, limit, offset int) ([]model.Link, error) {
			gotLimit, gotOffset = limit, offset
			return []model.Link{{Key: "abc123", URL: "https://example.com", Access: model.AccessPassword}}, nil
		},
	}
	app := newTestApp(svc, nil)

	req := httptest.NewRequest(fiber.MethodGet, "/links?limit=500&offset=5", nil)
	req.Header.Set(fiber.HeaderAuthorization, bearer(t, "alice"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 20, gotLimit, "out of range limits fall back to the default")
	assert.Equal(t, 5, gotOffset)

	body := decodeBody(t, resp)
	links := body["links"].([]interface{})
	require.Len(t, links, 1)
	first := links[0].(map[string]interface{})
	assert.Equal(t, "https://sho.rt/abc123", first["shortUrl"])
	assert.Equal(t, true, first["senhaNecessaria"])
	assert.NotContains(t, first, "passwordHash")
}

func TestReady(t *testing.T) {
	app := fiber.New()
	NewRedirectHandler(RedirectDeps{
		LinkService: &stubLinkService{},
		Readiness: []ReadinessCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
		},
	}).Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "unavailable", checks["redis"])
}
