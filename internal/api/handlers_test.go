package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/config"
	"github.com/onpardev/mymcp/api/internal/models"
	"github.com/onpardev/mymcp/api/internal/services/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const internalToken = "internal-secret"

type stubAuth struct {
	user *models.User
}

func (s stubAuth) Authenticate(_ context.Context, token string) (*models.User, error) {
	if token != "good" {
		return nil, fmt.Errorf("%w: bad token", models.ErrUnauthorized)
	}
	return s.user, nil
}

type stubServers struct {
	servers      map[uuid.UUID]*models.ServerInstance
	provisionErr error
	stopErr      error
	startErr     error
	lastKey      string
	lastToken    string
}

func (s *stubServers) ProvisionServer(_ context.Context, userID uuid.UUID, req *models.CreateServerRequest) (*models.ServerInstance, error) {
	s.lastKey = req.IdempotencyKey
	if s.provisionErr != nil {
		return nil, s.provisionErr
	}
	server := &models.ServerInstance{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       req.Name,
		ServerType: req.ServerType,
		Status:     models.ServerStatusStarting,
	}
	s.servers[server.ID] = server
	return server, nil
}

func (s *stubServers) owned(userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	server, ok := s.servers[serverID]
	if !ok || server.UserID != userID {
		return nil, fmt.Errorf("server %s: %w", serverID, models.ErrNotFound)
	}
	return server, nil
}

func (s *stubServers) StopServer(_ context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	if s.stopErr != nil {
		return nil, s.stopErr
	}
	server, err := s.owned(userID, serverID)
	if err != nil {
		return nil, err
	}
	server.Status = models.ServerStatusStopped
	return server, nil
}

func (s *stubServers) StartServer(_ context.Context, userID, serverID uuid.UUID, req *models.StartServerRequest) (*models.ServerInstance, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.lastToken = req.Token
	if s.startErr != nil {
		return nil, s.startErr
	}
	server, err := s.owned(userID, serverID)
	if err != nil {
		return nil, err
	}
	if server.Status != models.ServerStatusStopped {
		return nil, fmt.Errorf("%w: server is %s", models.ErrConflict, server.Status)
	}
	server.Status = models.ServerStatusRunning
	return server, nil
}

func (s *stubServers) UpdateServer(_ context.Context, userID, serverID uuid.UUID, req *models.UpdateServerRequest) (*models.ServerInstance, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	server, err := s.owned(userID, serverID)
	if err != nil {
		return nil, err
	}
	req.Apply(server)
	return server, nil
}

func (s *stubServers) GetServerHealth(_ context.Context, userID, serverID uuid.UUID) (*models.ServerHealthResponse, error) {
	server, err := s.owned(userID, serverID)
	if err != nil {
		return nil, err
	}
	return &models.ServerHealthResponse{
		IsHealthy: server.Status == models.ServerStatusRunning,
		Status:    server.Status,
	}, nil
}

func (s *stubServers) DeleteServer(_ context.Context, userID, serverID uuid.UUID) error {
	if _, err := s.owned(userID, serverID); err != nil {
		return err
	}
	delete(s.servers, serverID)
	return nil
}

func (s *stubServers) ListServers(_ context.Context, userID uuid.UUID) (*models.ServerListResponse, error) {
	list := []models.ServerInstance{}
	for _, server := range s.servers {
		if server.UserID == userID {
			list = append(list, *server)
		}
	}
	return &models.ServerListResponse{Servers: list, Total: len(list)}, nil
}

func (s *stubServers) GetServer(_ context.Context, userID, serverID uuid.UUID) (*models.ServerInstance, error) {
	return s.owned(userID, serverID)
}

func (s *stubServers) FindServer(_ context.Context, serverID uuid.UUID) (*models.ServerInstance, error) {
	server, ok := s.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", serverID, models.ErrNotFound)
	}
	return server, nil
}

type stubSubscriptions struct {
	current *models.SubscriptionResponse
	updated map[uuid.UUID]models.SubscriptionStatus
}

func (s *stubSubscriptions) Current(context.Context, uuid.UUID) (*models.SubscriptionResponse, error) {
	if s.current == nil {
		return nil, fmt.Errorf("subscription: %w", models.ErrNotFound)
	}
	return s.current, nil
}

func (s *stubSubscriptions) UpdateStatus(_ context.Context, id uuid.UUID, status models.SubscriptionStatus) (*models.Subscription, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	s.updated[id] = status
	return &models.Subscription{ID: id, Status: status, Plan: models.Plan{Tier: models.PlanTierFree, Cycle: models.BillingCycleMonthly}}, nil
}

func (s *stubSubscriptions) ListPlans(context.Context) ([]models.PlanResponse, error) {
	free, err := models.LookupPlanType(models.PlanTierFree)
	if err != nil {
		return nil, err
	}
	return []models.PlanResponse{free.ToResponse()}, nil
}

type stubUsage struct {
	counts map[uuid.UUID]int
	limit  int
}

func (s *stubUsage) CurrentUsage(_ context.Context, userID uuid.UUID) (*models.UsageResponse, error) {
	return &models.UsageResponse{RequestCount: s.counts[userID]}, nil
}

func (s *stubUsage) ChargeRequest(_ context.Context, userID, _ uuid.UUID, _, _ string) (*models.UserUsage, error) {
	if s.counts[userID] >= s.limit {
		return nil, fmt.Errorf("%w: monthly request limit reached", models.ErrQuotaExceeded)
	}
	s.counts[userID]++
	return &models.UserUsage{UserID: userID, RequestCount: s.counts[userID]}, nil
}

type stubAdmin struct {
	users map[uuid.UUID]*models.User
}

func (s *stubAdmin) ListUsers(context.Context) (*models.UserListResponse, error) {
	list := []models.UserSummary{}
	for _, u := range s.users {
		list = append(list, models.UserSummary{User: *u})
	}
	return &models.UserListResponse{Users: list, Total: len(list)}, nil
}

func (s *stubAdmin) SetRole(_ context.Context, actorID, userID uuid.UUID, role models.UserRole) (*models.User, error) {
	if actorID == userID {
		return nil, fmt.Errorf("%w: admins cannot demote themselves", models.ErrConflict)
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	u.Role = role
	return u, nil
}

type stubDB struct {
	err error
}

func (s stubDB) Ping(context.Context) error { return s.err }

type fixture struct {
	router  *gin.Engine
	user    *models.User
	servers *stubServers
	subs    *stubSubscriptions
	usage   *stubUsage
	admin   *stubAdmin
	hub     *broadcast.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		user:    &models.User{ID: uuid.New(), Email: "dev@example.com"},
		servers: &stubServers{servers: map[uuid.UUID]*models.ServerInstance{}},
		subs:    &stubSubscriptions{updated: map[uuid.UUID]models.SubscriptionStatus{}},
		usage:   &stubUsage{counts: map[uuid.UUID]int{}, limit: 100},
		admin:   &stubAdmin{users: map[uuid.UUID]*models.User{}},
		hub:     broadcast.NewHub(zap.NewNop()),
	}
	t.Cleanup(f.hub.Close)

	cfg := &config.Config{InternalAPIToken: internalToken}
	h := NewHandlers(cfg, Services{
		Auth:          stubAuth{user: f.user},
		Servers:       f.servers,
		Subscriptions: f.subs,
		Usage:         f.usage,
		Admin:         f.admin,
		Events:        f.hub,
		Database:      stubDB{},
	}, zap.NewNop())

	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer good")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) addServer(owner uuid.UUID, status models.ServerStatus) *models.ServerInstance {
	server := &models.ServerInstance{ID: uuid.New(), UserID: owner, Name: "srv", ServerType: "filesystem", Status: status}
	f.servers.servers[server.ID] = server
	return server
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	cfg := &config.Config{}
	h := NewHandlers(cfg, Services{Database: stubDB{err: errors.New("connection refused")}}, zap.NewNop())
	r := gin.New()
	r.GET("/health", h.Health)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreateServer(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/servers", `{"name":"files","server_type":"filesystem"}`, "Idempotency-Key", " abc ")
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "files", body["name"])
	assert.Equal(t, "starting", body["status"])
	assert.Equal(t, "abc", f.servers.lastKey)
}

func TestCreateServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"name":`, nil, http.StatusBadRequest},
		{"validation", `{"name":"x","server_type":"nope"}`, fmt.Errorf("%w: unknown server type", models.ErrValidation), http.StatusBadRequest},
		{"quota", `{"name":"x","server_type":"filesystem"}`, fmt.Errorf("%w: server limit reached", models.ErrQuotaExceeded), http.StatusForbidden},
		{"orchestrator", `{"name":"x","server_type":"filesystem"}`, fmt.Errorf("%w: timeout", models.ErrOrchestrator), http.StatusBadGateway},
		{"internal", `{"name":"x","server_type":"filesystem"}`, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.servers.provisionErr = tt.err
			w := f.do(http.MethodPost, "/api/v1/servers", tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestOrchestratorErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.servers.provisionErr = fmt.Errorf("%w: connection reset", models.ErrOrchestrator)

	w := f.do(http.MethodPost, "/api/v1/servers", `{"name":"x","server_type":"filesystem"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, true, decode(t, w)["retryable"])
}

func TestInternalErrorIsHidden(t *testing.T) {
	f := newFixture(t)
	f.servers.provisionErr = errors.New("pq: password authentication failed")

	w := f.do(http.MethodPost, "/api/v1/servers", `{"name":"x","server_type":"filesystem"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["error"])
}

func TestServerRoutes(t *testing.T) {
	f := newFixture(t)
	mine := f.addServer(f.user.ID, models.ServerStatusRunning)
	theirs := f.addServer(uuid.New(), models.ServerStatusRunning)

	w := f.do(http.MethodGet, "/api/v1/servers", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = f.do(http.MethodGet, "/api/v1/servers/"+mine.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/servers/"+theirs.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/servers/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid server ID", decode(t, w)["error"])

	w = f.do(http.MethodGet, "/api/v1/servers/"+mine.ID.String()+"/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_healthy"])

	w = f.do(http.MethodPost, "/api/v1/servers/"+mine.ID.String()+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stopped", decode(t, w)["status"])

	w = f.do(http.MethodDelete, "/api/v1/servers/"+mine.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/servers/"+mine.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartServerRoute(t *testing.T) {
	f := newFixture(t)
	stopped := f.addServer(f.user.ID, models.ServerStatusStopped)
	failed := f.addServer(f.user.ID, models.ServerStatusFailed)
	theirs := f.addServer(uuid.New(), models.ServerStatusStopped)
	body := `{"token":"ghp_new"}`

	w := f.do(http.MethodPost, "/api/v1/servers/"+stopped.ID.String()+"/start", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode(t, w)["status"])
	assert.Equal(t, "ghp_new", f.servers.lastToken)

	w = f.do(http.MethodPost, "/api/v1/servers/"+failed.ID.String()+"/start", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/api/v1/servers/"+theirs.ID.String()+"/start", body)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/v1/servers/"+stopped.ID.String()+"/start", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/servers/"+stopped.ID.String()+"/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a token is required")

	stopped.Status = models.ServerStatusStopped
	f.servers.startErr = fmt.Errorf("%w: server limit reached", models.ErrQuotaExceeded)
	w = f.do(http.MethodPost, "/api/v1/servers/"+stopped.ID.String()+"/start", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.servers.startErr = fmt.Errorf("%w: timeout", models.ErrOrchestrator)
	w = f.do(http.MethodPost, "/api/v1/servers/"+stopped.ID.String()+"/start", body)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestUpdateServerRoute(t *testing.T) {
	f := newFixture(t)
	mine := f.addServer(f.user.ID, models.ServerStatusRunning)
	theirs := f.addServer(uuid.New(), models.ServerStatusRunning)

	w := f.do(http.MethodPatch, "/api/v1/servers/"+mine.ID.String(), `{"name":" docs ","description":"team docs"}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "docs", body["name"])
	assert.Equal(t, "team docs", body["description"])
	assert.Equal(t, "running", body["status"])

	w = f.do(http.MethodPatch, "/api/v1/servers/"+mine.ID.String(), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPatch, "/api/v1/servers/"+theirs.ID.String(), `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t)
	other := &models.User{ID: uuid.New(), Email: "other@example.com", Role: models.UserRoleUser}
	f.admin.users[other.ID] = other
	rolePath := "/api/v1/admin/users/" + other.ID.String() + "/role"

	w := f.do(http.MethodGet, "/api/v1/admin/users", "")
	assert.Equal(t, http.StatusForbidden, w.Code, "regular users are refused")
	w = f.do(http.MethodPut, rolePath, `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.UserRoleUser, other.Role)

	f.user.Role = models.UserRoleAdmin

	w = f.do(http.MethodGet, "/api/v1/admin/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = f.do(http.MethodPut, rolePath, `{"role":"Admin"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", decode(t, w)["role"])
	assert.Equal(t, models.UserRoleAdmin, other.Role)

	w = f.do(http.MethodPut, rolePath, `{"role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/v1/admin/users/nope/role", `{"role":"user"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/v1/admin/users/"+uuid.NewString()+"/role", `{"role":"user"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPut, "/api/v1/admin/users/"+f.user.ID.String()+"/role", `{"role":"user"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStopServerOrchestratorFailure(t *testing.T) {
	f := newFixture(t)
	mine := f.addServer(f.user.ID, models.ServerStatusRunning)
	f.servers.stopErr = fmt.Errorf("%w: unreachable", models.ErrOrchestrator)

	w := f.do(http.MethodPost, "/api/v1/servers/"+mine.ID.String()+"/stop", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev@example.com", decode(t, w)["email"])

	w = f.do(http.MethodGet, "/api/v1/me/subscription", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.subs.current = &models.SubscriptionResponse{Tier: models.PlanTierFree, Status: models.SubscriptionStatusActive}
	w = f.do(http.MethodGet, "/api/v1/me/subscription", "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.usage.counts[f.user.ID] = 7
	w = f.do(http.MethodGet, "/api/v1/me/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decode(t, w)["request_count"])

	w = f.do(http.MethodGet, "/api/v1/plans", "")
	require.Equal(t, http.StatusOK, w.Code)
	plans, ok := decode(t, w)["plans"].([]any)
	require.True(t, ok)
	assert.Len(t, plans, 1)
}

func TestRecordRequest(t *testing.T) {
	f := newFixture(t)
	server := f.addServer(f.user.ID, models.ServerStatusRunning)
	path := "/internal/servers/" + server.ID.String() + "/requests"
	body := `{"endpoint":"/tools/call","method":"POST"}`

	w := f.do(http.MethodPost, path, body, "Authorization", "Bearer "+internalToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["request_count"])

	f.usage.counts[f.user.ID] = 100
	w = f.do(http.MethodPost, path, body, "Authorization", "Bearer "+internalToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 100, f.usage.counts[f.user.ID])

	w = f.do(http.MethodPost, path, `{"endpoint":"/tools/call"}`, "Authorization", "Bearer "+internalToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/internal/servers/"+uuid.NewString()+"/requests", body, "Authorization", "Bearer "+internalToken)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a user token is not an internal token
	w = f.do(http.MethodPost, path, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateSubscriptionStatus(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	path := "/internal/subscriptions/" + id.String() + "/status"

	w := f.do(http.MethodPost, path, `{"status":"past_due"}`, "Authorization", "Bearer "+internalToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SubscriptionStatusPastDue, f.subs.updated[id])

	w = f.do(http.MethodPost, path, `{"status":"bogus"}`, "Authorization", "Bearer "+internalToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/internal/subscriptions/nope/status", `{"status":"active"}`, "Authorization", "Bearer "+internalToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamStatus(t *testing.T) {
	f := newFixture(t)
	server := f.addServer(f.user.ID, models.ServerStatusStarting)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/servers/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event:connected")
	assert.Contains(t, waitFor("data:"), server.ID.String())

	require.Eventually(t, func() bool {
		return f.hub.SubscriberCount(f.user.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	updated := *server
	updated.Status = models.ServerStatusRunning
	f.hub.Publish(f.user.ID, broadcast.NewEvent(broadcast.EventStatus, &updated, time.Now()))

	waitFor("event:status")
	data := waitFor("data:")
	assert.Contains(t, data, `"status":"running"`)

	cancel()
	assert.Eventually(t, func() bool {
		return f.hub.SubscriberCount(f.user.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
