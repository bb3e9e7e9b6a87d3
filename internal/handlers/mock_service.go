package handlers

import (
	"context"
	"net/http"
	"time"

	"irrigation_controller/internal/models"
	"irrigation_controller/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	genTokenToken string
	genTokenErr   error
	parseOperator string
	parseErr      error

	lastGenOperator string
	lastParseToken  string
}

func (m *mockAuth) GenerateToken(operator string) (string, error) {
	m.lastGenOperator = operator
	return m.genTokenToken, m.genTokenErr
}

func (m *mockAuth) ParseToken(token string) (string, error) {
	m.lastParseToken = token
	return m.parseOperator, m.parseErr
}

type mockMonitoring struct {
	state    models.DeviceState
	err      error
	resetErr error
	resets   int
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.DeviceState, error) {
	return m.state, m.err
}

func (m *mockMonitoring) ResetConnectFailures(ctx context.Context) error {
	m.resets++
	if m.resetErr == nil {
		m.state.ConnectFailures = 0
	}
	return m.resetErr
}

type mockCycleLog struct {
	resp     []models.CycleEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockCycleLog) List(ctx context.Context, f service.LogFilter) ([]models.CycleEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
