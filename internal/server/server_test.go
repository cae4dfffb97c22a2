package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/Makar0n1/art-automation/config"
)

func echoContextFor(req *http.Request) echo.Context {
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestAddrDefaultsWhenUnset(t *testing.T) {
	require.Equal(t, ":8080", Addr(config.ServerConfig{}))
}

func TestAddrPrependsColonToBareLiteral(t *testing.T) {
	require.Equal(t, ":9090", Addr(config.ServerConfig{Listen: "9090"}))
}

func TestAddrPassesThroughExplicitColon(t *testing.T) {
	require.Equal(t, ":9090", Addr(config.ServerConfig{Listen: ":9090"}))
}

func TestQueryIntFallsBackOnMissingOrInvalidValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=not-a-number", nil)
	c := echoContextFor(req)
	require.Equal(t, 50, queryInt(c, "limit", 50))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = echoContextFor(req)
	require.Equal(t, 50, queryInt(c, "limit", 50))
}

func TestQueryIntParsesPositiveValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	c := echoContextFor(req)
	require.Equal(t, 25, queryInt(c, "limit", 50))
}
