package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattes337/logsink/internal/models"
)

func TestBlacklistCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/blacklist", map[string]any{
		"pattern":     "heartbeat",
		"patternType": "substring",
		"reason":      "scheduled noise",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)["pattern"].(map[string]any)
	id := int64(created["id"].(float64))
	assert.Equal(t, "heartbeat", created["pattern"])

	rec = env.do(t, http.MethodGet, "/blacklist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["totalPatterns"])

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/blacklist/%d", id), map[string]any{
		"pattern":     "heartbeat",
		"patternType": "exact",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/blacklist/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/blacklist", nil)
	assert.Equal(t, 0.0, decode(t, rec)["totalPatterns"])
}

func TestBlacklistCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/blacklist", map[string]any{"patternType": "substring"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/blacklist", map[string]any{
		"pattern":     "x",
		"patternType": "glob",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlacklistDuplicateConflicts(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"pattern": "noise", "patternType": "substring"}

	rec := env.do(t, http.MethodPost, "/blacklist", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/blacklist", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBlacklistTest(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreatePattern(context.Background(), &models.BlacklistPattern{
		Pattern: "heartbeat", PatternType: models.PatternSubstring,
	}))

	rec := env.do(t, http.MethodPost, "/blacklist/test", map[string]any{
		"message":       "scheduled heartbeat",
		"applicationId": "shop",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["isBlacklisted"])
	assert.Contains(t, body, "pattern")

	rec = env.do(t, http.MethodPost, "/blacklist/test", map[string]any{
		"message":       "real failure",
		"applicationId": "shop",
	})
	body = decode(t, rec)
	assert.Equal(t, false, body["isBlacklisted"])
	assert.NotContains(t, body, "pattern")
}

func TestBlacklistListFiltersByApplication(t *testing.T) {
	env := newTestEnv(t)
	app := "shop"
	require.NoError(t, env.store.CreatePattern(context.Background(), &models.BlacklistPattern{
		Pattern: "global-noise", PatternType: models.PatternSubstring,
	}))
	require.NoError(t, env.store.CreatePattern(context.Background(), &models.BlacklistPattern{
		Pattern: "shop-noise", PatternType: models.PatternSubstring, ApplicationID: &app,
	}))

	rec := env.do(t, http.MethodGet, "/blacklist?applicationId=shop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["totalPatterns"])

	rec = env.do(t, http.MethodGet, "/blacklist", nil)
	assert.Equal(t, 2.0, decode(t, rec)["totalPatterns"])
}

func TestBlacklistStatisticsAndRefresh(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/blacklist/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/blacklist/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["totalPatterns"])
}

func TestBlacklistClear(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.CreatePattern(context.Background(), &models.BlacklistPattern{
		Pattern: "a", PatternType: models.PatternExact,
	}))

	rec := env.do(t, http.MethodDelete, "/blacklist", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/blacklist", nil)
	assert.Equal(t, 0.0, decode(t, rec)["totalPatterns"])
}
