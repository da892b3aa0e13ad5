package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oleksandrpechak/DuoEng/internal/auth"
	"github.com/oleksandrpechak/DuoEng/internal/config"
	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/hub"
	"github.com/oleksandrpechak/DuoEng/internal/scoring"
	"github.com/oleksandrpechak/DuoEng/internal/store"
	"github.com/oleksandrpechak/DuoEng/internal/ws"
)

type nopOracle struct{}

func (nopOracle) Score(_ context.Context, _, _ string) scoring.Result {
	return scoring.Result{Score: 2, Source: scoring.SourceExact}
}

func newTestServer(t *testing.T) (*Server, *game.Service, *auth.TokenService, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	_, err = store.SeedWordsIfEmpty(db)
	require.NoError(t, err)

	log := zap.NewNop()
	svc := game.NewService(db, nopOracle{}, game.Config{
		TurnTimeout:      30 * time.Second,
		RoomCodeLength:   8,
		RoomCodeAttempts: 12,
		DefaultTarget:    10,
		DefaultElo:       1000,
		KFactor:          32,
		BanDuration:      5 * time.Minute,
		JoinFailureLimit: 10,
		ViolationLimit:   20,
		SubmitsPerMin:    60,
		WSMessagesPerMin: 120,
	}, log)
	tokens := auth.NewTokenService("middleware-test-secret", time.Hour)
	h := hub.New(log)
	wsh := ws.NewHandler(svc, tokens, h, log)
	cfg := &config.Config{RequestsPerMin: 100, AdminNicknames: map[string]bool{}}

	return NewServer(svc, tokens, h, wsh, cfg, log), svc, tokens, db
}

func getWithToken(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth_ValidToken(t *testing.T) {
	srv, svc, tokens, _ := newTestServer(t)

	player, err := svc.RegisterGuest(context.Background(), "alice")
	require.NoError(t, err)
	token, err := tokens.Issue(player.ID, player.Nickname, false)
	require.NoError(t, err)

	rec := getWithToken(t, srv, "/api/leaderboard", token)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := getWithToken(t, srv, "/api/leaderboard", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_UnknownPlayerIsUnauthorized(t *testing.T) {
	srv, _, tokens, _ := newTestServer(t)

	token, err := tokens.Issue("no-such-player", "ghost", false)
	require.NoError(t, err)

	rec := getWithToken(t, srv, "/api/leaderboard", token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_StorageFailureIsNotUnauthorized(t *testing.T) {
	srv, svc, tokens, db := newTestServer(t)

	player, err := svc.RegisterGuest(context.Background(), "alice")
	require.NoError(t, err)
	token, err := tokens.Issue(player.ID, player.Nickname, false)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := getWithToken(t, srv, "/api/leaderboard", token)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
