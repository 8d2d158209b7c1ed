package application

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/service"
	"agromind-map/internal/handler"
	"agromind-map/internal/infrastructure/api"
	"agromind-map/internal/infrastructure/kv"
	"agromind-map/internal/repository"
	"agromind-map/internal/usecase"
)

type testEnv struct {
	srv   *httptest.Server
	repo  *repository.MemoryFarmMapRepository
	cache *repository.KVLocalCache
	svc   *MapSyncService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryFarmMapRepository()
	auth := handler.NewAuthHandler(handler.AuthConfig{
		Token: "tok", Email: "ana@finca.cr", Password: "secreto",
		User: model.User{ID: "u1", Name: "Ana"},
	})
	srv := httptest.NewServer(handler.NewRouter(handler.NewFarmMapHandler(usecase.NewFarmMapUseCase(repo, nil)), auth, nil))
	t.Cleanup(srv.Close)

	cache := repository.NewKVLocalCache(kv.NewMemoryStore())
	client := api.NewClient(srv.URL, cache)
	svc := NewMapSyncService(MapSyncDeps{
		Auth: client, Farms: client, Remote: client, Session: cache, Cache: cache,
	}, service.ReconcilerOptions{Debounce: 10 * time.Millisecond})
	return &testEnv{srv: srv, repo: repo, cache: cache, svc: svc}
}

func TestMapSyncService_LoginLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CurrentUser(ctx)
	assert.ErrorIs(t, err, model.ErrAuthRequired)

	user, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	me, err := env.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana", me.Name)

	_, err = env.svc.ResolveFarm(ctx)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx))
	token, _ := env.cache.Token(ctx)
	assert.Empty(t, token)
	farmID, _ := env.cache.ActiveFarmID(ctx)
	assert.Empty(t, farmID)
}

func TestMapSyncService_RejectedTokenIsCleared(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.cache.SetToken(ctx, "stale", &model.User{ID: "old"}))

	_, err := env.svc.CurrentUser(ctx)
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	token, _ := env.cache.Token(ctx)
	assert.Empty(t, token)
}

func TestMapSyncService_ResolveFarm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)

	// ファームがなければ既定名で作成する
	farm, err := env.svc.ResolveFarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultFarmName, farm.Name)
	stored, _ := env.cache.ActiveFarmID(ctx)
	assert.Equal(t, farm.ID, stored)

	second := &model.Farm{ID: "farm-b", Name: "Segunda", CreatedAt: time.Now().Add(time.Hour)}
	require.NoError(t, env.repo.CreateFarm(ctx, second))

	again, err := env.svc.ResolveFarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, farm.ID, again.ID, "stored id is kept while listed")

	selected, err := env.svc.SelectFarm(ctx, "farm-b")
	require.NoError(t, err)
	assert.Equal(t, "Segunda", selected.Name)
	again, err = env.svc.ResolveFarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "farm-b", again.ID)

	require.NoError(t, env.cache.SetActiveFarmID(ctx, "gone"))
	again, err = env.svc.ResolveFarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, farm.ID, again.ID, "unknown stored id falls back to the first farm")

	_, err = env.svc.SelectFarm(ctx, "gone")
	assert.ErrorIs(t, err, model.ErrFarmNotFound)
}

func TestMapSyncService_OpenEditAndReload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)

	rec, err := env.svc.Open(ctx)
	require.NoError(t, err)
	defer rec.Close()
	assert.Equal(t, service.PhaseRemoteAuthoritative, rec.State().Phase)

	zone, err := rec.Session().CreateFeature(model.KindPolygon, orb.Polygon{{{0, 0}, {1, 0}, {1, 1}}})
	require.NoError(t, err)
	_, err = rec.Session().AddComponent(zone.ID)
	require.NoError(t, err)
	require.NoError(t, rec.Flush(ctx))

	farmID, _ := env.cache.ActiveFarmID(ctx)
	m, err := env.repo.GetMap(ctx, farmID)
	require.NoError(t, err)
	require.Len(t, m.Zones, 1)
	assert.Equal(t, "Zona 1", m.Zones[0].Name)
	assert.Len(t, m.Zones[0].Components, 1)

	reopened, err := env.svc.Open(ctx)
	require.NoError(t, err)
	defer reopened.Close()
	f, ok := reopened.Session().Feature(zone.ID)
	require.True(t, ok)
	assert.Equal(t, "Zona 1", f.Name)
}

func TestMapSyncService_OpenWithoutLogin(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.svc.Open(context.Background())
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Nil(t, rec)
}

func TestMapSyncService_OpenOfflineShowsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)

	rec, err := env.svc.Open(ctx)
	require.NoError(t, err)
	_, err = rec.Session().CreateFeature(model.KindPoint, orb.Point{-84.4, 10.3})
	require.NoError(t, err)
	require.NoError(t, rec.Flush(ctx))
	rec.Close()

	env.srv.Close()

	offline, err := env.svc.Open(ctx)
	assert.ErrorIs(t, err, model.ErrBackendUnreachable)
	require.NotNil(t, offline)
	defer offline.Close()
	assert.Equal(t, 1, offline.Session().Len())
	assert.False(t, offline.State().Reachable)
}

func TestMapSyncService_SwitchingFarmsKeepsDrawingsApart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)

	first, err := env.svc.Open(ctx)
	require.NoError(t, err)
	_, err = first.Session().CreateFeature(model.KindPoint, orb.Point{-84.4, 10.3})
	require.NoError(t, err)
	require.NoError(t, first.Flush(ctx))
	first.Close()
	firstID, _ := env.cache.ActiveFarmID(ctx)

	require.NoError(t, env.repo.CreateFarm(ctx, &model.Farm{ID: "farm-b", Name: "Segunda", CreatedAt: time.Now().Add(time.Hour)}))
	_, err = env.svc.SelectFarm(ctx, "farm-b")
	require.NoError(t, err)

	second, err := env.svc.Open(ctx)
	require.NoError(t, err)
	st := second.State()
	assert.Equal(t, service.PhaseRemoteAuthoritative, st.Phase)
	assert.False(t, st.Dirty)
	assert.Zero(t, second.Session().Len(), "the other farm's drawings are not shown")
	require.NoError(t, second.Flush(ctx))
	second.Close()

	m, err := env.repo.GetMap(ctx, "farm-b")
	require.NoError(t, err)
	assert.True(t, m.Empty(), "nothing from the first farm is written to the second")

	_, err = env.svc.SelectFarm(ctx, firstID)
	require.NoError(t, err)
	back, err := env.svc.Open(ctx)
	require.NoError(t, err)
	defer back.Close()
	assert.Equal(t, 1, back.Session().Len())
}

func TestMapSyncService_NextUserDoesNotInheritDrawings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)

	rec, err := env.svc.Open(ctx)
	require.NoError(t, err)
	_, err = rec.Session().CreateFeature(model.KindPoint, orb.Point{-84.4, 10.3})
	require.NoError(t, err)
	require.NoError(t, rec.Flush(ctx))
	rec.Close()
	require.NoError(t, env.svc.Logout(ctx))

	require.NoError(t, env.repo.CreateFarm(ctx, &model.Farm{ID: "farm-other", Name: "Otra"}))
	_, err = env.svc.Login(ctx, "ana@finca.cr", "secreto")
	require.NoError(t, err)
	// 次のアカウントは自分のファームを選ぶ
	require.NoError(t, env.cache.SetActiveFarmID(ctx, "farm-other"))

	other, err := env.svc.Open(ctx)
	require.NoError(t, err)
	defer other.Close()
	activeID, _ := env.cache.ActiveFarmID(ctx)
	require.Equal(t, "farm-other", activeID)
	assert.Zero(t, other.Session().Len())
	assert.Equal(t, service.PhaseRemoteAuthoritative, other.State().Phase)

	m, err := env.repo.GetMap(ctx, "farm-other")
	require.NoError(t, err)
	assert.True(t, m.Empty())
}
