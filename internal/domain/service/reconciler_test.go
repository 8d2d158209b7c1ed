package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/infrastructure/kv"
	"agromind-map/internal/repository"
)

const testDebounce = 20 * time.Millisecond

// fakeRemote 呼び出しを記録するバックエンドの代役
type fakeRemote struct {
	mu       sync.Mutex
	farmMap  *model.FarmMap
	fetchErr error
	saveErr  error
	block    chan struct{}
	saves    []*model.SaveMapRequest
}

func (f *fakeRemote) FetchMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.farmMap, nil
}

func (f *fakeRemote) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, req)
	return nil
}

func (f *fakeRemote) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeRemote) lastSave() *model.SaveMapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return nil
	}
	return f.saves[len(f.saves)-1]
}

func (f *fakeRemote) setSaveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

func emptyFarmMap() *model.FarmMap {
	return &model.FarmMap{Farm: model.Farm{ID: "farm-1"}, Points: []model.MapEntry{}, Lines: []model.MapEntry{}, Zones: []model.MapEntry{}}
}

func remoteWithOneZone() *model.FarmMap {
	m := emptyFarmMap()
	m.Farm.View = &model.View{Center: [2]float64{-84.5, 10.2}, Zoom: 16}
	m.Zones = []model.MapEntry{{
		ID:   "polygon-remote",
		Name: "Potrero",
		Data: model.MapEntryData{
			Type:        model.GeometryPolygon,
			Coordinates: json.RawMessage(`[[[0,0],[1,0],[1,1],[0,0]]]`),
			Color:       "#22c55e88",
			ZoneType:    model.ZoneTypeAnimals,
			Status:      model.ZoneStatusOperational,
		},
		Components: []model.Component{{ID: "comp-1", Name: "Bebedero", Type: "Bebedero"}},
	}}
	return m
}

type harness struct {
	remote  *fakeRemote
	cache   *repository.KVLocalCache
	session *DrawingSession
	rec     *Reconciler
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()
	cache := repository.NewKVLocalCache(kv.NewMemoryStore())
	session := NewDrawingSession()
	rec := NewReconciler("farm-1", session, remote, cache, ReconcilerOptions{Debounce: testDebounce})
	t.Cleanup(rec.Close)
	return &harness{remote: remote, cache: cache, session: session, rec: rec}
}

func seedCacheWithPoint(t *testing.T, cache *repository.KVLocalCache) {
	t.Helper()
	src := NewDrawingSession()
	_, err := src.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)
	require.NoError(t, cache.Save(context.Background(), "farm-1", src.Snapshot()))
}

func TestLoad_RemoteNonEmptyIsAuthoritative(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: remoteWithOneZone()})
	seedCacheWithPoint(t, h.cache)

	require.NoError(t, h.rec.Load(context.Background()))

	st := h.rec.State()
	assert.Equal(t, PhaseRemoteAuthoritative, st.Phase)
	assert.False(t, st.Dirty)
	assert.True(t, st.Loaded)

	features := h.session.Features()
	require.Len(t, features, 1)
	assert.Equal(t, "polygon-remote", features[0].ID)
	assert.Equal(t, "Potrero", features[0].Name)
	assert.Equal(t, model.ZoneStatusOperational, features[0].Status)
	assert.Len(t, features[0].Components, 1)
	assert.Equal(t, [2]float64{-84.5, 10.2}, h.session.View().Center)

	cached, err := h.cache.Load(context.Background(), "farm-1")
	require.NoError(t, err)
	require.Len(t, cached.Features, 1)
	assert.Equal(t, "polygon-remote", cached.Features[0].ID, "cache mirrors the adopted remote state")

	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount())
}

func TestLoad_EmptyRemoteWithCacheForcesCorrectiveWrite(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})
	seedCacheWithPoint(t, h.cache)

	require.NoError(t, h.rec.Load(context.Background()))

	assert.Equal(t, PhaseLocalProtected, h.rec.State().Phase)
	features := h.session.Features()
	require.Len(t, features, 1)
	assert.Equal(t, "Punto 1", features[0].Name)

	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	req := h.remote.lastSave()
	require.Len(t, req.Points, 1)
	assert.Equal(t, "Punto 1", req.Points[0].Name)
	assert.Empty(t, req.Zones)

	assert.Eventually(t, func() bool { return !h.rec.State().Dirty }, time.Second, 5*time.Millisecond)
}

func TestLoad_BothEmptyAcceptsEmptyState(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})

	require.NoError(t, h.rec.Load(context.Background()))

	st := h.rec.State()
	assert.Equal(t, PhaseRemoteAuthoritative, st.Phase)
	assert.False(t, st.Dirty)
	assert.Zero(t, h.session.Len())
	assert.Equal(t, model.DefaultView(), h.session.View())

	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount())
}

func TestLoad_SkipsMalformedRemoteEntries(t *testing.T) {
	m := remoteWithOneZone()
	m.Points = []model.MapEntry{
		{Name: "sin coordenadas", Data: model.MapEntryData{Type: model.GeometryPoint}},
		{Name: "tipo raro", Data: model.MapEntryData{Type: "Circle", Coordinates: json.RawMessage(`[1,2]`)}},
		{Name: "Pozo", Data: model.MapEntryData{Type: model.GeometryPoint, Coordinates: json.RawMessage(`[1,2]`)}},
	}
	h := newHarness(t, &fakeRemote{farmMap: m})

	require.NoError(t, h.rec.Load(context.Background()))

	features := h.session.Features()
	require.Len(t, features, 2)
	assert.Equal(t, "Pozo", features[0].Name)
	assert.NotEmpty(t, features[0].ID, "entries without id get one")
	assert.Equal(t, model.PointColors[0], features[0].Color)
}

func TestLoad_AllRemoteEntriesMalformedKeepsCacheWithoutWriting(t *testing.T) {
	m := emptyFarmMap()
	m.Zones = []model.MapEntry{{ID: "polygon-bad", Name: "Rota", Data: model.MapEntryData{Type: model.GeometryPolygon}}}
	h := newHarness(t, &fakeRemote{farmMap: m})
	seedCacheWithPoint(t, h.cache)

	require.NoError(t, h.rec.Load(context.Background()))

	st := h.rec.State()
	assert.Equal(t, PhaseLocalProtected, st.Phase)
	assert.True(t, st.Loaded)
	assert.False(t, st.Dirty)
	assert.Equal(t, 1, h.session.Len())

	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount(), "records the backend still holds are not overwritten on load")

	_, err := h.session.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Len(t, h.remote.lastSave().Points, 2)
}

func TestLoad_NetworkFailureFallsBackToCache(t *testing.T) {
	h := newHarness(t, &fakeRemote{fetchErr: model.ErrBackendUnreachable})
	seedCacheWithPoint(t, h.cache)

	err := h.rec.Load(context.Background())
	assert.ErrorIs(t, err, model.ErrBackendUnreachable)

	st := h.rec.State()
	assert.False(t, st.Reachable)
	assert.False(t, st.Loaded)
	assert.Equal(t, 1, h.session.Len())

	// 読み込み未完了のため、編集してもバックエンドには書き込まない
	_, err = h.session.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)
	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount())

	cached, err := h.cache.Load(context.Background(), "farm-1")
	require.NoError(t, err)
	assert.Len(t, cached.Features, 2, "cache is refreshed on every mutation")
}

func TestLoad_NetworkFailureWithoutCacheShowsEmptyMap(t *testing.T) {
	h := newHarness(t, &fakeRemote{fetchErr: model.ErrBackendUnreachable})

	assert.Error(t, h.rec.Load(context.Background()))
	assert.Zero(t, h.session.Len())
	assert.False(t, h.rec.State().Reachable)
}

func TestLoad_AuthRequiredLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, &fakeRemote{fetchErr: model.ErrAuthRequired})
	_, err := h.session.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)

	err = h.rec.Load(context.Background())
	assert.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Equal(t, PhaseUninitialized, h.rec.State().Phase)
	assert.Equal(t, 1, h.session.Len())
}

func TestLoad_EditsRejectedWhileLoading(t *testing.T) {
	remote := &fakeRemote{farmMap: emptyFarmMap(), block: make(chan struct{})}
	h := newHarness(t, remote)

	done := make(chan error, 1)
	go func() { done <- h.rec.Load(context.Background()) }()

	require.Eventually(t, func() bool { return h.rec.State().Phase == PhaseLoading }, time.Second, time.Millisecond)
	_, err := h.session.CreateFeature(model.KindPoint, testPoint)
	assert.ErrorIs(t, err, model.ErrLoadInProgress)
	assert.ErrorIs(t, h.rec.SaveView(model.DefaultView()), model.ErrLoadInProgress)
	assert.ErrorIs(t, h.rec.Load(context.Background()), model.ErrLoadInProgress)

	close(remote.block)
	require.NoError(t, <-done)

	_, err = h.session.CreateFeature(model.KindPoint, testPoint)
	assert.NoError(t, err)
}

func TestWrite_BurstOfEditsCollapsesIntoOneWrite(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})
	require.NoError(t, h.rec.Load(context.Background()))

	p, err := h.session.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)
	for _, name := range []string{"P", "Po", "Poz", "Pozo"} {
		require.NoError(t, h.session.UpdateField(p.ID, model.FieldName, name))
	}
	assert.True(t, h.rec.State().Dirty)

	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(5 * testDebounce)
	assert.Equal(t, 1, h.remote.saveCount())

	req := h.remote.lastSave()
	require.Len(t, req.Points, 1)
	assert.Equal(t, "Pozo", req.Points[0].Name)
	assert.False(t, h.rec.State().Dirty)
}

func TestWrite_UnknownIDEditDoesNotScheduleWrite(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})
	require.NoError(t, h.rec.Load(context.Background()))

	assert.Error(t, h.session.UpdateField("unknown-id", model.FieldName, "X"))
	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount())
	assert.False(t, h.rec.State().Dirty)
}

func TestWrite_FailureKeepsDirtyUntilNextSuccess(t *testing.T) {
	remote := &fakeRemote{farmMap: emptyFarmMap()}
	h := newHarness(t, remote)
	require.NoError(t, h.rec.Load(context.Background()))

	remote.setSaveErr(errors.New("connection refused"))
	p, err := h.session.CreateFeature(model.KindPoint, testPoint)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !h.rec.State().Reachable }, time.Second, 2*time.Millisecond)
	assert.True(t, h.rec.State().Dirty)

	remote.setSaveErr(nil)
	require.NoError(t, h.session.UpdateField(p.ID, model.FieldNote, "otra vez"))

	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Eventually(t, func() bool {
		st := h.rec.State()
		return st.Reachable && !st.Dirty
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, "otra vez", h.remote.lastSave().Points[0].Data.Note)
}

func TestFlush_WritesPendingChangesImmediately(t *testing.T) {
	remote := &fakeRemote{farmMap: emptyFarmMap()}
	cache := repository.NewKVLocalCache(kv.NewMemoryStore())
	session := NewDrawingSession()
	rec := NewReconciler("farm-1", session, remote, cache, ReconcilerOptions{Debounce: time.Hour})
	defer rec.Close()
	require.NoError(t, rec.Load(context.Background()))

	require.NoError(t, rec.Flush(context.Background()))
	assert.Zero(t, remote.saveCount(), "clean state is not written")

	_, err := session.CreateFeature(model.KindLine, testLine)
	require.NoError(t, err)
	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, 1, remote.saveCount())
	assert.Len(t, remote.lastSave().Lines, 1)
	assert.False(t, rec.State().Dirty)
}

func TestCenterOn_ForcesWriteWithNewView(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})
	require.NoError(t, h.rec.Load(context.Background()))

	require.NoError(t, h.rec.CenterOn(-84.1, 10.5, 18))

	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 2*time.Millisecond)
	view := h.remote.lastSave().View
	require.NotNil(t, view)
	assert.Equal(t, [2]float64{-84.1, 10.5}, view.Center)
	assert.Equal(t, 18.0, view.Zoom)

	cached, err := h.cache.Load(context.Background(), "farm-1")
	require.NoError(t, err)
	assert.Equal(t, [2]float64{-84.1, 10.5}, cached.View.Center)
}

func TestCenterOn_BeforeLoadKeepsWriteGateClosed(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: remoteWithOneZone()})

	require.NoError(t, h.rec.CenterOn(-84, 10, 12))
	require.NoError(t, h.rec.Flush(context.Background()))
	time.Sleep(5 * testDebounce)
	assert.Zero(t, h.remote.saveCount(), "an unloaded session never replaces the remote map")

	st := h.rec.State()
	assert.True(t, st.Dirty)
	assert.False(t, st.Loaded)
	assert.Equal(t, [2]float64{-84, 10}, h.session.View().Center)

	cached, err := h.cache.Load(context.Background(), "farm-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 12.0, cached.View.Zoom)
}

func TestCenterOn_AfterFailedLoadIsNotForced(t *testing.T) {
	h := newHarness(t, &fakeRemote{fetchErr: model.ErrBackendUnreachable})
	require.Error(t, h.rec.Load(context.Background()))

	require.NoError(t, h.rec.CenterOn(-84, 10, 12))
	require.NoError(t, h.rec.Flush(context.Background()))
	assert.Zero(t, h.remote.saveCount())
}

func TestSaveView_WritesAfterDebounce(t *testing.T) {
	h := newHarness(t, &fakeRemote{farmMap: emptyFarmMap()})
	require.NoError(t, h.rec.Load(context.Background()))

	require.NoError(t, h.rec.SaveView(model.View{Center: [2]float64{1, 2}, Zoom: 12}))

	require.Eventually(t, func() bool { return h.remote.saveCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 12.0, h.remote.lastSave().View.Zoom)
}
