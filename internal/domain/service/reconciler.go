package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"agromind-map/internal/debounce"
	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

// Phase 読み込みに関する状態
type Phase string

const (
	PhaseUninitialized       Phase = "UNINITIALIZED"
	PhaseLoading             Phase = "LOADING"
	PhaseRemoteAuthoritative Phase = "REMOTE_AUTHORITATIVE"
	PhaseLocalProtected      Phase = "LOCAL_PROTECTED"
)

// DefaultDebounce 最後の変更から書き込みまでの静止期間
const DefaultDebounce = 800 * time.Millisecond

// defaultWriteTimeout デバウンス経由の書き込み1回あたりの上限
const defaultWriteTimeout = 15 * time.Second

// SyncState 同期状態のスナップショット
type SyncState struct {
	Phase     Phase `json:"phase"`
	Dirty     bool  `json:"dirty"`
	Loaded    bool  `json:"loaded"`
	Reachable bool  `json:"reachable"`
}

// ReconcilerOptions Reconciler の設定
type ReconcilerOptions struct {
	Debounce     time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Reconciler ローカル状態とバックエンドのどちらを正とするかを決め、
// デバウンスした全置換書き込みで同期する
type Reconciler struct {
	farmID  string
	session *DrawingSession
	remote  repository.RemoteMapStore
	cache   repository.LocalCache
	logger  *zap.Logger

	writeTimeout time.Duration
	debouncer    *debounce.Debouncer

	mu        sync.Mutex
	phase     Phase
	loaded    bool
	dirty     bool
	force     bool
	reachable bool
	revision  uint64
}

// NewReconciler 新しい Reconciler を作成し、セッションの変更を購読する
func NewReconciler(farmID string, session *DrawingSession, remote repository.RemoteMapStore, cache repository.LocalCache, opts ReconcilerOptions) *Reconciler {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Reconciler{
		farmID:       farmID,
		session:      session,
		remote:       remote,
		cache:        cache,
		logger:       opts.Logger.With(zap.String("farm_id", farmID)),
		writeTimeout: opts.WriteTimeout,
		phase:        PhaseUninitialized,
		reachable:    true,
	}
	r.debouncer = debounce.New(opts.Debounce, r.debouncedWrite)
	session.OnChange(r.handleChange)
	return r
}

// Session 管理対象のセッション
func (r *Reconciler) Session() *DrawingSession {
	return r.session
}

// State 現在の同期状態
func (r *Reconciler) State() SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SyncState{Phase: r.phase, Dirty: r.dirty, Loaded: r.loaded, Reachable: r.reachable}
}

// Editable 編集を受け付けられるか（読み込み中は不可）
func (r *Reconciler) Editable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseLoading {
		return model.ErrLoadInProgress
	}
	return nil
}

// Load バックエンドから地図を読み込み、ローカルキャッシュとの間で正とする側を決める
//
// バックエンドが空でキャッシュが空でない場合は、キャッシュを残したうえで
// ダーティゲートを通らない強制書き込みを予約する。
// この判定は「バックエンドが正しく空にされた」場合と区別できない。
func (r *Reconciler) Load(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == PhaseLoading {
		r.mu.Unlock()
		return model.ErrLoadInProgress
	}
	prevPhase := r.phase
	r.phase = PhaseLoading
	// 読み込み中の編集は受け付けない
	r.session.Freeze(model.ErrLoadInProgress)
	r.mu.Unlock()
	defer r.session.Thaw()

	remoteMap, err := r.remote.FetchMap(ctx, r.farmID)
	if err != nil {
		return r.handleLoadFailure(ctx, prevPhase, err)
	}

	remoteSnap, skipped := model.SnapshotFromFarmMap(remoteMap, time.Now())
	for _, e := range skipped {
		r.logger.Warn("⚠️ skipping malformed remote record", zap.Error(e))
	}

	if !remoteSnap.Empty() {
		r.adopt(ctx, remoteSnap)
		r.logger.Info("✅ farm map loaded from backend", zap.Int("features", len(remoteSnap.Features)))
		return nil
	}

	cached := r.loadCache(ctx)
	if !cached.Empty() {
		if cached.View == nil {
			cached.View = remoteSnap.View
		}
		if len(skipped) > 0 {
			// バックエンドにはレコードがあるため、上書きは次の編集まで行わない
			r.protectLocal(*cached, false)
			r.logger.Warn("⚠️ every backend record was malformed, keeping local cache without a corrective write",
				zap.Int("discarded", len(skipped)), zap.Int("features", len(cached.Features)))
			return nil
		}
		r.protectLocal(*cached, true)
		r.logger.Warn("⚠️ backend returned an empty map, keeping local cache and scheduling a corrective write",
			zap.Int("features", len(cached.Features)))
		return nil
	}

	if remoteSnap.View == nil && cached != nil {
		remoteSnap.View = cached.View
	}
	r.adopt(ctx, remoteSnap)
	r.logger.Info("✅ farm map loaded (empty)")
	return nil
}

func (r *Reconciler) handleLoadFailure(ctx context.Context, prevPhase Phase, err error) error {
	if errors.Is(err, model.ErrAuthRequired) {
		r.mu.Lock()
		r.phase = prevPhase
		r.mu.Unlock()
		r.logger.Warn("🔒 map load aborted, not logged in")
		return fmt.Errorf("地図の読み込み失敗: %w", err)
	}

	cached := r.loadCache(ctx)
	snap := model.Snapshot{}
	if cached != nil {
		snap = *cached
	}
	for _, e := range r.session.Replace(snap) {
		r.logger.Warn("⚠️ skipping malformed cached record", zap.Error(e))
	}

	r.mu.Lock()
	// 読み込みが完了していないため、書き込みゲートは閉じたまま
	r.phase = PhaseUninitialized
	r.reachable = false
	r.mu.Unlock()

	r.logger.Warn("❌ backend unreachable, showing local cache",
		zap.Int("features", len(snap.Features)), zap.Error(err))
	return fmt.Errorf("地図の読み込み失敗: %w", err)
}

func (r *Reconciler) loadCache(ctx context.Context) *model.Snapshot {
	cached, err := r.cache.Load(ctx, r.farmID)
	if err != nil {
		r.logger.Warn("⚠️ could not read local cache", zap.Error(err))
		return nil
	}
	return cached
}

// adopt バックエンドの内容でセッションを置き換える
func (r *Reconciler) adopt(ctx context.Context, snap model.Snapshot) {
	for _, e := range r.session.Replace(snap) {
		r.logger.Warn("⚠️ skipping malformed remote record", zap.Error(e))
	}
	r.saveCache(ctx)

	r.mu.Lock()
	r.phase = PhaseRemoteAuthoritative
	r.loaded = true
	r.dirty = false
	r.force = false
	r.reachable = true
	r.mu.Unlock()
}

// protectLocal キャッシュを残す。force の場合はバックエンドを修復する強制書き込みを予約する
func (r *Reconciler) protectLocal(snap model.Snapshot, force bool) {
	for _, e := range r.session.Replace(snap) {
		r.logger.Warn("⚠️ skipping malformed cached record", zap.Error(e))
	}

	r.mu.Lock()
	r.phase = PhaseLocalProtected
	r.loaded = true
	r.dirty = force
	r.force = force
	r.reachable = true
	r.revision++
	r.mu.Unlock()

	if force {
		r.debouncer.Trigger()
	}
}

// handleChange セッションの変更ごとに呼ばれる
func (r *Reconciler) handleChange() {
	r.mu.Lock()
	r.dirty = true
	r.revision++
	r.mu.Unlock()

	// バックエンドに届くかどうかに関係なく、キャッシュは毎回更新する
	r.saveCache(context.Background())
	r.debouncer.Trigger()
}

func (r *Reconciler) saveCache(ctx context.Context) {
	if err := r.cache.Save(ctx, r.farmID, r.session.Snapshot()); err != nil {
		r.logger.Warn("⚠️ could not write local cache", zap.Error(err))
	}
}

// SaveView 「表示範囲を保存」操作
func (r *Reconciler) SaveView(view model.View) error {
	if err := r.Editable(); err != nil {
		return err
	}
	r.session.SetView(view)
	r.handleChange()
	return nil
}

// CenterOn 現在地への移動。読み込み完了後はダーティゲートを通らない強制書き込みになる
// 読み込み前は表示範囲とキャッシュだけを更新し、書き込みゲートは閉じたまま
func (r *Reconciler) CenterOn(lon, lat, zoom float64) error {
	if err := r.Editable(); err != nil {
		return err
	}
	r.session.SetView(model.View{Center: [2]float64{lon, lat}, Zoom: zoom})

	r.mu.Lock()
	if r.loaded {
		r.force = true
	}
	r.dirty = true
	r.revision++
	r.mu.Unlock()

	r.saveCache(context.Background())
	r.debouncer.Trigger()
	return nil
}

// Flush 予約中の書き込みを待たずに実行する（ゲートは通常どおり評価する）
func (r *Reconciler) Flush(ctx context.Context) error {
	r.debouncer.Cancel()
	return r.write(ctx)
}

// Close 予約中の書き込みを破棄する
func (r *Reconciler) Close() {
	r.debouncer.Stop()
}

func (r *Reconciler) debouncedWrite() {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.write(ctx); err != nil {
		r.logger.Debug("debounced write did not complete", zap.Error(err))
	}
}

// write 書き込みゲートを評価し、通過した場合のみバックエンドへ全置換で送る
// ゲート: 読み込み完了済み かつ ダーティ。強制書き込みはゲートを無視する。
func (r *Reconciler) write(ctx context.Context) error {
	r.mu.Lock()
	forced := r.force
	if !forced && (!r.loaded || !r.dirty) {
		loaded, dirty := r.loaded, r.dirty
		r.mu.Unlock()
		r.logger.Debug("write skipped", zap.Bool("loaded", loaded), zap.Bool("dirty", dirty))
		return nil
	}
	r.force = false
	rev := r.revision
	r.mu.Unlock()

	req := model.SaveMapRequestFromSnapshot(r.session.Snapshot())
	err := r.remote.SaveMap(ctx, r.farmID, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// 失敗した書き込みはクリーン扱いにしない。次の変更のデバウンスで再送される
		r.reachable = false
		r.dirty = true
		r.logger.Warn("❌ map write failed", zap.Bool("forced", forced), zap.Error(err))
		return fmt.Errorf("地図の保存失敗: %w", err)
	}

	r.reachable = true
	if r.revision == rev {
		r.dirty = false
	}
	r.logger.Info("✅ map saved",
		zap.Bool("forced", forced),
		zap.Int("points", len(req.Points)),
		zap.Int("lines", len(req.Lines)),
		zap.Int("zones", len(req.Zones)))
	return nil
}
