package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
	"agromind-map/internal/domain/service"
)

// MapSyncDeps MapSyncService が使うポート
type MapSyncDeps struct {
	Auth    repository.Authenticator
	Farms   repository.FarmDirectory
	Remote  repository.RemoteMapStore
	Session repository.SessionStore
	Cache   repository.LocalCache
}

// MapSyncService ログイン状態・アクティブファーム・描画セッションをまとめるアプリケーションサービス
type MapSyncService struct {
	deps   MapSyncDeps
	opts   service.ReconcilerOptions
	logger *zap.Logger
}

// NewMapSyncService MapSyncServiceの新しいインスタンスを作成
func NewMapSyncService(deps MapSyncDeps, opts service.ReconcilerOptions) *MapSyncService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts.Logger = logger
	}
	return &MapSyncService{deps: deps, opts: opts, logger: logger}
}

// Login 資格情報でログインし、トークンとユーザーを保存する
func (s *MapSyncService) Login(ctx context.Context, email, password string) (*model.User, error) {
	resp, err := s.deps.Auth.Login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("ログインに失敗: %w", err)
	}
	if err := s.deps.Session.SetToken(ctx, resp.Token, resp.User); err != nil {
		return nil, fmt.Errorf("トークンの保存に失敗: %w", err)
	}
	s.logger.Info("🔑 logged in", zap.String("email", email))
	return resp.User, nil
}

// Logout トークン・ユーザー・アクティブファームを消す（描画キャッシュは残す）
func (s *MapSyncService) Logout(ctx context.Context) error {
	if err := s.deps.Session.Clear(ctx); err != nil {
		return fmt.Errorf("ログアウトに失敗: %w", err)
	}
	s.logger.Info("👋 logged out")
	return nil
}

// CurrentUser 保存済みトークンをバックエンドで検証する
// 拒否されたトークンはその場で破棄する
func (s *MapSyncService) CurrentUser(ctx context.Context) (*model.User, error) {
	token, err := s.deps.Session.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, model.ErrAuthRequired
	}

	user, err := s.deps.Auth.Me(ctx)
	if errors.Is(err, model.ErrAuthRequired) {
		if clearErr := s.deps.Session.Clear(ctx); clearErr != nil {
			s.logger.Warn("⚠️ could not clear rejected token", zap.Error(clearErr))
		}
		return nil, err
	}
	if err != nil {
		// 通信できない場合は保存済みのユーザーで続行する
		cached, cacheErr := s.deps.Session.User(ctx)
		if cacheErr == nil && cached != nil {
			s.logger.Warn("⚠️ could not validate token, using stored user", zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return user, nil
}

// ResolveFarm アクティブなファームを決めて保存する
// 保存済みIDが一覧にあればそれを、なければ先頭を使い、一つもなければ既定名で作成する
func (s *MapSyncService) ResolveFarm(ctx context.Context) (*model.Farm, error) {
	farms, err := s.deps.Farms.ListFarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得に失敗: %w", err)
	}

	var farm *model.Farm
	if len(farms) == 0 {
		farm, err = s.deps.Farms.CreateFarm(ctx, model.DefaultFarmName)
		if err != nil {
			return nil, fmt.Errorf("ファームの作成に失敗: %w", err)
		}
		s.logger.Info("🌱 created default farm", zap.String("farm_id", farm.ID))
	} else {
		stored, err := s.deps.Session.ActiveFarmID(ctx)
		if err != nil {
			return nil, err
		}
		farm = &farms[0]
		for i := range farms {
			if farms[i].ID == stored {
				farm = &farms[i]
				break
			}
		}
	}

	if err := s.deps.Session.SetActiveFarmID(ctx, farm.ID); err != nil {
		return nil, fmt.Errorf("アクティブファームの保存に失敗: %w", err)
	}
	return farm, nil
}

// SelectFarm アクティブなファームを明示的に切り替える
func (s *MapSyncService) SelectFarm(ctx context.Context, farmID string) (*model.Farm, error) {
	farms, err := s.deps.Farms.ListFarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得に失敗: %w", err)
	}
	for i := range farms {
		if farms[i].ID == farmID {
			if err := s.deps.Session.SetActiveFarmID(ctx, farmID); err != nil {
				return nil, fmt.Errorf("アクティブファームの保存に失敗: %w", err)
			}
			return &farms[i], nil
		}
	}
	return nil, fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
}

// Open アクティブなファームの描画セッションを作成して読み込む
//
// バックエンドに届かない場合もキャッシュを表示したセッションを返し、
// エラーは併せて返す。認証エラーの場合はセッションを返さない。
func (s *MapSyncService) Open(ctx context.Context) (*service.Reconciler, error) {
	farm, err := s.ResolveFarm(ctx)
	if err != nil {
		if errors.Is(err, model.ErrAuthRequired) {
			return nil, err
		}
		// ファーム一覧が取れない場合は保存済みのIDで続行する
		stored, idErr := s.deps.Session.ActiveFarmID(ctx)
		if idErr != nil || stored == "" {
			return nil, err
		}
		s.logger.Warn("⚠️ could not resolve farm, using stored id", zap.String("farm_id", stored), zap.Error(err))
		farm = &model.Farm{ID: stored}
	}

	rec := service.NewReconciler(farm.ID, service.NewDrawingSession(), s.deps.Remote, s.deps.Cache, s.opts)
	if err := rec.Load(ctx); err != nil {
		if errors.Is(err, model.ErrAuthRequired) {
			rec.Close()
			return nil, err
		}
		return rec, err
	}
	return rec, nil
}
