package repository

import (
	"context"

	"agromind-map/internal/domain/model"
)

// RemoteMapStore クライアントから見た地図バックエンド
type RemoteMapStore interface {
	FetchMap(ctx context.Context, farmID string) (*model.FarmMap, error)
	SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error
}

// FarmDirectory ファーム一覧の取得と作成
type FarmDirectory interface {
	ListFarms(ctx context.Context) ([]model.Farm, error)
	CreateFarm(ctx context.Context, name string) (*model.Farm, error)
}

// Authenticator ログインとトークン検証
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*model.LoginResponse, error)
	Me(ctx context.Context) (*model.User, error)
}
