package repository

import (
	"context"

	"agromind-map/internal/domain/model"
)

// FarmMapRepository バックエンド側のファーム・地図ストレージ
type FarmMapRepository interface {
	// ListFarms 全ファームを作成順に取得
	ListFarms(ctx context.Context) ([]model.Farm, error)
	// CreateFarm ファームを新規作成
	CreateFarm(ctx context.Context, farm *model.Farm) error
	// GetMap ファームの地図を取得（存在しない場合は model.ErrFarmNotFound）
	GetMap(ctx context.Context, farmID string) (*model.FarmMap, error)
	// SaveMap ファームの地図を全置換で保存
	SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error
}
