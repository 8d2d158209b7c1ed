package repository

import (
	"context"
	"fmt"
	"sync"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

// MemoryFarmMapRepository プロセス内で地図を保持するリポジトリ（開発・テスト用）
type MemoryFarmMapRepository struct {
	mu    sync.RWMutex
	farms []model.Farm
	maps  map[string]string
}

// NewMemoryFarmMapRepository 新しいMemoryFarmMapRepositoryを作成
func NewMemoryFarmMapRepository() *MemoryFarmMapRepository {
	return &MemoryFarmMapRepository{maps: make(map[string]string)}
}

var _ repository.FarmMapRepository = (*MemoryFarmMapRepository)(nil)

func (r *MemoryFarmMapRepository) ListFarms(ctx context.Context) ([]model.Farm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Farm, len(r.farms))
	copy(out, r.farms)
	return out, nil
}

func (r *MemoryFarmMapRepository) CreateFarm(ctx context.Context, farm *model.Farm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.farms {
		if f.ID == farm.ID {
			return fmt.Errorf("ファームID %s は既に存在します", farm.ID)
		}
	}
	r.farms = append(r.farms, *farm)
	return nil
}

func (r *MemoryFarmMapRepository) GetMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.indexOf(farmID)
	if i < 0 {
		return nil, fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
	}
	// JSONで保持し、呼び出し側とエントリを共有しない
	return DecodeMapPayload(r.farms[i], r.maps[farmID])
}

func (r *MemoryFarmMapRepository) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	payload, err := EncodeMapPayload(req)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(farmID)
	if i < 0 {
		return fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
	}
	if req.View != nil {
		v := *req.View
		r.farms[i].View = &v
	}
	r.maps[farmID] = payload
	return nil
}

func (r *MemoryFarmMapRepository) indexOf(farmID string) int {
	for i, f := range r.farms {
		if f.ID == farmID {
			return i
		}
	}
	return -1
}
