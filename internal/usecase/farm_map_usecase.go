package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

type FarmMapUseCase interface {
	// ListFarms はファーム一覧を作成順に返す
	ListFarms(ctx context.Context) ([]model.Farm, error)

	// CreateFarm はファームを作成する。名前が空なら既定名を使う
	CreateFarm(ctx context.Context, req *model.CreateFarmRequest) (*model.Farm, error)

	// GetMap はファームの地図を返す
	GetMap(ctx context.Context, farmID string) (*model.FarmMap, error)

	// SaveMap は地図を検証したうえで全置換保存し、保存後の地図を返す
	SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) (*model.FarmMap, error)
}

// farmMapUseCaseImpl はFarmMapUseCaseの実装
type farmMapUseCaseImpl struct {
	repo   repository.FarmMapRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewFarmMapUseCase は新しいFarmMapUseCaseインスタンスを作成
func NewFarmMapUseCase(repo repository.FarmMapRepository, logger *zap.Logger) FarmMapUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &farmMapUseCaseImpl{repo: repo, logger: logger, now: time.Now}
}

func (u *farmMapUseCaseImpl) ListFarms(ctx context.Context) ([]model.Farm, error) {
	farms, err := u.repo.ListFarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得に失敗: %w", err)
	}
	if farms == nil {
		farms = []model.Farm{}
	}
	return farms, nil
}

func (u *farmMapUseCaseImpl) CreateFarm(ctx context.Context, req *model.CreateFarmRequest) (*model.Farm, error) {
	name := model.DefaultFarmName
	if req != nil && strings.TrimSpace(req.Name) != "" {
		name = strings.TrimSpace(req.Name)
	}

	farm := &model.Farm{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: u.now().UTC(),
	}
	if err := u.repo.CreateFarm(ctx, farm); err != nil {
		return nil, fmt.Errorf("ファームの作成に失敗: %w", err)
	}

	u.logger.Info("🌱 farm created", zap.String("farm_id", farm.ID), zap.String("name", farm.Name))
	return farm, nil
}

func (u *farmMapUseCaseImpl) GetMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	m, err := u.repo.GetMap(ctx, farmID)
	if err != nil {
		return nil, fmt.Errorf("地図の取得に失敗: %w", err)
	}
	normalizeFarmMap(m)
	return m, nil
}

func (u *farmMapUseCaseImpl) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) (*model.FarmMap, error) {
	if err := ValidateSaveMapRequest(req); err != nil {
		return nil, err
	}
	if err := u.repo.SaveMap(ctx, farmID, req); err != nil {
		return nil, fmt.Errorf("地図の保存に失敗: %w", err)
	}

	u.logger.Info("💾 farm map saved",
		zap.String("farm_id", farmID),
		zap.Int("points", len(req.Points)),
		zap.Int("lines", len(req.Lines)),
		zap.Int("zones", len(req.Zones)))
	return u.GetMap(ctx, farmID)
}

// ValidateSaveMapRequest は各エントリのジオメトリ種別と座標を検証し、空の配列を補う
func ValidateSaveMapRequest(req *model.SaveMapRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty body", model.ErrInvalidMapPayload)
	}
	if req.View != nil {
		lon, lat := req.View.Center[0], req.View.Center[1]
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return fmt.Errorf("%w: view center out of range", model.ErrInvalidMapPayload)
		}
	}

	groups := []struct {
		kind    model.Kind
		entries []model.MapEntry
	}{
		{model.KindPoint, req.Points},
		{model.KindLine, req.Lines},
		{model.KindPolygon, req.Zones},
	}
	for _, g := range groups {
		for i, e := range g.entries {
			if e.Data.Type != g.kind.GeometryType() {
				return fmt.Errorf("%w: %s[%d] has %q geometry", model.ErrInvalidMapPayload, g.kind, i, e.Data.Type)
			}
			if _, err := model.DecodeCoordinates(e.Data.Type, e.Data.Coordinates); err != nil {
				return fmt.Errorf("%w: %s[%d]: %v", model.ErrInvalidMapPayload, g.kind, i, err)
			}
		}
	}

	if req.Points == nil {
		req.Points = []model.MapEntry{}
	}
	if req.Lines == nil {
		req.Lines = []model.MapEntry{}
	}
	if req.Zones == nil {
		req.Zones = []model.MapEntry{}
	}
	return nil
}

func normalizeFarmMap(m *model.FarmMap) {
	if m.Points == nil {
		m.Points = []model.MapEntry{}
	}
	if m.Lines == nil {
		m.Lines = []model.MapEntry{}
	}
	if m.Zones == nil {
		m.Zones = []model.MapEntry{}
	}
}
