package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
	"agromind-map/internal/infrastructure/database"
)

// supabaseFarmRow farms テーブルの行
type supabaseFarmRow struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	View      *model.View `json:"view"`
	CreatedAt time.Time   `json:"created_at"`
}

// supabaseMapRow farm_maps テーブルの行
type supabaseMapRow struct {
	FarmID    string     `json:"farm_id"`
	Payload   MapPayload `json:"payload"`
	Bounds    *string    `json:"bounds"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type SupabaseFarmMapRepository struct {
	client *database.SupabaseClient
}

func NewSupabaseFarmMapRepository(client *database.SupabaseClient) repository.FarmMapRepository {
	return &SupabaseFarmMapRepository{
		client: client,
	}
}

func (r *SupabaseFarmMapRepository) ListFarms(ctx context.Context) ([]model.Farm, error) {
	var rows []supabaseFarmRow
	data, count, err := r.client.GetClient().From("farms").Select("*", "exact", false).Execute()
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得失敗: %w", err)
	}
	_ = count

	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("ファームデータのJSONアンマーシャル失敗: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	farms := make([]model.Farm, 0, len(rows))
	for _, row := range rows {
		farms = append(farms, row.toFarm())
	}
	return farms, nil
}

func (r *SupabaseFarmMapRepository) CreateFarm(ctx context.Context, farm *model.Farm) error {
	row := supabaseFarmRow{ID: farm.ID, Name: farm.Name, View: farm.View, CreatedAt: farm.CreatedAt}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("ファームデータのJSONマーシャル失敗: %w", err)
	}

	_, _, err = r.client.GetClient().From("farms").Insert(string(data), false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("ファームの作成失敗: %w", err)
	}
	return nil
}

func (r *SupabaseFarmMapRepository) GetMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	farm, err := r.getFarm(farmID)
	if err != nil {
		return nil, err
	}

	var rows []supabaseMapRow
	data, _, err := r.client.GetClient().From("farm_maps").Select("*", "exact", false).Eq("farm_id", farmID).Execute()
	if err != nil {
		return nil, fmt.Errorf("地図の取得失敗: %w", err)
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("地図データのJSONアンマーシャル失敗: %w", err)
	}

	m := &model.FarmMap{Farm: *farm, Points: []model.MapEntry{}, Lines: []model.MapEntry{}, Zones: []model.MapEntry{}}
	if len(rows) == 0 {
		return m, nil
	}
	p := rows[0].Payload
	if p.Points != nil {
		m.Points = p.Points
	}
	if p.Lines != nil {
		m.Lines = p.Lines
	}
	if p.Zones != nil {
		m.Zones = p.Zones
	}
	return m, nil
}

func (r *SupabaseFarmMapRepository) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	if _, err := r.getFarm(farmID); err != nil {
		return err
	}

	if req.View != nil {
		update, err := json.Marshal(map[string]*model.View{"view": req.View})
		if err != nil {
			return fmt.Errorf("表示範囲のJSONマーシャル失敗: %w", err)
		}
		if _, _, err := r.client.GetClient().From("farms").Update(string(update), "", "").Eq("id", farmID).Execute(); err != nil {
			return fmt.Errorf("表示範囲の更新失敗: %w", err)
		}
	}

	row := supabaseMapRow{
		FarmID:    farmID,
		Payload:   MapPayload{Points: req.Points, Lines: req.Lines, Zones: req.Zones},
		UpdatedAt: time.Now().UTC(),
	}
	if b := BoundsWKT(req); b != "" {
		row.Bounds = &b
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("地図データのJSONマーシャル失敗: %w", err)
	}

	// farm_id で upsert し、地図を全置換する
	if _, _, err := r.client.GetClient().From("farm_maps").Insert(string(data), true, "farm_id", "", "").Execute(); err != nil {
		return fmt.Errorf("地図の保存失敗: %w", err)
	}
	return nil
}

func (r *SupabaseFarmMapRepository) getFarm(farmID string) (*model.Farm, error) {
	var rows []supabaseFarmRow
	data, _, err := r.client.GetClient().From("farms").Select("*", "exact", false).Eq("id", farmID).Execute()
	if err != nil {
		return nil, fmt.Errorf("ファームの取得失敗: %w", err)
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("ファームデータのJSONアンマーシャル失敗: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
	}
	farm := rows[0].toFarm()
	return &farm, nil
}

func (row supabaseFarmRow) toFarm() model.Farm {
	return model.Farm{ID: row.ID, Name: row.Name, View: row.View, CreatedAt: row.CreatedAt}
}
