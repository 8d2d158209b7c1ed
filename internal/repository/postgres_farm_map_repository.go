package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
	"agromind-map/internal/infrastructure/database"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS farms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	view       JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS farm_maps (
	farm_id    TEXT PRIMARY KEY REFERENCES farms(id) ON DELETE CASCADE,
	payload    JSONB NOT NULL,
	bounds     TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type PostgresFarmMapRepository struct {
	client *database.PostgreSQLClient
}

func NewPostgresFarmMapRepository(client *database.PostgreSQLClient) *PostgresFarmMapRepository {
	return &PostgresFarmMapRepository{
		client: client,
	}
}

var _ repository.FarmMapRepository = (*PostgresFarmMapRepository)(nil)

// EnsureSchema テーブルがなければ作成する
func (r *PostgresFarmMapRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.client.DB.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("スキーマの作成に失敗: %w", err)
	}
	return nil
}

func (r *PostgresFarmMapRepository) ListFarms(ctx context.Context) ([]model.Farm, error) {
	query := `SELECT id, name, COALESCE(view::text, ''), created_at FROM farms ORDER BY created_at, id`

	rows, err := r.client.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得失敗: %w", err)
	}
	defer rows.Close()

	var farms []model.Farm
	for rows.Next() {
		var (
			farm    model.Farm
			rawView string
		)
		if err := rows.Scan(&farm.ID, &farm.Name, &rawView, &farm.CreatedAt); err != nil {
			return nil, fmt.Errorf("ファーム行の読み取り失敗: %w", err)
		}
		if farm.View, err = DecodeView(rawView); err != nil {
			return nil, err
		}
		farms = append(farms, farm)
	}
	return farms, rows.Err()
}

func (r *PostgresFarmMapRepository) CreateFarm(ctx context.Context, farm *model.Farm) error {
	rawView, err := EncodeView(farm.View)
	if err != nil {
		return err
	}
	query := `INSERT INTO farms (id, name, view, created_at) VALUES ($1, $2, NULLIF($3, '')::jsonb, $4)`
	if _, err := r.client.DB.ExecContext(ctx, query, farm.ID, farm.Name, rawView, farm.CreatedAt); err != nil {
		return fmt.Errorf("ファームの作成失敗: %w", err)
	}
	return nil
}

func (r *PostgresFarmMapRepository) GetMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	query := `
		SELECT f.id, f.name, COALESCE(f.view::text, ''), f.created_at, COALESCE(m.payload::text, '')
		FROM farms f
		LEFT JOIN farm_maps m ON m.farm_id = f.id
		WHERE f.id = $1`

	var (
		farm             model.Farm
		rawView, payload string
	)
	err := r.client.DB.QueryRowContext(ctx, query, farmID).
		Scan(&farm.ID, &farm.Name, &rawView, &farm.CreatedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("地図の取得失敗: %w", err)
	}

	if farm.View, err = DecodeView(rawView); err != nil {
		return nil, err
	}
	return DecodeMapPayload(farm, payload)
}

func (r *PostgresFarmMapRepository) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	payload, err := EncodeMapPayload(req)
	if err != nil {
		return err
	}
	rawView, err := EncodeView(req.View)
	if err != nil {
		return err
	}

	tx, err := r.client.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始失敗: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE farms SET view = COALESCE(NULLIF($2, '')::jsonb, view) WHERE id = $1`,
		farmID, rawView)
	if err != nil {
		return fmt.Errorf("表示範囲の更新失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO farm_maps (farm_id, payload, bounds, updated_at)
		VALUES ($1, $2::jsonb, NULLIF($3, ''), now())
		ON CONFLICT (farm_id) DO UPDATE
		SET payload = EXCLUDED.payload, bounds = EXCLUDED.bounds, updated_at = EXCLUDED.updated_at`,
		farmID, payload, BoundsWKT(req))
	if err != nil {
		return fmt.Errorf("地図の保存失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミット失敗: %w", err)
	}
	return nil
}
