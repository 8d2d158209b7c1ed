package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

const farmsCollection = "farms"

// firestoreFarmDoc farms コレクションのドキュメント
// 地図本体は座標の入れ子配列を含むため JSON 文字列で保存する
type firestoreFarmDoc struct {
	ID        string    `firestore:"id"`
	Name      string    `firestore:"name"`
	ViewJSON  string    `firestore:"view_json"`
	MapJSON   string    `firestore:"map_json"`
	Bounds    string    `firestore:"bounds"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreFarmMapRepository Firestoreを使用したファーム地図リポジトリ
type FirestoreFarmMapRepository struct {
	client *firestore.Client
}

// NewFirestoreFarmMapRepository 新しいFirestoreFarmMapRepositoryインスタンスを作成
func NewFirestoreFarmMapRepository(client *firestore.Client) *FirestoreFarmMapRepository {
	return &FirestoreFarmMapRepository{
		client: client,
	}
}

var _ repository.FarmMapRepository = (*FirestoreFarmMapRepository)(nil)

func (r *FirestoreFarmMapRepository) ListFarms(ctx context.Context) ([]model.Farm, error) {
	docs, err := r.client.Collection(farmsCollection).OrderBy("created_at", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("ファーム一覧の取得に失敗しました: %w", err)
	}

	farms := make([]model.Farm, 0, len(docs))
	for _, doc := range docs {
		var d firestoreFarmDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("データの変換に失敗しました: %w", err)
		}
		farm, err := d.toFarm()
		if err != nil {
			return nil, err
		}
		farms = append(farms, farm)
	}
	return farms, nil
}

func (r *FirestoreFarmMapRepository) CreateFarm(ctx context.Context, farm *model.Farm) error {
	viewJSON, err := EncodeView(farm.View)
	if err != nil {
		return err
	}
	d := firestoreFarmDoc{
		ID:        farm.ID,
		Name:      farm.Name,
		ViewJSON:  viewJSON,
		CreatedAt: farm.CreatedAt,
		UpdatedAt: farm.CreatedAt,
	}
	if _, err := r.client.Collection(farmsCollection).Doc(farm.ID).Create(ctx, d); err != nil {
		return fmt.Errorf("ファームの作成に失敗しました: %w", err)
	}
	return nil
}

func (r *FirestoreFarmMapRepository) GetMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	d, err := r.getDoc(ctx, farmID)
	if err != nil {
		return nil, err
	}
	farm, err := d.toFarm()
	if err != nil {
		return nil, err
	}
	return DecodeMapPayload(farm, d.MapJSON)
}

func (r *FirestoreFarmMapRepository) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	if _, err := r.getDoc(ctx, farmID); err != nil {
		return err
	}

	payload, err := EncodeMapPayload(req)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"map_json":   payload,
		"bounds":     BoundsWKT(req),
		"updated_at": time.Now().UTC(),
	}
	if req.View != nil {
		viewJSON, err := EncodeView(req.View)
		if err != nil {
			return err
		}
		fields["view_json"] = viewJSON
	}

	if _, err := r.client.Collection(farmsCollection).Doc(farmID).Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("地図の保存に失敗しました: %w", err)
	}
	return nil
}

func (r *FirestoreFarmMapRepository) getDoc(ctx context.Context, farmID string) (*firestoreFarmDoc, error) {
	doc, err := r.client.Collection(farmsCollection).Doc(farmID).Get(ctx)
	if err != nil {
		if status := err.Error(); strings.Contains(status, "NotFound") || strings.Contains(status, "not found") {
			return nil, fmt.Errorf("ファームID %s: %w", farmID, model.ErrFarmNotFound)
		}
		return nil, fmt.Errorf("ファームの取得に失敗しました: %w", err)
	}

	var d firestoreFarmDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("データの変換に失敗しました: %w", err)
	}
	return &d, nil
}

func (d *firestoreFarmDoc) toFarm() (model.Farm, error) {
	view, err := DecodeView(d.ViewJSON)
	if err != nil {
		return model.Farm{}, err
	}
	return model.Farm{ID: d.ID, Name: d.Name, View: view, CreatedAt: d.CreatedAt}, nil
}
