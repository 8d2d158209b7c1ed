package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Feature 地図上の描画要素（ポイント・ライン・ゾーン）と業務メタデータ
// ジオメトリ本体はセッションのIDテーブルで管理する
type Feature struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Color      string      `json:"color"`
	Name       string      `json:"name"`
	Note       string      `json:"note"`
	ZoneType   string      `json:"zoneType,omitempty"`   // ゾーンのみ
	Status     string      `json:"status,omitempty"`     // ゾーンのみ
	Components []Component `json:"components,omitempty"` // ゾーンのみ
}

// IsZone ゾーン（ポリゴン）かどうか
func (f *Feature) IsZone() bool {
	return f.Kind == KindPolygon
}

// Clone コンポーネントを含めたディープコピー
func (f *Feature) Clone() *Feature {
	c := *f
	if f.Components != nil {
		c.Components = make([]Component, len(f.Components))
		copy(c.Components, f.Components)
	}
	return &c
}

// Component ゾーン内の付属物（水飲み場、倉庫など）
type Component struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Note string `json:"note"`
	Type string `json:"type"`
}

// Field 編集可能なフィールド名
type Field string

const (
	FieldName     Field = "name"
	FieldNote     Field = "note"
	FieldColor    Field = "color"
	FieldZoneType Field = "zoneType"
	FieldStatus   Field = "status"
	// FieldType コンポーネント種別
	FieldType Field = "type"
)

// NewFeatureID 種類・タイムスタンプ・ランダム接尾辞からIDを生成
func NewFeatureID(kind Kind, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", kind, now.UnixMilli(), randomSuffix(6))
}

// NewComponentID コンポーネントIDを生成
func NewComponentID(now time.Time) string {
	return fmt.Sprintf("comp-%d-%s", now.UnixMilli(), randomSuffix(4))
}

func randomSuffix(n int) string {
	s := uuid.New().String()
	return s[len(s)-n:]
}

// Counts 種類ごと・ゾーン状態ごとの件数
type Counts struct {
	Points   int            `json:"points"`
	Lines    int            `json:"lines"`
	Zones    int            `json:"zones"`
	Statuses map[string]int `json:"statuses"`
}

// View 地図の表示範囲
type View struct {
	Center [2]float64 `json:"center"` // [lon, lat]
	Zoom   float64    `json:"zoom"`
}

// DefaultView 保存済みの表示範囲がない場合の初期値
func DefaultView() View {
	return View{Center: [2]float64{DefaultCenterLon, DefaultCenterLat}, Zoom: DefaultZoom}
}

// CachedView ローカルキャッシュ上の表示範囲 {lon, lat, zoom}
type CachedView struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Zoom float64 `json:"zoom"`
}

// Cached キャッシュ用の形に変換
func (v View) Cached() CachedView {
	return CachedView{Lon: v.Center[0], Lat: v.Center[1], Zoom: v.Zoom}
}

// View 表示範囲に戻す
func (c CachedView) View() View {
	return View{Center: [2]float64{c.Lon, c.Lat}, Zoom: c.Zoom}
}
