package repository

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"agromind-map/internal/domain/model"
)

// MapBounds 地図上の全要素を囲む境界ボックスを計算
// 要素が一つもない場合は ok=false
func MapBounds(req *model.SaveMapRequest) (orb.Bound, bool) {
	var (
		bound orb.Bound
		found bool
	)
	for _, entries := range [][]model.MapEntry{req.Points, req.Lines, req.Zones} {
		for _, e := range entries {
			geom, err := model.DecodeCoordinates(e.Data.Type, e.Data.Coordinates)
			if err != nil {
				continue
			}
			if !found {
				bound = geom.Bound()
				found = true
				continue
			}
			bound = bound.Union(geom.Bound())
		}
	}
	return bound, found
}

// BoundsWKT 境界ボックスを WKT の POLYGON として出力（要素がなければ空文字）
func BoundsWKT(req *model.SaveMapRequest) string {
	bound, ok := MapBounds(req)
	if !ok {
		return ""
	}
	return wkt.MarshalString(bound.ToPolygon())
}

// MapPayload DB上に JSON で保存する地図本体
type MapPayload struct {
	Points []model.MapEntry `json:"points"`
	Lines  []model.MapEntry `json:"lines"`
	Zones  []model.MapEntry `json:"zones"`
}

// EncodeMapPayload 保存リクエストから地図本体を JSON に変換
func EncodeMapPayload(req *model.SaveMapRequest) (string, error) {
	data, err := json.Marshal(MapPayload{Points: req.Points, Lines: req.Lines, Zones: req.Zones})
	if err != nil {
		return "", fmt.Errorf("地図データのJSONマーシャル失敗: %w", err)
	}
	return string(data), nil
}

// DecodeMapPayload JSON の地図本体を GET レスポンスの形に戻す
func DecodeMapPayload(farm model.Farm, raw string) (*model.FarmMap, error) {
	m := &model.FarmMap{Farm: farm, Points: []model.MapEntry{}, Lines: []model.MapEntry{}, Zones: []model.MapEntry{}}
	if raw == "" {
		return m, nil
	}
	var p MapPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("地図データのJSONアンマーシャル失敗: %w", err)
	}
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

// EncodeView 表示範囲を JSON 文字列に変換（nil なら空文字）
func EncodeView(v *model.View) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("表示範囲のJSONマーシャル失敗: %w", err)
	}
	return string(data), nil
}

// DecodeView JSON 文字列から表示範囲を復元（空文字なら nil）
func DecodeView(raw string) (*model.View, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var v model.View
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("表示範囲のJSONアンマーシャル失敗: %w", err)
	}
	return &v, nil
}
