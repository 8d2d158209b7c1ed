package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Farm バックエンド上のファーム
type Farm struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	View      *View     `json:"view,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// MapEntry バックエンドの地図APIにおける1要素
type MapEntry struct {
	ID         string       `json:"id,omitempty"`
	Name       string       `json:"name"`
	Data       MapEntryData `json:"data"`
	Components []Component  `json:"components,omitempty"`
}

// MapEntryData 要素の種類依存データ
type MapEntryData struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Color       string          `json:"color,omitempty"`
	Note        string          `json:"note"`
	ZoneType    string          `json:"zoneType,omitempty"`
	Status      string          `json:"status,omitempty"`
}

// FarmMap GET /api/farms/{id}/map のレスポンス
type FarmMap struct {
	Farm   Farm       `json:"farm"`
	Points []MapEntry `json:"points"`
	Lines  []MapEntry `json:"lines"`
	Zones  []MapEntry `json:"zones"`
}

// Empty ポイント・ライン・ゾーンが一つもないかどうか
func (m *FarmMap) Empty() bool {
	return m == nil || len(m.Points)+len(m.Lines)+len(m.Zones) == 0
}

// SaveMapRequest PUT /api/farms/{id}/map のリクエストボディ（全置換）
type SaveMapRequest struct {
	View   *View      `json:"view"`
	Points []MapEntry `json:"points"`
	Lines  []MapEntry `json:"lines"`
	Zones  []MapEntry `json:"zones"`
}

// CreateFarmRequest POST /api/farms のリクエストボディ
type CreateFarmRequest struct {
	Name string `json:"name"`
}

// SaveMapRequestFromSnapshot スナップショットを送信用の形に変換
func SaveMapRequestFromSnapshot(s Snapshot) *SaveMapRequest {
	req := &SaveMapRequest{
		View:   s.View,
		Points: []MapEntry{},
		Lines:  []MapEntry{},
		Zones:  []MapEntry{},
	}
	for _, rec := range s.Features {
		entry := MapEntry{
			ID:   rec.ID,
			Name: rec.Name,
			Data: MapEntryData{
				Type:        rec.GeometryType,
				Coordinates: rec.Coordinates,
				Color:       rec.Color,
				Note:        rec.Note,
			},
		}
		switch rec.Kind {
		case KindPoint:
			req.Points = append(req.Points, entry)
		case KindLine:
			req.Lines = append(req.Lines, entry)
		case KindPolygon:
			if rec.ZoneType != nil {
				entry.Data.ZoneType = *rec.ZoneType
			}
			if rec.Status != nil {
				entry.Data.Status = *rec.Status
			}
			entry.Components = rec.Components
			if entry.Components == nil {
				entry.Components = []Component{}
			}
			req.Zones = append(req.Zones, entry)
		}
	}
	return req
}

// ToFarmMap 保存内容をGETレスポンスの形に変換
func (r *SaveMapRequest) ToFarmMap(farm Farm) *FarmMap {
	farm.View = r.View
	return &FarmMap{Farm: farm, Points: r.Points, Lines: r.Lines, Zones: r.Zones}
}

// SnapshotFromFarmMap バックエンドの地図をスナップショットに変換
// 不正なエントリはスキップし、理由を errs として返す
func SnapshotFromFarmMap(m *FarmMap, now time.Time) (Snapshot, []error) {
	var (
		snap Snapshot
		errs []error
	)
	if m == nil {
		return snap, nil
	}
	snap.View = m.Farm.View

	groups := []struct {
		kind    Kind
		entries []MapEntry
	}{
		{KindPoint, m.Points},
		{KindLine, m.Lines},
		{KindPolygon, m.Zones},
	}
	for _, g := range groups {
		for i, e := range g.entries {
			rec, err := recordFromEntry(g.kind, e, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s[%d] %q: %w", g.kind, i, e.Name, err))
				continue
			}
			snap.Features = append(snap.Features, rec)
		}
	}
	return snap, errs
}

func recordFromEntry(kind Kind, e MapEntry, now time.Time) (FeatureRecord, error) {
	if e.Data.Type != kind.GeometryType() {
		return FeatureRecord{}, fmt.Errorf("%w: %s entry with %q geometry", ErrMalformedRemoteData, kind, e.Data.Type)
	}
	if _, err := DecodeCoordinates(e.Data.Type, e.Data.Coordinates); err != nil {
		return FeatureRecord{}, err
	}

	id := e.ID
	if id == "" {
		id = NewFeatureID(kind, now)
	}
	rec := FeatureRecord{
		ID:           id,
		Kind:         kind,
		Color:        e.Data.Color,
		Name:         e.Name,
		Note:         e.Data.Note,
		GeometryType: e.Data.Type,
		Coordinates:  e.Data.Coordinates,
	}
	if kind == KindPolygon {
		zoneType, status := e.Data.ZoneType, e.Data.Status
		rec.ZoneType = &zoneType
		rec.Status = &status
		rec.Components = e.Components
	}
	return rec, nil
}
