package model

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// FeatureRecord ローカルキャッシュおよび送信用の要素表現
// 座標は投影座標ではなく常に経度・緯度
type FeatureRecord struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Color        string          `json:"color"`
	Name         string          `json:"name"`
	Note         string          `json:"note"`
	ZoneType     *string         `json:"zoneType"`
	Status       *string         `json:"status"`
	Components   []Component     `json:"components"`
	GeometryType string          `json:"geometryType"`
	Coordinates  json.RawMessage `json:"coordinates"`
}

// Snapshot セッション全体の永続化単位
type Snapshot struct {
	View     *View           `json:"view,omitempty"`
	Features []FeatureRecord `json:"features"`
}

// Empty 要素が一つもないかどうか
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Features) == 0
}

// EncodeFeature 要素とジオメトリをレコードに変換
func EncodeFeature(f *Feature, geom orb.Geometry) (FeatureRecord, error) {
	coords, err := EncodeCoordinates(geom)
	if err != nil {
		return FeatureRecord{}, fmt.Errorf("feature %s: %w", f.ID, err)
	}
	if geom.GeoJSONType() != f.Kind.GeometryType() {
		return FeatureRecord{}, fmt.Errorf("feature %s: %w", f.ID, ErrGeometryMismatch)
	}

	rec := FeatureRecord{
		ID:           f.ID,
		Kind:         f.Kind,
		Color:        f.Color,
		Name:         f.Name,
		Note:         f.Note,
		GeometryType: geom.GeoJSONType(),
		Coordinates:  coords,
	}
	if f.IsZone() {
		zoneType, status := f.ZoneType, f.Status
		rec.ZoneType = &zoneType
		rec.Status = &status
		rec.Components = make([]Component, len(f.Components))
		copy(rec.Components, f.Components)
	}
	return rec, nil
}

// DecodeFeature レコードから要素とジオメトリを復元
// 欠けているメタデータは既定値で補う
func DecodeFeature(rec FeatureRecord) (*Feature, orb.Geometry, error) {
	if rec.ID == "" {
		return nil, nil, fmt.Errorf("%w: missing id", ErrMalformedRemoteData)
	}
	geom, err := DecodeCoordinates(rec.GeometryType, rec.Coordinates)
	if err != nil {
		return nil, nil, fmt.Errorf("feature %s: %w", rec.ID, err)
	}

	kind, _ := KindForGeometryType(rec.GeometryType)
	if rec.Kind.Valid() && rec.Kind != kind {
		return nil, nil, fmt.Errorf("%w: feature %s kind %q with %s geometry", ErrMalformedRemoteData, rec.ID, rec.Kind, rec.GeometryType)
	}

	f := &Feature{
		ID:    rec.ID,
		Kind:  kind,
		Color: rec.Color,
		Name:  rec.Name,
		Note:  rec.Note,
	}
	if f.IsZone() {
		f.ZoneType = ZoneTypeFree
		if rec.ZoneType != nil && *rec.ZoneType != "" {
			f.ZoneType = *rec.ZoneType
		}
		f.Status = ZoneStatusAvailable
		if rec.Status != nil && *rec.Status != "" {
			f.Status = *rec.Status
		}
		f.Components = normalizeComponents(rec.Components, rec.ID)
	}
	return f, geom, nil
}

func normalizeComponents(in []Component, featureID string) []Component {
	out := make([]Component, 0, len(in))
	for i, c := range in {
		if c.ID == "" {
			c.ID = fmt.Sprintf("comp-%d-%s", i, featureID)
		}
		if c.Type == "" {
			c.Type = ComponentTypeOther
		}
		out = append(out, c)
	}
	return out
}

// EncodeCoordinates ジオメトリを座標配列のJSONに変換
func EncodeCoordinates(geom orb.Geometry) (json.RawMessage, error) {
	var v interface{}
	switch g := geom.(type) {
	case orb.Point:
		v = pointCoords(g)
	case orb.LineString:
		v = lineCoords(g)
	case orb.Polygon:
		rings := make([][][]float64, len(g))
		for i, r := range g {
			rings[i] = lineCoords(orb.LineString(r))
		}
		v = rings
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %T", ErrGeometryMismatch, geom)
	}
	return json.Marshal(v)
}

// DecodeCoordinates 座標配列のJSONをジオメトリに変換
func DecodeCoordinates(geomType string, raw json.RawMessage) (orb.Geometry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing coordinates", ErrMalformedRemoteData)
	}

	switch geomType {
	case GeometryPoint:
		var c []float64
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRemoteData, err)
		}
		p, ok := toPoint(c)
		if !ok {
			return nil, fmt.Errorf("%w: point needs [lon, lat]", ErrMalformedRemoteData)
		}
		return p, nil

	case GeometryLineString:
		var c [][]float64
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRemoteData, err)
		}
		ls, ok := toLine(c)
		if !ok || len(ls) < 2 {
			return nil, fmt.Errorf("%w: line needs at least two positions", ErrMalformedRemoteData)
		}
		return ls, nil

	case GeometryPolygon:
		var c [][][]float64
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedRemoteData, err)
		}
		if len(c) == 0 {
			return nil, fmt.Errorf("%w: polygon without rings", ErrMalformedRemoteData)
		}
		poly := make(orb.Polygon, 0, len(c))
		for _, rc := range c {
			ls, ok := toLine(rc)
			if !ok || len(ls) < 3 {
				return nil, fmt.Errorf("%w: polygon ring needs at least three positions", ErrMalformedRemoteData)
			}
			poly = append(poly, orb.Ring(ls))
		}
		return poly, nil
	}

	return nil, fmt.Errorf("%w: unknown geometry type %q", ErrMalformedRemoteData, geomType)
}

func pointCoords(p orb.Point) []float64 {
	return []float64{p.Lon(), p.Lat()}
}

func lineCoords(ls orb.LineString) [][]float64 {
	out := make([][]float64, len(ls))
	for i, p := range ls {
		out[i] = pointCoords(p)
	}
	return out
}

func toPoint(c []float64) (orb.Point, bool) {
	if len(c) < 2 {
		return orb.Point{}, false
	}
	return orb.Point{c[0], c[1]}, true
}

func toLine(c [][]float64) (orb.LineString, bool) {
	ls := make(orb.LineString, 0, len(c))
	for _, pc := range c {
		p, ok := toPoint(pc)
		if !ok {
			return nil, false
		}
		ls = append(ls, p)
	}
	return ls, true
}
