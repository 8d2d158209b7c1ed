package service

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"agromind-map/internal/domain/model"
)

// DrawingSession アクティブなファーム1つ分の描画状態
// 表示順の業務リストと ID→ジオメトリ のテーブルを常に一致させて保持する
type DrawingSession struct {
	mu sync.Mutex

	features   []*model.Feature
	geometries map[string]orb.Geometry

	// 種類ごとの命名カウンタとパレット位置（単調増加）
	counters map[model.Kind]int
	colorIdx map[model.Kind]int

	view model.View

	selectedID string
	hoveredID  string
	expandedID string

	frozen    error
	listeners []func()
	now       func() time.Time
}

// NewDrawingSession 空のセッションを作成
func NewDrawingSession() *DrawingSession {
	return &DrawingSession{
		geometries: make(map[string]orb.Geometry),
		counters:   make(map[model.Kind]int),
		colorIdx:   make(map[model.Kind]int),
		view:       model.DefaultView(),
		now:        time.Now,
	}
}

// OnChange 変更のたびに呼ばれるリスナーを登録
// リスナーはロック外で呼ばれるため、セッションを再度操作してよい
func (s *DrawingSession) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *DrawingSession) notify() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Freeze 以後の編集を err で拒否する
func (s *DrawingSession) Freeze(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = err
}

// Thaw 編集の受け付けを再開する
func (s *DrawingSession) Thaw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = nil
}

// mutate ロック内で fn を実行し、成功した場合のみ通知する
func (s *DrawingSession) mutate(fn func() error) error {
	s.mu.Lock()
	err := s.frozen
	if err == nil {
		err = fn()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// CreateFeature 描画完了時に要素を作成し、リスト末尾とジオメトリテーブルに追加する
func (s *DrawingSession) CreateFeature(kind model.Kind, geom orb.Geometry) (*model.Feature, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", model.ErrGeometryMismatch, kind)
	}
	normalized, err := normalizeGeometry(kind, geom)
	if err != nil {
		return nil, err
	}

	var created *model.Feature
	err = s.mutate(func() error {
		id := model.NewFeatureID(kind, s.now())
		for s.geometries[id] != nil {
			id = model.NewFeatureID(kind, s.now())
		}

		f := &model.Feature{
			ID:    id,
			Kind:  kind,
			Color: s.pickColor(kind),
			Name:  s.nextName(kind),
		}
		if kind == model.KindPolygon {
			f.ZoneType = model.ZoneTypeFree
			f.Status = model.ZoneStatusAvailable
			f.Components = []model.Component{}
		}

		s.features = append(s.features, f)
		s.geometries[id] = normalized
		created = f.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// normalizeGeometry 種類との整合を確認し、ポリゴンのリングを閉じたコピーを返す
func normalizeGeometry(kind model.Kind, geom orb.Geometry) (orb.Geometry, error) {
	if geom == nil {
		return nil, fmt.Errorf("%w: nil geometry", model.ErrGeometryMismatch)
	}
	if geom.GeoJSONType() != kind.GeometryType() {
		return nil, fmt.Errorf("%w: %s with %s", model.ErrGeometryMismatch, kind, geom.GeoJSONType())
	}

	g := orb.Clone(geom)
	switch v := g.(type) {
	case orb.LineString:
		if len(v) < 2 {
			return nil, fmt.Errorf("%w: line needs at least two positions", model.ErrGeometryMismatch)
		}
	case orb.Polygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: polygon without rings", model.ErrGeometryMismatch)
		}
		for i, r := range v {
			if len(r) < 3 {
				return nil, fmt.Errorf("%w: polygon ring needs at least three positions", model.ErrGeometryMismatch)
			}
			if !r.Closed() {
				v[i] = append(r, r[0])
			}
		}
	}
	return g, nil
}

func (s *DrawingSession) pickColor(kind model.Kind) string {
	palette := model.Palette(kind)
	idx := s.colorIdx[kind]
	s.colorIdx[kind] = idx + 1
	return palette[idx%len(palette)]
}

func (s *DrawingSession) nextName(kind model.Kind) string {
	s.counters[kind]++
	return fmt.Sprintf("%s %d", model.NameLabel(kind), s.counters[kind])
}

func (s *DrawingSession) indexOf(id string) int {
	for i, f := range s.features {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (s *DrawingSession) lookup(id string) (*model.Feature, error) {
	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownFeature, id)
	}
	return s.features[i], nil
}

func (s *DrawingSession) lookupZone(id string) (*model.Feature, error) {
	f, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !f.IsZone() {
		return nil, fmt.Errorf("%w: %s", model.ErrNotAZone, id)
	}
	return f, nil
}

// UpdateField 要素のスカラー項目を更新する
// 存在しないIDやポリゴン以外へのゾーン項目は状態を変えずにエラーを返す
func (s *DrawingSession) UpdateField(id string, field model.Field, value string) error {
	return s.mutate(func() error {
		f, err := s.lookup(id)
		if err != nil {
			return err
		}
		switch field {
		case model.FieldName:
			f.Name = value
		case model.FieldNote:
			f.Note = value
		case model.FieldColor:
			f.Color = value
		case model.FieldZoneType, model.FieldStatus:
			if !f.IsZone() {
				return fmt.Errorf("%w: %s", model.ErrNotAZone, id)
			}
			if field == model.FieldZoneType {
				f.ZoneType = value
			} else {
				f.Status = value
			}
		default:
			return fmt.Errorf("%w: %q", model.ErrUnknownField, field)
		}
		return nil
	})
}

// AddComponent ゾーンに空のコンポーネントを追加する
func (s *DrawingSession) AddComponent(zoneID string) (model.Component, error) {
	var comp model.Component
	err := s.mutate(func() error {
		zone, err := s.lookupZone(zoneID)
		if err != nil {
			return err
		}
		comp = model.Component{
			ID:   model.NewComponentID(s.now()),
			Type: model.ComponentTypeOther,
		}
		zone.Components = append(zone.Components, comp)
		return nil
	})
	return comp, err
}

// UpdateComponent コンポーネントの名前・メモ・種別を更新する
func (s *DrawingSession) UpdateComponent(zoneID, compID string, field model.Field, value string) error {
	return s.mutate(func() error {
		zone, err := s.lookupZone(zoneID)
		if err != nil {
			return err
		}
		for i := range zone.Components {
			c := &zone.Components[i]
			if c.ID != compID {
				continue
			}
			switch field {
			case model.FieldName:
				c.Name = value
			case model.FieldNote:
				c.Note = value
			case model.FieldType:
				c.Type = value
			default:
				return fmt.Errorf("%w: %q", model.ErrUnknownField, field)
			}
			return nil
		}
		return fmt.Errorf("%w: %s", model.ErrUnknownComponent, compID)
	})
}

// DeleteComponent コンポーネントを削除する
func (s *DrawingSession) DeleteComponent(zoneID, compID string) error {
	return s.mutate(func() error {
		zone, err := s.lookupZone(zoneID)
		if err != nil {
			return err
		}
		kept := make([]model.Component, 0, len(zone.Components))
		for _, c := range zone.Components {
			if c.ID != compID {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(zone.Components) {
			return fmt.Errorf("%w: %s", model.ErrUnknownComponent, compID)
		}
		zone.Components = kept
		return nil
	})
}

// DeleteFeature ジオメトリとリスト行を同時に削除し、選択・展開・ホバーの参照も外す
func (s *DrawingSession) DeleteFeature(id string) error {
	return s.mutate(func() error {
		i := s.indexOf(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", model.ErrUnknownFeature, id)
		}
		s.features = append(s.features[:i], s.features[i+1:]...)
		delete(s.geometries, id)

		if s.selectedID == id {
			s.selectedID = ""
		}
		if s.expandedID == id {
			s.expandedID = ""
		}
		if s.hoveredID == id {
			s.hoveredID = ""
		}
		return nil
	})
}

// SelectFeature 要素を排他的に選択し、表示範囲合わせ用に Web メルカトルの境界を返す
func (s *DrawingSession) SelectFeature(id string) (orb.Bound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	geom, ok := s.geometries[id]
	if !ok {
		return orb.Bound{}, fmt.Errorf("%w: %s", model.ErrUnknownFeature, id)
	}
	s.selectedID = id
	return mercatorBound(geom), nil
}

func mercatorBound(geom orb.Geometry) orb.Bound {
	projected := project.Geometry(orb.Clone(geom), project.WGS84.ToMercator)
	return projected.Bound()
}

// FocusZone 名前でゾーンを探して選択・展開する（タスク画面からの遷移用）
func (s *DrawingSession) FocusZone(name string) (string, orb.Bound, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := strings.TrimSpace(name)
	for _, f := range s.features {
		if f.IsZone() && strings.EqualFold(strings.TrimSpace(f.Name), target) {
			s.selectedID = f.ID
			s.expandedID = f.ID
			return f.ID, mercatorBound(s.geometries[f.ID]), nil
		}
	}
	return "", orb.Bound{}, fmt.Errorf("%w: zone %q", model.ErrUnknownFeature, name)
}

// SetHovered ホバー中の要素を設定（空文字で解除）
func (s *DrawingSession) SetHovered(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.geometries[id] == nil {
		return fmt.Errorf("%w: %s", model.ErrUnknownFeature, id)
	}
	s.hoveredID = id
	return nil
}

// ToggleExpanded ゾーンのコンポーネントパネルを開閉する
func (s *DrawingSession) ToggleExpanded(zoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookupZone(zoneID); err != nil {
		return err
	}
	if s.expandedID == zoneID {
		s.expandedID = ""
	} else {
		s.expandedID = zoneID
	}
	return nil
}

// Selected 選択中のID
func (s *DrawingSession) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedID
}

// Hovered ホバー中のID
func (s *DrawingSession) Hovered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hoveredID
}

// Expanded コンポーネントパネルを開いているゾーンのID
func (s *DrawingSession) Expanded() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expandedID
}

// Features 表示順の要素一覧（コピー）
func (s *DrawingSession) Features() []*model.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Feature, len(s.features))
	for i, f := range s.features {
		out[i] = f.Clone()
	}
	return out
}

// Feature IDで要素を取得（コピー）
func (s *DrawingSession) Feature(id string) (*model.Feature, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return s.features[i].Clone(), true
}

// Geometry IDでジオメトリを取得（コピー、経度・緯度）
func (s *DrawingSession) Geometry(id string) (orb.Geometry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.geometries[id]
	if !ok {
		return nil, false
	}
	return orb.Clone(g), true
}

// Len 要素数
func (s *DrawingSession) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.features)
}

// Counts 種類別・ゾーン状態別の件数（読み出しのたびに計算）
func (s *DrawingSession) Counts() model.Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := model.Counts{Statuses: make(map[string]int, len(model.ZoneStatuses)+1)}
	for _, st := range model.ZoneStatuses {
		c.Statuses[st] = 0
	}
	c.Statuses[model.ZoneStatusOther] = 0

	for _, f := range s.features {
		switch f.Kind {
		case model.KindPoint:
			c.Points++
		case model.KindLine:
			c.Lines++
		case model.KindPolygon:
			c.Zones++
			status := f.Status
			if status == "" {
				status = model.ZoneStatusAvailable
			}
			if model.IsKnownZoneStatus(status) {
				c.Statuses[status]++
			} else {
				c.Statuses[model.ZoneStatusOther]++
			}
		}
	}
	return c
}

// View 現在の表示範囲
func (s *DrawingSession) View() model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetView 表示範囲を設定する（変更通知は行わない）
func (s *DrawingSession) SetView(v model.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

// Snapshot 現在の状態を永続化用に書き出す
func (s *DrawingSession) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.view
	snap := model.Snapshot{View: &view, Features: make([]model.FeatureRecord, 0, len(s.features))}
	for _, f := range s.features {
		// テーブルとリストは常に一致しているため失敗しない
		rec, err := model.EncodeFeature(f, s.geometries[f.ID])
		if err != nil {
			continue
		}
		snap.Features = append(snap.Features, rec)
	}
	return snap
}

// Replace 状態をスナップショットで丸ごと置き換える
// カウンタとパレット位置は読み込んだデータから作り直す。変更通知は行わない。
// 復元できなかったレコードはスキップし、その理由を返す。
func (s *DrawingSession) Replace(snap model.Snapshot) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	s.features = nil
	s.geometries = make(map[string]orb.Geometry)
	s.counters = make(map[model.Kind]int)
	s.colorIdx = make(map[model.Kind]int)
	s.selectedID, s.hoveredID, s.expandedID = "", "", ""

	s.view = model.DefaultView()
	if snap.View != nil {
		s.view = *snap.View
	}

	for _, rec := range snap.Features {
		f, geom, err := model.DecodeFeature(rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := s.geometries[f.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %s", model.ErrMalformedRemoteData, f.ID))
			continue
		}
		if f.IsZone() {
			if g, err := normalizeGeometry(f.Kind, geom); err == nil {
				geom = g
			}
		}

		s.counters[f.Kind]++
		if n, ok := nameCounter(f.Kind, f.Name); ok && n > s.counters[f.Kind] {
			s.counters[f.Kind] = n
		}
		if strings.TrimSpace(f.Name) == "" {
			f.Name = fmt.Sprintf("%s %d", model.NameLabel(f.Kind), s.counters[f.Kind])
		}

		palette := model.Palette(f.Kind)
		if f.Color == "" {
			f.Color = palette[s.colorIdx[f.Kind]%len(palette)]
		}
		s.colorIdx[f.Kind]++

		s.features = append(s.features, f)
		s.geometries[f.ID] = geom
	}
	return errs
}

// nameCounter 自動命名された名前（"Punto 3" など）から番号を取り出す
func nameCounter(kind model.Kind, name string) (int, bool) {
	prefix := model.NameLabel(kind) + " "
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
