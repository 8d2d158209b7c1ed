package model

// Kind は地図上の描画要素の種類
type Kind string

const (
	KindPoint   Kind = "point"
	KindLine    Kind = "line"
	KindPolygon Kind = "polygon"
)

// Kinds は表示順に並べた全種類
var Kinds = []Kind{KindPoint, KindLine, KindPolygon}

// Valid 既知の種類かどうか
func (k Kind) Valid() bool {
	return k == KindPoint || k == KindLine || k == KindPolygon
}

// GeometryType シリアライズ時のジオメトリ種別
func (k Kind) GeometryType() string {
	switch k {
	case KindPoint:
		return GeometryPoint
	case KindLine:
		return GeometryLineString
	case KindPolygon:
		return GeometryPolygon
	}
	return ""
}

// ジオメトリ種別（OpenLayers / GeoJSON 互換の名前）
const (
	GeometryPoint      = "Point"
	GeometryLineString = "LineString"
	GeometryPolygon    = "Polygon"
)

// KindForGeometryType ジオメトリ種別から要素の種類を求める
func KindForGeometryType(geomType string) (Kind, bool) {
	switch geomType {
	case GeometryPoint:
		return KindPoint, true
	case GeometryLineString:
		return KindLine, true
	case GeometryPolygon:
		return KindPolygon, true
	}
	return "", false
}

// パレット（種類ごとにラウンドロビンで割り当てる）
var (
	PointColors   = []string{"#f97316", "#22c55e", "#38bdf8", "#eab308", "#ec4899"}
	LineColors    = []string{"#22c55e", "#38bdf8", "#f97316", "#a855f7", "#facc15"}
	PolygonColors = []string{"#22c55e88", "#38bdf888", "#f9731688", "#a855f788"}
)

// Palette 種類に対応するパレット
func Palette(kind Kind) []string {
	switch kind {
	case KindLine:
		return LineColors
	case KindPolygon:
		return PolygonColors
	}
	return PointColors
}

// NameLabel 自動命名に使うラベル
func NameLabel(kind Kind) string {
	switch kind {
	case KindPoint:
		return "Punto"
	case KindLine:
		return "Línea"
	}
	return "Zona"
}

// ゾーン種別
const (
	ZoneTypeAnimals  = "Zona de animales"
	ZoneTypeCorridor = "Pasillo"
	ZoneTypeCrop     = "Cultivo"
	ZoneTypeFree     = "Zona libre"
)

// ZoneTypes ゾーン種別の一覧
var ZoneTypes = []string{ZoneTypeAnimals, ZoneTypeCorridor, ZoneTypeCrop, ZoneTypeFree}

// ゾーン状態
const (
	ZoneStatusOperational  = "Operativa"
	ZoneStatusHighPriority = "Prioridad alta"
	ZoneStatusHarvestSoon  = "Cosecha próxima"
	ZoneStatusAvailable    = "Disponible"
	// ZoneStatusOther 一覧にない状態の集計先
	ZoneStatusOther = "Otro"
)

// ZoneStatuses ゾーン状態の一覧
var ZoneStatuses = []string{ZoneStatusOperational, ZoneStatusHighPriority, ZoneStatusHarvestSoon, ZoneStatusAvailable}

// ComponentTypes ゾーン内コンポーネントの種別一覧
var ComponentTypes = []string{
	"Bebedero",
	"Comedero",
	"Bodega",
	"Lote de cultivo",
	"Pasillo",
	"Área de descanso",
	ComponentTypeOther,
}

// ComponentTypeOther コンポーネント種別のデフォルト
const ComponentTypeOther = "Otro"

// 初期表示位置
const (
	DefaultCenterLon = -84.433
	DefaultCenterLat = 10.34
	DefaultZoom      = 15.0
)

// DefaultFarmName ファームが一つもない場合に作成する名前
const DefaultFarmName = "Mi finca"

// ローカルキャッシュのキー
const (
	KeyView         = "agromind_farm_view"
	KeyDrawings     = "agromind_farm_drawings"
	KeyCacheFarmID  = "agromind_farm_cache_owner"
	KeyActiveFarmID = "agromind_active_farm_id"
	KeyToken        = "agromind_token"
	KeyUser         = "agromind_user"
)

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// IsKnownZoneStatus 一覧にある状態かどうか
func IsKnownZoneStatus(s string) bool {
	return contains(ZoneStatuses, s)
}
