package model

import "errors"

var (
	// ErrAuthRequired トークンがない、またはバックエンドに拒否された
	ErrAuthRequired = errors.New("authentication required")
	// ErrBackendUnreachable ネットワークエラーまたは2xx以外の応答
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrMalformedRemoteData 想定外の形のレコード（読み込み時はスキップされる）
	ErrMalformedRemoteData = errors.New("malformed remote data")
	// ErrNotAZone ポリゴン以外へのゾーン操作
	ErrNotAZone = errors.New("feature is not a zone")
	// ErrUnknownFeature 存在しないIDへの操作
	ErrUnknownFeature = errors.New("unknown feature id")
	// ErrUnknownComponent 存在しないコンポーネントIDへの操作
	ErrUnknownComponent = errors.New("unknown component id")
	// ErrUnknownField 編集できないフィールド名
	ErrUnknownField = errors.New("unknown field")
	// ErrGeometryMismatch 種類とジオメトリが一致しない
	ErrGeometryMismatch = errors.New("geometry does not match feature kind")
	// ErrLoadInProgress 読み込み中の編集
	ErrLoadInProgress = errors.New("map load in progress")
	// ErrFarmNotFound ファームが存在しない
	ErrFarmNotFound = errors.New("farm not found")
	// ErrInvalidMapPayload 保存リクエストの検証エラー
	ErrInvalidMapPayload = errors.New("invalid map payload")
)

// IsSilent UIが黙って無視してよいエラーかどうか
func IsSilent(err error) bool {
	return errors.Is(err, ErrUnknownFeature) ||
		errors.Is(err, ErrUnknownComponent) ||
		errors.Is(err, ErrNotAZone)
}
