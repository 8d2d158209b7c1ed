package repository

import (
	"context"

	"agromind-map/internal/domain/model"
)

// KVStore ブラウザの localStorage に相当する文字列キー・バリューストア
// 存在しないキーは ok=false で返す
type KVStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// LocalCache 最後に把握している地図の状態をローカルに保持する
// キャッシュは保存したファームにだけ属する
type LocalCache interface {
	// Load farmID のキャッシュ済みスナップショット（なければ、または別ファームのものなら nil）
	Load(ctx context.Context, farmID string) (*model.Snapshot, error)
	// Save farmID のスナップショットとして保存
	Save(ctx context.Context, farmID string, snap model.Snapshot) error
}

// SessionStore 認証トークンとアクティブファームの保存先
type SessionStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string, user *model.User) error
	User(ctx context.Context) (*model.User, error)
	ActiveFarmID(ctx context.Context) (string, error)
	SetActiveFarmID(ctx context.Context, farmID string) error
	// Clear トークン・ユーザー・アクティブファームを消す
	Clear(ctx context.Context) error
}
