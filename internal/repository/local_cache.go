package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

// KVLocalCache キー・バリューストア上のローカルキャッシュ
// 表示範囲・描画データ・アクティブファーム・トークンを固定キーで保持する
// 描画データと表示範囲は保存元のファームIDと組で扱う
type KVLocalCache struct {
	store repository.KVStore
}

// NewKVLocalCache 新しい KVLocalCache を作成
func NewKVLocalCache(store repository.KVStore) *KVLocalCache {
	return &KVLocalCache{store: store}
}

var (
	_ repository.LocalCache   = (*KVLocalCache)(nil)
	_ repository.SessionStore = (*KVLocalCache)(nil)
)

// Load farmID のキャッシュ済みスナップショット
// 描画データも表示範囲もない場合、別のファームで保存された場合は nil
func (c *KVLocalCache) Load(ctx context.Context, farmID string) (*model.Snapshot, error) {
	owner, _, err := c.store.Get(ctx, model.KeyCacheFarmID)
	if err != nil {
		return nil, err
	}
	if owner != farmID {
		return nil, nil
	}

	rawDrawings, hasDrawings, err := c.store.Get(ctx, model.KeyDrawings)
	if err != nil {
		return nil, err
	}
	rawView, hasView, err := c.store.Get(ctx, model.KeyView)
	if err != nil {
		return nil, err
	}
	if !hasDrawings && !hasView {
		return nil, nil
	}

	snap := &model.Snapshot{}
	if hasView {
		var cv model.CachedView
		// 壊れた表示範囲は無視して初期値に任せる
		if err := json.Unmarshal([]byte(rawView), &cv); err == nil {
			v := cv.View()
			snap.View = &v
		}
	}
	if hasDrawings {
		if err := json.Unmarshal([]byte(rawDrawings), &snap.Features); err != nil {
			return nil, fmt.Errorf("描画データのJSONアンマーシャル失敗: %w", err)
		}
	}
	return snap, nil
}

// Save farmID のスナップショットとして保存
func (c *KVLocalCache) Save(ctx context.Context, farmID string, snap model.Snapshot) error {
	features := snap.Features
	if features == nil {
		features = []model.FeatureRecord{}
	}
	data, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("描画データのJSONマーシャル失敗: %w", err)
	}
	owner, _, err := c.store.Get(ctx, model.KeyCacheFarmID)
	if err != nil {
		return err
	}
	if owner != farmID {
		// 別ファームの内容を先に消してから持ち主を切り替える
		if err := c.store.Delete(ctx, model.KeyView, model.KeyDrawings); err != nil {
			return err
		}
		if err := c.store.Set(ctx, model.KeyCacheFarmID, farmID); err != nil {
			return err
		}
	}
	if err := c.store.Set(ctx, model.KeyDrawings, string(data)); err != nil {
		return err
	}

	if snap.View != nil {
		view, err := json.Marshal(snap.View.Cached())
		if err != nil {
			return fmt.Errorf("表示範囲のJSONマーシャル失敗: %w", err)
		}
		if err := c.store.Set(ctx, model.KeyView, string(view)); err != nil {
			return err
		}
	}
	return nil
}

// Token 保存済みの認証トークン（なければ空文字）
func (c *KVLocalCache) Token(ctx context.Context) (string, error) {
	v, _, err := c.store.Get(ctx, model.KeyToken)
	return v, err
}

// SetToken トークンとユーザーを保存
func (c *KVLocalCache) SetToken(ctx context.Context, token string, user *model.User) error {
	if err := c.store.Set(ctx, model.KeyToken, token); err != nil {
		return err
	}
	if user == nil {
		return c.store.Delete(ctx, model.KeyUser)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("ユーザーのJSONマーシャル失敗: %w", err)
	}
	return c.store.Set(ctx, model.KeyUser, string(data))
}

// User 保存済みのユーザー（なければ nil）
func (c *KVLocalCache) User(ctx context.Context) (*model.User, error) {
	raw, ok, err := c.store.Get(ctx, model.KeyUser)
	if err != nil || !ok {
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("ユーザーのJSONアンマーシャル失敗: %w", err)
	}
	return &u, nil
}

// ActiveFarmID アクティブなファームID（なければ空文字）
func (c *KVLocalCache) ActiveFarmID(ctx context.Context) (string, error) {
	v, _, err := c.store.Get(ctx, model.KeyActiveFarmID)
	return v, err
}

// SetActiveFarmID アクティブなファームIDを保存
func (c *KVLocalCache) SetActiveFarmID(ctx context.Context, farmID string) error {
	return c.store.Set(ctx, model.KeyActiveFarmID, farmID)
}

// Clear ログアウト時にトークン・ユーザー・アクティブファームを消す
func (c *KVLocalCache) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, model.KeyToken, model.KeyUser, model.KeyActiveFarmID)
}
