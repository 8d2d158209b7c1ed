package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/domain/repository"
)

// defaultTimeout 1リクエストあたりの上限
const defaultTimeout = 15 * time.Second

// Client ファーム地図バックエンドのRESTクライアント
// 認証トークンは SessionStore から毎回読み出す
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    repository.SessionStore
}

var (
	_ repository.RemoteMapStore = (*Client)(nil)
	_ repository.FarmDirectory  = (*Client)(nil)
	_ repository.Authenticator  = (*Client)(nil)
)

// NewClient は新しいクライアントを生成する
func NewClient(baseURL string, session repository.SessionStore) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		session:    session,
	}
}

// WithHTTPClient テスト用に http.Client を差し替える
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Login POST /api/auth/login
func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", false, &model.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: login response without token", model.ErrBackendUnreachable)
	}
	return &resp, nil
}

// Me GET /api/auth/me
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", true, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListFarms GET /api/farms
func (c *Client) ListFarms(ctx context.Context) ([]model.Farm, error) {
	var farms []model.Farm
	if err := c.do(ctx, http.MethodGet, "/api/farms", true, nil, &farms); err != nil {
		return nil, err
	}
	return farms, nil
}

// CreateFarm POST /api/farms
func (c *Client) CreateFarm(ctx context.Context, name string) (*model.Farm, error) {
	var farm model.Farm
	if err := c.do(ctx, http.MethodPost, "/api/farms", true, &model.CreateFarmRequest{Name: name}, &farm); err != nil {
		return nil, err
	}
	return &farm, nil
}

// FetchMap GET /api/farms/{id}/map
func (c *Client) FetchMap(ctx context.Context, farmID string) (*model.FarmMap, error) {
	var m model.FarmMap
	if err := c.do(ctx, http.MethodGet, mapPath(farmID), true, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMap PUT /api/farms/{id}/map（全置換）
func (c *Client) SaveMap(ctx context.Context, farmID string, req *model.SaveMapRequest) error {
	return c.do(ctx, http.MethodPut, mapPath(farmID), true, req, nil)
}

func mapPath(farmID string) string {
	return "/api/farms/" + url.PathEscape(farmID) + "/map"
}

// errorBody バックエンドのエラーレスポンス
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, auth bool, body, out interface{}) error {
	var token string
	if auth {
		t, err := c.session.Token(ctx)
		if err != nil {
			return fmt.Errorf("トークンの読み込みに失敗: %w", err)
		}
		if t == "" {
			return model.ErrAuthRequired
		}
		token = t
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストのJSONマーシャル失敗: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s %s: %v", model.ErrBackendUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", model.ErrAuthRequired, readErrorMessage(resp.Body))
	}
	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/api/farms/") {
		return fmt.Errorf("%w: %s", model.ErrFarmNotFound, readErrorMessage(resp.Body))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %s: %s", model.ErrBackendUnreachable, method, path, resp.Status, readErrorMessage(resp.Body))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: JSONのパースに失敗: %v", model.ErrMalformedRemoteData, err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && (eb.Message != "" || eb.Error != "") {
		if eb.Message == "" {
			return eb.Error
		}
		return eb.Message
	}
	return strings.TrimSpace(string(data))
}
