package model

// User ログイン中のユーザー
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// LoginRequest POST /api/auth/login のリクエストボディ
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse POST /api/auth/login のレスポンス
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
