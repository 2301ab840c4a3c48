package user

// User is identified by ID; Username is display-only.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the success body shared by /login, /users and /refresh-token.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type BatchQuery struct {
	IDs []string `json:"ids"`
}

type ListResponse struct {
	Users []User `json:"users"`
}
