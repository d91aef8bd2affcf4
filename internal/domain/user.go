package domain

// Identity is the authenticated user behind a channel session. It is issued by the
// authentication service and carried in the bearer token.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}
