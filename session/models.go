package session

import "time"

// Session is the authenticated context for one installed shop: the shop
// domain plus the offline access credential used against the commerce API.
type Session struct {
	ID          string
	Shop        string
	AccessToken string
	Scope       string
	IsOnline    bool
	CreatedAt   time.Time
}

// SaveParams contains the fields persisted for a new session.
type SaveParams struct {
	Shop        string
	AccessToken string
	Scope       string
	IsOnline    bool
}
