package http

// CreateSessionRequest represents the payload for /create-session.
type CreateSessionRequest struct {
	GMName string `json:"gmName"`
	System string `json:"system"`
}

// JoinSessionRequest represents the payload for /join-session.
type JoinSessionRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// OverrideRequest represents a classification override change.
type OverrideRequest struct {
	Code       string `json:"code"`
	GMID       string `json:"gmId"`
	ActionType string `json:"actionType"`
	Level      string `json:"level"`
}
