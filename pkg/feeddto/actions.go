package feeddto

// MoveRequest submits one agent move for a game.
type MoveRequest struct {
	GameID string `json:"game_id"`
	Move   string `json:"move"`
}

// ResignRequest forfeits a game.
type ResignRequest struct {
	GameID string `json:"game_id"`
}

// DrawResponse accepts or declines a pending draw offer.
type DrawResponse struct {
	GameID string `json:"game_id"`
	Accept bool   `json:"accept"`
}

// ChallengeRequest asks the matchmaking service to create a challenge.
type ChallengeRequest struct {
	Opponent  string `json:"opponent"`
	Rated     bool   `json:"rated"`
	TimeLimit int64  `json:"time_limit_ms"`
	Increment int64  `json:"increment_ms"`
	Color     string `json:"color"`
}

// ChallengeDecision accepts or declines an incoming challenge.
type ChallengeDecision struct {
	ChallengeID string `json:"challenge_id"`
	Accept      bool   `json:"accept"`
}

// OnlineBot is one entry from the online opponents listing.
type OnlineBot struct {
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
}
