package models

// RankingEntry is one row of a campaign leaderboard as served to clients.
type RankingEntry struct {
	Rank     int     `json:"rank"`
	UserID   string  `json:"user_id"`
	Username string  `json:"username,omitempty"`
	Score    float64 `json:"score"`
	Price    float64 `json:"price,omitempty"`
}

// RankingSnapshot is the composite leaderboard state fetched for a broadcast
// tick or a stats read. MinWinningScore is nil while fewer than K bidders
// exist; MaxScore is nil while the board is empty.
type RankingSnapshot struct {
	TopK              []RankingEntry `json:"top_k"`
	TotalParticipants int64          `json:"total_participants"`
	MinWinningScore   *float64       `json:"min_winning_score"`
	MaxScore          *float64       `json:"max_score"`
}
