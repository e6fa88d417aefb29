package store

// Split combines a portfolio store and a leaderboard store into one Store,
// e.g. a local SQLite portfolio with a shared PostgreSQL leaderboard.
type Split struct {
	PortfolioStore
	LeaderboardStore
}
