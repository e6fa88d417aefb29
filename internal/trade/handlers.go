package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/company"
	"github.com/atmx/tradestreet/internal/ledger"
	"github.com/atmx/tradestreet/internal/model"
	"github.com/atmx/tradestreet/internal/ranking"
)

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /portfolio/buy and /portfolio/sell.
type TradeRequest struct {
	Ticker string `json:"ticker"`
	Shares int64  `json:"shares"`
}

// PublishRequest is the JSON body for POST /leaderboard.
type PublishRequest struct {
	Identity   string          `json:"identity"`
	PnL        decimal.Decimal `json:"pnl"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// PositionView is a position marked to the current price.
type PositionView struct {
	Ticker        string          `json:"ticker"`
	Shares        int64           `json:"shares"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is the JSON body returned from GET /portfolio.
type PortfolioResponse struct {
	Identity      string          `json:"identity"`
	Cash          decimal.Decimal `json:"cash"`
	Positions     []PositionView  `json:"positions"`
	MarketValue   decimal.Decimal `json:"market_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Rank          int             `json:"rank,omitempty"`
}

// RankResponse is the JSON body returned from GET /leaderboard/{identity}/rank.
type RankResponse struct {
	Identity string                  `json:"identity"`
	Rank     int                     `json:"rank"`
	Ranked   bool                    `json:"ranked"`
	Entry    *model.LeaderboardEntry `json:"entry,omitempty"`
}

// --- HTTP Handlers ---

// GetCompanies handles GET /api/v1/companies
func (s *Service) GetCompanies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.book.Companies())
}

// GetPrices handles GET /api/v1/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.book.Prices())
}

// GetPriceHistory handles GET /api/v1/prices/{ticker}/history
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	ticker := company.NormalizeTicker(chi.URLParam(r, "ticker"))
	if _, ok := s.book.Company(ticker); !ok {
		writeError(w, "unknown ticker: "+ticker, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.book.History(ticker))
}

// GetNews handles GET /api/v1/news?limit=N
func (s *Service) GetNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}
	news := s.book.News(limit)
	if news == nil {
		news = []model.NewsEvent{}
	}
	writeJSON(w, http.StatusOK, news)
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns positions marked to market, total value, and unrealized P&L.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.portfolioResponse(s.session.Portfolio()))
}

func (s *Service) portfolioResponse(p model.Portfolio) PortfolioResponse {
	prices := s.book.Prices()
	views := make([]PositionView, 0, len(p.Positions))
	for _, pos := range p.Positions {
		price := prices[pos.Ticker]
		value := price.Mul(decimal.NewFromInt(pos.Shares))
		views = append(views, PositionView{
			Ticker:        pos.Ticker,
			Shares:        pos.Shares,
			AveragePrice:  pos.AveragePrice,
			CurrentPrice:  price,
			CostBasis:     pos.CostBasis(),
			MarketValue:   value,
			UnrealizedPnL: value.Sub(pos.CostBasis()),
		})
	}

	resp := PortfolioResponse{
		Identity:      s.identity,
		Cash:          p.Cash,
		Positions:     views,
		MarketValue:   ledger.MarketValue(p, prices),
		TotalValue:    ledger.Valuation(p, prices),
		UnrealizedPnL: ledger.UnrealizedPnL(p, prices),
	}
	if rank, ok := s.board.RankOf(s.identity); ok {
		resp.Rank = rank
	}
	return resp
}

// BuyShares handles POST /api/v1/portfolio/buy
func (s *Service) BuyShares(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, SideBuy)
}

// SellShares handles POST /api/v1/portfolio/sell
func (s *Service) SellShares(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, SideSell)
}

func (s *Service) handleTrade(w http.ResponseWriter, r *http.Request, side string) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.execute(r.Context(), side, req.Ticker, req.Shares)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// ResetPortfolio handles POST /api/v1/portfolio/reset
func (s *Service) ResetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.Reset()
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, s.portfolioResponse(p))
}

// GetLeaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", s.topN)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.TopN(limit))
}

// GetRank handles GET /api/v1/leaderboard/{identity}/rank
func (s *Service) GetRank(w http.ResponseWriter, r *http.Request) {
	id := ranking.NormalizeIdentity(chi.URLParam(r, "identity"))
	if id == "" {
		writeError(w, "identity is required", http.StatusBadRequest)
		return
	}

	resp := RankResponse{Identity: id}
	if rank, ok := s.board.RankOf(id); ok {
		entry, _ := s.board.Entry(id)
		resp.Rank = rank
		resp.Ranked = true
		resp.Entry = &entry
	}
	writeJSON(w, http.StatusOK, resp)
}

// PublishEntry handles POST /api/v1/leaderboard
func (s *Service) PublishEntry(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := s.PublishSnapshot(r.Context(), req.Identity, req.PnL, req.TotalValue)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, company.ErrUnknownTicker):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, company.ErrInvalidTicker),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrEmptyTicker),
		errors.Is(err, ranking.ErrEmptyIdentity):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, key+" must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
