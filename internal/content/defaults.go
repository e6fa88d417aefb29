package content

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// DefaultCompanies is the built-in market used when generation fails.
func DefaultCompanies() []model.Company {
	return []model.Company{
		{Ticker: "TECH", Name: "TechNova Systems", Sector: "Technology", Risk: 0.6, Volatility: 0.7, BasePrice: price("125.50"),
			Description: "A leading provider of cloud infrastructure solutions."},
		{Ticker: "MEDI", Name: "MediCore Pharmaceuticals", Sector: "Healthcare", Risk: 0.5, Volatility: 0.6, BasePrice: price("87.25"),
			Description: "Develops innovative treatments for rare diseases."},
		{Ticker: "FINX", Name: "FinTech Global", Sector: "Finance", Risk: 0.7, Volatility: 0.8, BasePrice: price("45.80"),
			Description: "Digital banking and payment solutions platform."},
		{Ticker: "ENER", Name: "SolarFlux Energy", Sector: "Energy", Risk: 0.6, Volatility: 0.75, BasePrice: price("32.15"),
			Description: "Renewable energy infrastructure and solar panel manufacturing."},
		{Ticker: "CONS", Name: "ConsumerMax Retail", Sector: "Consumer Goods", Risk: 0.4, Volatility: 0.5, BasePrice: price("156.90"),
			Description: "Global retail chain specializing in consumer electronics."},
		{Ticker: "INDU", Name: "Industrial Dynamics", Sector: "Industrial", Risk: 0.5, Volatility: 0.55, BasePrice: price("78.40"),
			Description: "Manufacturing automation and industrial equipment."},
		{Ticker: "REAL", Name: "Metro Realty Group", Sector: "Real Estate", Risk: 0.5, Volatility: 0.6, BasePrice: price("92.75"),
			Description: "Commercial and residential real estate development."},
		{Ticker: "TELX", Name: "TeleConnect Networks", Sector: "Telecommunications", Risk: 0.4, Volatility: 0.5, BasePrice: price("68.30"),
			Description: "5G network infrastructure and telecommunications services."},
	}
}
