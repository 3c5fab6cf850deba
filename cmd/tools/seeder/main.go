package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/konnect-pay/internal/app"
	"github.com/noah-isme/konnect-pay/internal/obs"
	"github.com/noah-isme/konnect-pay/internal/payment"
)

type demoOrder struct {
	ID        string
	Total     string
	Email     string
	FirstName string
	LastName  string
}

// Demo orders used when exercising the sandbox by hand.
var demoOrders = []demoOrder{
	{ID: "100", Total: "5.000", Email: "amel@example.tn", FirstName: "Amel", LastName: "Ben Salah"},
	{ID: "7", Total: "1.000", Email: "karim@example.tn", FirstName: "Karim", LastName: "Trabelsi"},
	{ID: "42", Total: "9.000", Email: "", FirstName: "", LastName: ""},
	{ID: "999", Total: "1.000", Email: "sonia@example.tn", FirstName: "Sonia", LastName: "Jaziri"},
}

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := app.NewPool(ctx, dbURL, "konnect-pay-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	for _, o := range demoOrders {
		amount, err := payment.ToMinorUnits(o.Total, "TND")
		if err != nil {
			logger.Error().Err(err).Str("order_id", o.ID).Msg("skip order")
			continue
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO orders (id, total_amount, currency, email, billing_first_name, billing_last_name)
			VALUES ($1, $2, 'TND', $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET total_amount = EXCLUDED.total_amount, updated_at = now()`,
			o.ID, amount, o.Email, o.FirstName, o.LastName)
		if err != nil {
			logger.Error().Err(err).Str("order_id", o.ID).Msg("seed order")
			continue
		}
		logger.Info().Str("order_id", o.ID).Int64("total_millimes", amount).Msg("order seeded")
	}
}
