package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hkanaan/sarraf/internal/auth"
	"github.com/hkanaan/sarraf/internal/config"
	"github.com/hkanaan/sarraf/internal/db"
	"github.com/hkanaan/sarraf/internal/exchange"
	"github.com/hkanaan/sarraf/internal/logger"
	"github.com/hkanaan/sarraf/internal/models"

	"github.com/shopspring/decimal"
)

// Seed the database with demo users, funded balances and a spread of offers
func main() {
	ctx := context.Background()

	log := logger.New("sarraf-seed", "info", "console")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := db.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	// Skip if already seeded
	offers, err := database.GetOpenOffers(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check offers")
	}
	if len(offers) > 0 {
		fmt.Printf("Database already has %d open offers. No need to seed.\n", len(offers))
		os.Exit(0)
	}

	authService := auth.NewService(database, cfg.JWT.Secret, cfg.JWT.TTL)

	type seedUser struct {
		username string
		usd      string
		lbp      string
	}
	seedUsers := []seedUser{
		{"trader1", "1000", "50000000"},
		{"trader2", "500", "90000000"},
		{"trader3", "2500", "10000000"},
	}

	userIDs := make(map[string]int)
	for _, su := range seedUsers {
		var id int
		err := database.Pool.QueryRow(ctx, "SELECT id FROM users WHERE username = $1", su.username).Scan(&id)
		if err != nil {
			user, err := authService.Register(ctx, su.username, "password123")
			if err != nil {
				log.Fatal().Err(err).Str("username", su.username).Msg("failed to create user")
			}
			id = user.ID
		}
		userIDs[su.username] = id

		_, err = database.Pool.Exec(ctx,
			"UPDATE user_balances SET usd_amount = $1, lbp_amount = $2, updated_at = now() WHERE user_id = $3",
			su.usd, su.lbp, id)
		if err != nil {
			log.Fatal().Err(err).Str("username", su.username).Msg("failed to fund balance")
		}
	}

	book := exchange.NewBook(database, log)

	type seedOffer struct {
		maker  string
		from   models.Currency
		to     models.Currency
		amount string
		rate   string
	}
	seedOffers := []seedOffer{
		{"trader1", models.USD, models.LBP, "100", "89500"},
		{"trader1", models.USD, models.LBP, "250", "90000"},
		{"trader2", models.LBP, models.USD, "9000000", "0.0000112"},
		{"trader3", models.USD, models.LBP, "500", "91000"},
	}

	for _, so := range seedOffers {
		offer, err := book.Create(ctx, userIDs[so.maker],
			so.from, so.to,
			decimal.RequireFromString(so.amount),
			decimal.RequireFromString(so.rate))
		if err != nil {
			log.Fatal().Err(err).Str("maker", so.maker).Msg("failed to create offer")
		}
		fmt.Printf("Created offer %d: %s sells %s %s at %s\n",
			offer.ID, so.maker, so.amount, so.from, so.rate)
	}

	fmt.Println("Seeding complete.")
}
