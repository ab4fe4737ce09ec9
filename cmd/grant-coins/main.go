// Command grant-coins credits coins to users listed in a CSV file.
//
//	grant-coins grants.csv
//
// The file needs email and amount columns and may carry a note column.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/diehardfans/raffle-api/internal/config"
	mongorepo "github.com/diehardfans/raffle-api/internal/repositories/mongodb"
	"github.com/diehardfans/raffle-api/internal/services"
	"github.com/diehardfans/raffle-api/pkg/logger"
	"github.com/diehardfans/raffle-api/pkg/mongodb"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", false)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	if len(os.Args) < 2 {
		log.Fatal().Msg("CSV file path is required as a command line argument")
	}
	file, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open CSV file")
	}
	defer file.Close()

	ctx := context.Background()
	client, err := mongodb.NewClient(ctx, cfg.MongoDB.URI)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(ctx)
	db := client.Database(cfg.MongoDB.Database)

	userRepo := mongorepo.NewUserRepository(db)
	ledger := services.NewCoinLedger(userRepo, mongorepo.NewCoinTransactionRepository(db))
	report, err := services.NewCoinGrantImporter(userRepo, ledger).Import(ctx, file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to import coin grants")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
