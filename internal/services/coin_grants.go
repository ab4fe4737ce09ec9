package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/diehardfans/raffle-api/internal/models"
	"github.com/diehardfans/raffle-api/internal/repositories"
	"github.com/rs/zerolog/log"
)

// CoinGrantReport summarises one bulk grant run
type CoinGrantReport struct {
	TotalRows    int      `json:"totalRows"`
	Granted      int      `json:"granted"`
	CoinsGranted int64    `json:"coinsGranted"`
	Errors       []string `json:"errors"`
}

// CoinGrantImporter credits coins to many users from a CSV file with
// email, amount and an optional note column.
type CoinGrantImporter struct {
	userRepo repositories.UserRepository
	ledger   CoinLedger
}

// NewCoinGrantImporter creates a CoinGrantImporter
func NewCoinGrantImporter(userRepo repositories.UserRepository, ledger CoinLedger) *CoinGrantImporter {
	return &CoinGrantImporter{userRepo: userRepo, ledger: ledger}
}

// Import reads the CSV and credits every valid row. Bad rows are reported
// and skipped; only an unreadable file fails the whole run.
func (i *CoinGrantImporter) Import(ctx context.Context, r io.Reader) (*CoinGrantReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	emailIdx := findColumnIndex(header, []string{"Email", "E-mail", "User Email"})
	amountIdx := findColumnIndex(header, []string{"Amount", "Coins"})
	noteIdx := findColumnIndex(header, []string{"Note", "Description", "Reason"})
	if emailIdx == -1 || amountIdx == -1 {
		return nil, &ValidationError{Field: "header", Message: "email and amount columns are required"}
	}

	report := &CoinGrantReport{Errors: []string{}}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		report.TotalRows++

		if err := i.grantRow(ctx, record, emailIdx, amountIdx, noteIdx); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		amount, _ := strconv.ParseInt(strings.TrimSpace(record[amountIdx]), 10, 64)
		report.Granted++
		report.CoinsGranted += amount
	}

	log.Info().
		Int("rows", report.TotalRows).
		Int("granted", report.Granted).
		Int64("coins", report.CoinsGranted).
		Int("errors", len(report.Errors)).
		Msg("Coin grant import finished")
	return report, nil
}

func (i *CoinGrantImporter) grantRow(ctx context.Context, record []string, emailIdx, amountIdx, noteIdx int) error {
	if emailIdx >= len(record) || amountIdx >= len(record) {
		return errors.New("missing columns")
	}
	email := strings.ToLower(strings.TrimSpace(record[emailIdx]))
	amount, err := strconv.ParseInt(strings.TrimSpace(record[amountIdx]), 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("invalid amount %q", record[amountIdx])
	}
	note := "Coin grant"
	if noteIdx != -1 && noteIdx < len(record) && strings.TrimSpace(record[noteIdx]) != "" {
		note = strings.TrimSpace(record[noteIdx])
	}

	user, err := i.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("no user with email %s", email)
		}
		return err
	}
	_, err = i.ledger.Credit(ctx, user.ID.Hex(), amount, models.CoinCategoryAdminGrant, note, map[string]interface{}{"source": "csv_import"})
	return err
}

func findColumnIndex(header []string, possibleNames []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range possibleNames {
			if strings.ToLower(name) == h {
				return i
			}
		}
	}
	return -1
}
