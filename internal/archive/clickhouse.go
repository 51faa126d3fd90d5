// Package archive persists canonical trades to ClickHouse. Archival is best
// effort and runs off the request path; a failed insert is logged and
// dropped, never surfaced to the caller.
package archive

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/models"
)

type Store struct {
	conn   driver.Conn
	logger *logrus.Logger
}

type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Logger   *logrus.Logger
}

func NewStore(ctx context.Context, opts Options) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{conn: conn, logger: logger}, nil
}

// InsertTrades archives one pipeline run's canonical trades.
func (s *Store) InsertTrades(ctx context.Context, wallet string, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO wallet_trades (
			wallet, signature, slot, block_time, intra_tx_index,
			action, token_mint, token_symbol, amount,
			token_in_mint, token_in_amount, token_out_mint, token_out_amount,
			price_sol, price_usd, value_usd, fees_usd,
			priced, confidence, dex, tx_type
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare trade batch: %w", err)
	}

	for _, t := range trades {
		if err := batch.Append(
			t.Wallet,
			t.Signature,
			t.Slot,
			t.BlockTime,
			uint16(t.IntraTxIndex),
			string(t.Action),
			t.PrimaryMint,
			t.PrimaryToken().Symbol,
			t.Amount.String(),
			t.TokenIn.Mint,
			t.TokenIn.Amount.String(),
			t.TokenOut.Mint,
			t.TokenOut.Amount.String(),
			decimalOrEmpty(t.PriceSOL),
			decimalOrEmpty(t.PriceUSD),
			decimalOrEmpty(t.ValueUSD),
			decimalOrEmpty(t.FeesUSD),
			t.Priced,
			string(t.Confidence),
			t.DEX,
			string(t.TxType),
		); err != nil {
			return fmt.Errorf("append trade %s: %w", t.Signature, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send trade batch: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"wallet": wallet,
		"trades": len(trades),
	}).Debug("archived trades")
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func decimalOrEmpty(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
