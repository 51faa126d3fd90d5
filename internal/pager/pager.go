package pager

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/walletdoctor/solana-pnl-api/internal/constants"
	"github.com/walletdoctor/solana-pnl-api/internal/rpc"
)

// SignatureSource is the slice of the RPC client the pager needs.
type SignatureSource interface {
	GetSignatures(ctx context.Context, wallet, before string, limit int) ([]rpc.SignatureInfo, *string, error)
}

// Pager walks the full signature history of a wallet, newest to oldest.
// It terminates on a nil cursor, after more than MaxEmptyPages consecutive
// empty pages (skipped version-0 transactions), or at the MaxPages cap.
type Pager struct {
	source        SignatureSource
	pageSize      int
	maxPages      int
	maxEmptyPages int
	logger        *logrus.Logger
}

// Config holds configuration for the signature pager.
type Config struct {
	Source        SignatureSource
	PageSize      int // default 1000
	MaxPages      int // 0 = unbounded
	MaxEmptyPages int // default 3
	Logger        *logrus.Logger
}

// New creates a signature pager.
func New(cfg Config) *Pager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.SignaturePageSize
	}
	if cfg.MaxEmptyPages <= 0 {
		cfg.MaxEmptyPages = constants.MaxEmptyPages
	}
	return &Pager{
		source:        cfg.Source,
		pageSize:      cfg.PageSize,
		maxPages:      cfg.MaxPages,
		maxEmptyPages: cfg.MaxEmptyPages,
		logger:        cfg.Logger,
	}
}

// Walk invokes fn for every non-empty page in order. Returning an error from
// fn stops the walk.
func (p *Pager) Walk(ctx context.Context, wallet string, fn func(page []rpc.SignatureInfo) error) error {
	var (
		before     string
		emptyPages int
		pages      int
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.maxPages > 0 && pages >= p.maxPages {
			p.logger.WithFields(logrus.Fields{
				"wallet": redact(wallet),
				"pages":  pages,
			}).Warn("signature paging stopped at max_pages cap")
			return nil
		}

		page, next, err := p.source.GetSignatures(ctx, wallet, before, p.pageSize)
		if err != nil {
			return fmt.Errorf("fetch signature page %d: %w", pages, err)
		}
		pages++

		if len(page) == 0 {
			emptyPages++
			if emptyPages > p.maxEmptyPages {
				p.logger.WithField("wallet", redact(wallet)).Debug("too many consecutive empty pages, terminating")
				return nil
			}
		} else {
			emptyPages = 0
			if err := fn(page); err != nil {
				return err
			}
		}

		if next == nil {
			return nil
		}
		before = *next
	}
}

// All collects every signature of the wallet's history, newest first.
func (p *Pager) All(ctx context.Context, wallet string) ([]rpc.SignatureInfo, error) {
	var out []rpc.SignatureInfo
	err := p.Walk(ctx, wallet, func(page []rpc.SignatureInfo) error {
		out = append(out, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func redact(wallet string) string {
	if len(wallet) <= 8 {
		return wallet
	}
	return wallet[:4] + "…" + wallet[len(wallet)-4:]
}
