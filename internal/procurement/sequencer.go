package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/cimcon/p2p/internal/shared"
)

// PONumberPrefix starts every purchase order number.
const PONumberPrefix = "CIMPO-"

var poNumberPattern = regexp.MustCompile(`^CIMPO-\d{9}$`)

// FormatPONumber renders CIMPO-YYNNXXXXX.
func FormatPONumber(fy string, seq int64) string {
	return fmt.Sprintf("%s%s%05d", PONumberPrefix, fy, seq)
}

// ParsePONumber splits a purchase order number into financial year and sequence.
func ParsePONumber(number string) (string, int64, error) {
	if !poNumberPattern.MatchString(number) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPONumber, number)
	}
	digits := number[len(PONumberPrefix):]
	seq, err := strconv.ParseInt(digits[4:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPONumber, number)
	}
	return digits[:4], seq, nil
}

// nextPONumber consumes the next sequence of the financial year of at. The
// sequence row stays locked until the surrounding transaction ends, so racing
// creators are serialised and a rolled back creation leaves no gap.
func nextPONumber(ctx context.Context, tx TxRepository, at time.Time) (string, error) {
	fy := shared.FinancialYear(at)
	seq, err := tx.NextSequence(ctx, fy)
	if err != nil {
		return "", fmt.Errorf("po number %s: %w", fy, err)
	}
	return FormatPONumber(fy, seq), nil
}

// PeekNextPONumber returns the number the next creation would receive without
// consuming it. The answer is advisory and cached briefly.
func (s *Service) PeekNextPONumber(ctx context.Context, at time.Time) (string, error) {
	fy := shared.FinancialYear(at)
	if cached, ok, err := s.preview.Get(ctx, fy); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("po number preview cache", slog.String("fy", fy), slog.Any("error", err))
	}
	last, err := s.repo.LastSequence(ctx, fy)
	if err != nil {
		return "", err
	}
	number := FormatPONumber(fy, last+1)
	if err := s.preview.Set(ctx, fy, number); err != nil {
		s.logger.Warn("po number preview cache", slog.String("fy", fy), slog.Any("error", err))
	}
	return number, nil
}

func (s *Service) forgetPreview(ctx context.Context, at time.Time) {
	if err := s.preview.Delete(ctx, shared.FinancialYear(at)); err != nil {
		s.logger.Warn("po number preview cache", slog.Any("error", err))
	}
}
