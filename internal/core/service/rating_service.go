package service

import (
	"context"
	"fmt"
	"log"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/metrics"
	"github.com/rl1809/marketplace/internal/port"
)

type RatingService struct {
	store port.Store
}

func NewRatingService(store port.Store) *RatingService {
	return &RatingService{store: store}
}

// Rate records the buyer's score for a transaction's seller and refreshes the
// seller's average rating.
//
// The at-most-one-rating-per-transaction rule rides on the storage layer's
// uniqueness constraint: we insert and let the constraint answer, rather than
// check-then-insert, which would race. The average recompute afterwards may
// interleave with other raters of the same seller; the last writer's value
// stands until the next rating lands, and the stored average matches the full
// rating set once writes quiesce.
func (s *RatingService) Rate(ctx context.Context, raterID, transactionID int64, score int) (r *domain.Rating, err error) {
	defer func() { metrics.IncRating(resultLabel(err)) }()

	if !domain.ValidScore(score) {
		return nil, fmt.Errorf("%w: score must be between %d and %d", ErrValidation, domain.MinScore, domain.MaxScore)
	}

	txn, err := s.store.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, err)
	}
	if txn.BuyerID != raterID {
		return nil, fmt.Errorf("%w: only the buyer can rate the seller", ErrForbidden)
	}

	rating := &domain.Rating{
		TransactionID: transactionID,
		RaterID:       raterID,
		RatedID:       txn.SellerID,
		Score:         score,
	}
	if err := s.store.CreateRating(ctx, rating); err != nil {
		return nil, fmt.Errorf("rate transaction %d: %w", transactionID, err)
	}

	// The rating is durable at this point; a failed recompute leaves the
	// seller's average stale until the next rating, not the rating lost.
	if err := s.refreshSellerRating(ctx, txn.SellerID); err != nil {
		log.Printf("failed to refresh rating for seller %d: %v", txn.SellerID, err)
	}

	return rating, nil
}

func (s *RatingService) refreshSellerRating(ctx context.Context, sellerID int64) error {
	avg, ok, err := s.store.AverageSellerScore(ctx, sellerID)
	if err != nil {
		return fmt.Errorf("aggregate scores: %w", err)
	}
	if !ok {
		return nil
	}
	rounded := avg.Round(2)
	if _, err := s.store.UpdateUser(ctx, sellerID, domain.UserPatch{Rating: &rounded}); err != nil {
		return fmt.Errorf("store average: %w", err)
	}
	return nil
}
