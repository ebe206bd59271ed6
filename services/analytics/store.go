package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

const verifyBatchSize = 500

// Store persists loan events in append order and maintains the digest chain.
type Store struct {
	db *gorm.DB
	// mu serialises appends so each record links to the latest digest.
	mu sync.Mutex
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("analytics: database required")
	}
	return &Store{db: db}, nil
}

// Append stores the normalized payload and links it to the chain. Events are
// deduplicated by ID; a duplicate returns the stored record with created set
// to false.
func (s *Store) Append(ctx context.Context, p EventPayload) (LoanEventRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record LoanEventRecord
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing LoanEventRecord
		err := tx.Where("event_id = ?", p.ID).Take(&existing).Error
		switch {
		case err == nil:
			record = existing
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		prev := genesisDigest
		var last LoanEventRecord
		err = tx.Order("id desc").Take(&last).Error
		switch {
		case err == nil:
			prev = last.Digest
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		digest, err := chainDigest(prev, p)
		if err != nil {
			return err
		}
		record = LoanEventRecord{
			EventID:      p.ID,
			Kind:         p.Kind,
			LoanID:       p.LoanID,
			Borrower:     p.Borrower,
			Amount:       p.Amount,
			InterestRate: p.InterestRate,
			OccurredAt:   p.Timestamp,
			PrevDigest:   prev,
			Digest:       digest,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return LoanEventRecord{}, false, fmt.Errorf("analytics: append event: %w", err)
	}
	return record, created, nil
}

// List returns events in append order, optionally filtered by borrower.
// A non-positive limit returns every match.
func (s *Store) List(ctx context.Context, borrower string, limit int) ([]LoanEventRecord, error) {
	query := s.db.WithContext(ctx).Order("id asc")
	if normalized := normalizeBorrower(borrower); normalized != "" {
		query = query.Where("borrower = ?", normalized)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []LoanEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("analytics: list events: %w", err)
	}
	return records, nil
}

// Verify re-walks the chain from genesis and returns the number of records
// checked. The first mismatch is reported as ErrChainBroken.
func (s *Store) Verify(ctx context.Context) (int, error) {
	prev := genesisDigest
	checked := 0
	var batch []LoanEventRecord
	result := s.db.WithContext(ctx).Order("id asc").FindInBatches(&batch, verifyBatchSize, func(tx *gorm.DB, _ int) error {
		for _, record := range batch {
			if record.PrevDigest != prev {
				return fmt.Errorf("%w: record %d does not link to its predecessor", ErrChainBroken, record.ID)
			}
			digest, err := chainDigest(prev, record.payload())
			if err != nil {
				return fmt.Errorf("%w: record %d: %v", ErrChainBroken, record.ID, err)
			}
			if digest != record.Digest {
				return fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, record.ID)
			}
			prev = record.Digest
			checked++
		}
		return nil
	})
	if result.Error != nil {
		return checked, result.Error
	}
	return checked, nil
}
