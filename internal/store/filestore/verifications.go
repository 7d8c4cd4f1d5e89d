package filestore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/certifychain/server/internal/model"
)

// AppendVerification implements store.VerificationLog
func (s *Store) AppendVerification(_ context.Context, entry model.VerificationLogEntry) (model.VerificationLogEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.VerifierWallet = model.NormalizeWallet(entry.VerifierWallet)
	if err := s.appendVerification(entry); err != nil {
		return model.VerificationLogEntry{}, err
	}
	return entry, nil
}

// ListVerifications implements store.VerificationLog
func (s *Store) ListVerifications(_ context.Context, tokenID int64, page model.Page) ([]model.VerificationLogEntry, int, error) {
	s.mu.RLock()
	matches := make([]model.VerificationLogEntry, 0)
	for _, e := range s.verifications.Logs {
		if e.TokenID != nil && *e.TokenID == tokenID {
			matches = append(matches, e)
		}
	}
	s.mu.RUnlock()

	// entries are stored in append order; newest first on output
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return model.Paginate(matches, page), len(matches), nil
}

// CountVerifications implements store.VerificationLog
func (s *Store) CountVerifications(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if since.IsZero() {
		return len(s.verifications.Logs), nil
	}
	n := 0
	for _, e := range s.verifications.Logs {
		if !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// DailyVerificationStats implements store.VerificationLog
func (s *Store) DailyVerificationStats(_ context.Context, since time.Time, loc *time.Location) ([]model.DailyVerificationStat, error) {
	if loc == nil {
		loc = time.UTC
	}
	s.mu.RLock()
	buckets := make(map[string]*model.DailyVerificationStat)
	for _, e := range s.verifications.Logs {
		if e.CreatedAt.Before(since) {
			continue
		}
		day := e.CreatedAt.In(loc).Format(time.DateOnly)
		b, ok := buckets[day]
		if !ok {
			b = &model.DailyVerificationStat{Date: day}
			buckets[day] = b
		}
		b.Count++
		if e.Result == model.ResultValid {
			b.ValidCount++
		}
	}
	s.mu.RUnlock()

	stats := make([]model.DailyVerificationStat, 0, len(buckets))
	for _, b := range buckets {
		stats = append(stats, *b)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date < stats[j].Date })
	return stats, nil
}
