package verification

import (
	"context"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
)

const histogramDays = 7

// HistoryEntry is the public projection of a log entry. The requester IP is
// never part of it.
type HistoryEntry struct {
	ID             string                   `json:"id"`
	Result         model.VerificationResult `json:"result"`
	VerifierWallet string                   `json:"verifierWallet,omitempty"`
	Organization   string                   `json:"organization,omitempty"`
	Purpose        string                   `json:"purpose,omitempty"`
	Client         string                   `json:"client,omitempty"`
	VerifiedAt     time.Time                `json:"verifiedAt"`
}

// Overview is the verification activity summary.
type Overview struct {
	Total int                           `json:"totalVerifications"`
	Today int                           `json:"todayVerifications"`
	Daily []model.DailyVerificationStat `json:"weeklyStats"`
}

// describeClient renders a user agent as "Browser on OS".
func describeClient(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	os := ua.OS()
	if ua.Bot() {
		return strings.TrimSpace(browser + " (bot)")
	}
	switch {
	case browser == "" && os == "":
		return "unknown"
	case os == "":
		return browser
	case browser == "":
		return os
	}
	return browser + " on " + os
}

// History returns verification entries for tokenID, newest first.
func (e *Engine) History(ctx context.Context, tokenID int64, page model.Page) ([]HistoryEntry, model.PageInfo, error) {
	if tokenID <= 0 {
		return nil, model.PageInfo{}, apperr.Validation(apperr.Field("tokenId", "must be a positive integer"))
	}
	entries, total, err := e.logs.ListVerifications(ctx, tokenID, page)
	if err != nil {
		return nil, model.PageInfo{}, err
	}
	out := make([]HistoryEntry, len(entries))
	for i, entry := range entries {
		out[i] = HistoryEntry{
			ID:             entry.ID.String(),
			Result:         entry.Result,
			VerifierWallet: entry.VerifierWallet,
			Organization:   entry.Organization,
			Purpose:        entry.Purpose,
			Client:         describeClient(entry.UserAgent),
			VerifiedAt:     entry.CreatedAt,
		}
	}
	return out, model.NewPageInfo(page, total), nil
}

// StatsOverview counts all entries, entries since local midnight and builds a
// histogram of the last seven calendar days, oldest first. Days without
// entries are reported with zero counts.
func (e *Engine) StatsOverview(ctx context.Context) (Overview, error) {
	now := e.now().In(e.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	since := midnight.AddDate(0, 0, -(histogramDays - 1))

	total, err := e.logs.CountVerifications(ctx, time.Time{})
	if err != nil {
		return Overview{}, err
	}
	today, err := e.logs.CountVerifications(ctx, midnight)
	if err != nil {
		return Overview{}, err
	}
	stats, err := e.logs.DailyVerificationStats(ctx, since, e.loc)
	if err != nil {
		return Overview{}, err
	}

	byDate := make(map[string]model.DailyVerificationStat, len(stats))
	for _, s := range stats {
		byDate[s.Date] = s
	}
	daily := make([]model.DailyVerificationStat, 0, histogramDays)
	for d := 0; d < histogramDays; d++ {
		date := since.AddDate(0, 0, d).Format(time.DateOnly)
		stat, ok := byDate[date]
		if !ok {
			stat = model.DailyVerificationStat{Date: date}
		}
		daily = append(daily, stat)
	}
	return Overview{Total: total, Today: today, Daily: daily}, nil
}
