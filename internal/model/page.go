package model

import "math"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	// MaxPage keeps (Page-1)*Limit within int for every permitted limit.
	MaxPage = math.MaxInt / MaxPageLimit
)

// Page is an offset/limit request expressed as 1-based page number and size
type Page struct {
	Page  int
	Limit int
}

// Normalize clamps page and limit to sane values.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset is the number of records to skip.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// PageInfo describes a returned page
type PageInfo struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPageInfo computes page metadata for total records.
func NewPageInfo(p Page, total int) PageInfo {
	n := p.Normalize()
	pages := 0
	if total > 0 {
		pages = (total + n.Limit - 1) / n.Limit
	}
	return PageInfo{Page: n.Page, Limit: n.Limit, Total: total, Pages: pages}
}

// Paginate slices items according to p. Used by in-memory backends.
func Paginate[T any](items []T, p Page) []T {
	off := p.Offset()
	if off < 0 || off >= len(items) {
		return []T{}
	}
	end := off + p.Normalize().Limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-off)
	copy(out, items[off:end])
	return out
}
