// Package summary derives receivable/payable totals and the segmented
// breakdown shown on the dashboard bar.
package summary

import (
	"sort"

	"bizledger/internal/models"

	"github.com/shopspring/decimal"
)

// TopN receivable parties get their own segment; the rest share one.
const TopN = 4

const (
	OthersLabel  = "Others"
	PayableLabel = "To pay"
)

type SegmentKind string

const (
	SegmentReceivable SegmentKind = "receivable"
	SegmentOthers     SegmentKind = "others"
	SegmentPayable    SegmentKind = "payable"
)

type Segment struct {
	Kind    SegmentKind `json:"kind"`
	PartyID string      `json:"party_id,omitempty"`
	Label   string      `json:"label"`
	Amount  int64       `json:"amount"`
	// Width is the fraction of the whole bar, against receivable + payable.
	Width decimal.Decimal `json:"width"`
	// Share is measured within the segment's own bucket.
	Share decimal.Decimal `json:"share"`
	Count int             `json:"count"`
}

type Summary struct {
	TotalReceivable int64     `json:"total_receivable"`
	TotalPayable    int64     `json:"total_payable"`
	Net             int64     `json:"net"`
	ReceivableCount int       `json:"receivable_count"`
	PayableCount    int       `json:"payable_count"`
	Segments        []Segment `json:"segments"`
	Empty           bool      `json:"empty"`
}

// Compute summarises the active parties in the list. Settled parties are
// ignored whatever their balance.
func Compute(parties []models.Party) Summary {
	var receivable []models.Party
	out := Summary{Segments: []Segment{}}
	for _, p := range parties {
		if p.Status != models.StatusActive {
			continue
		}
		switch {
		case p.Balance > 0:
			receivable = append(receivable, p)
			out.TotalReceivable += p.Balance
		case p.Balance < 0:
			out.PayableCount++
			out.TotalPayable += -p.Balance
		}
	}
	out.ReceivableCount = len(receivable)
	out.Net = out.TotalReceivable - out.TotalPayable

	total := out.TotalReceivable + out.TotalPayable
	if total == 0 {
		out.Empty = true
		return out
	}

	sort.SliceStable(receivable, func(i, j int) bool {
		if receivable[i].Balance != receivable[j].Balance {
			return receivable[i].Balance > receivable[j].Balance
		}
		if receivable[i].Name != receivable[j].Name {
			return receivable[i].Name < receivable[j].Name
		}
		return receivable[i].ID < receivable[j].ID
	})

	grand := decimal.NewFromInt(total)
	recvTotal := decimal.NewFromInt(out.TotalReceivable)
	for i, p := range receivable {
		if i == TopN {
			break
		}
		out.Segments = append(out.Segments, Segment{
			Kind:    SegmentReceivable,
			PartyID: p.ID,
			Label:   p.Name,
			Amount:  p.Balance,
			Width:   ratio(p.Balance, grand),
			Share:   ratio(p.Balance, recvTotal),
			Count:   1,
		})
	}
	if len(receivable) > TopN {
		var others int64
		for _, p := range receivable[TopN:] {
			others += p.Balance
		}
		out.Segments = append(out.Segments, Segment{
			Kind:   SegmentOthers,
			Label:  OthersLabel,
			Amount: others,
			Width:  ratio(others, grand),
			Share:  ratio(others, recvTotal),
			Count:  len(receivable) - TopN,
		})
	}
	if out.TotalPayable > 0 {
		out.Segments = append(out.Segments, Segment{
			Kind:   SegmentPayable,
			Label:  PayableLabel,
			Amount: out.TotalPayable,
			Width:  ratio(out.TotalPayable, grand),
			Share:  decimal.NewFromInt(1),
			Count:  out.PayableCount,
		})
	}
	return out
}

func ratio(amount int64, of decimal.Decimal) decimal.Decimal {
	if of.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(amount).Div(of)
}

// Percent renders a ratio as a whole-number percentage string, e.g. "33%".
func Percent(r decimal.Decimal) string {
	return r.Mul(decimal.NewFromInt(100)).Round(0).String() + "%"
}
