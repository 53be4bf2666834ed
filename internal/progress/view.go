package progress

import (
	"context"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// View is the polling read model of a run.
type View struct {
	RunID               string  `json:"run_id"`
	Status              Status  `json:"status"`
	CurrentItem         int     `json:"current_item"`
	TotalItems          int     `json:"total_items"`
	Percentage          float64 `json:"percentage"`
	ElapsedTime         float64 `json:"elapsed_time"`        // seconds
	EstimatedRemaining  float64 `json:"estimated_remaining"` // seconds, 0 until an item is done
	MemoryPeak          uint64  `json:"memory_peak"`
	MemoryPeakFormatted string  `json:"memory_peak_formatted"`
	Errors              int     `json:"errors"`
	Warnings            int     `json:"warnings"`
	CurrentDocumentID   int64   `json:"current_document_id,omitempty"`
	CurrentPostTitle    string  `json:"current_post_title"`
	StartedAt           *int64  `json:"started_at,omitempty"`
	UpdatedAt           int64   `json:"updated_at"`
	CompletedAt         *int64  `json:"completed_at,omitempty"`
}

// NewView derives the read model of rec at now.
func NewView(rec *Record, now time.Time) View {
	v := View{
		RunID:               rec.RunID,
		Status:              rec.Status,
		CurrentItem:         rec.CurrentItem,
		TotalItems:          rec.TotalItems,
		MemoryPeak:          rec.MemoryPeak,
		MemoryPeakFormatted: humanize.IBytes(rec.MemoryPeak),
		Errors:              rec.Errors,
		Warnings:            rec.Warnings,
		CurrentDocumentID:   rec.CurrentDocumentID,
		CurrentPostTitle:    rec.CurrentTitle,
		UpdatedAt:           rec.UpdatedAt.Unix(),
	}
	if rec.TotalItems > 0 {
		v.Percentage = math.Round(float64(rec.CurrentItem)/float64(rec.TotalItems)*10000) / 100
	}
	if rec.StartedAt.IsZero() {
		return v
	}

	started := rec.StartedAt.Unix()
	v.StartedAt = &started
	end := now
	if !rec.CompletedAt.IsZero() {
		completed := rec.CompletedAt.Unix()
		v.CompletedAt = &completed
		end = rec.CompletedAt
	}
	elapsed := end.Sub(rec.StartedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	v.ElapsedTime = elapsed
	if rec.CurrentItem > 0 && !rec.Status.Terminal() {
		v.EstimatedRemaining = elapsed / float64(rec.CurrentItem) * float64(max(rec.TotalItems-rec.CurrentItem, 0))
	}
	return v
}

// View returns the read model of runID.
func (t *Tracker) View(ctx context.Context, runID string) (*View, error) {
	rec, err := t.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	v := NewView(rec, t.now())
	return &v, nil
}
