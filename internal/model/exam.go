package model

// ExamSummary is the read-only exam metadata shown on the intro screen.
type ExamSummary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"duration_minutes"`
	TotalPoints     float64 `json:"total_points"`
}
