package leaderboard

import "time"

type Model struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

type Metric struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	HigherIsBetter bool      `json:"higher_is_better"`
	CreatedAt      time.Time `json:"created_at"`
}

type Submission struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"model_id"`
	MetricID    string    `json:"metric_id"`
	Score       float64   `json:"score"`
	TaskID      string    `json:"task_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type MetricAggregate struct {
	MetricID    string  `json:"metric_id"`
	MetricName  string  `json:"metric_name"`
	Submissions int     `json:"submissions"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// Entry is one ranked row: the best score a model reached on a metric.
type Entry struct {
	Rank         int     `json:"rank"`
	ModelID      string  `json:"model_id"`
	ModelName    string  `json:"model_name"`
	Organization string  `json:"organization"`
	Score        float64 `json:"score"`
	Submissions  int     `json:"submissions"`
}

type Ranking struct {
	Metric  Metric  `json:"metric"`
	Entries []Entry `json:"entries"`
}

type Statistics struct {
	Models           int        `json:"models"`
	Metrics          int        `json:"metrics"`
	Submissions      int        `json:"submissions"`
	LatestSubmission *time.Time `json:"latest_submission,omitempty"`
}
