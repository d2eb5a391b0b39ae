package models

import (
	"fmt"
	"time"
)

const (
	// KeyPrefix prefixes every experiment key in the root document.
	KeyPrefix = "experiment_"
	// DateLayout is fixed width and zero padded, so keys sort chronologically.
	DateLayout = "2006-01-02 15:04:05"
)

// Experiment is one URL and question inquiry with its recorded answers.
// ModelNames, Answers, Times and Scores are parallel arrays.
type Experiment struct {
	URL        string     `json:"url"`
	Question   string     `json:"question"`
	Date       string     `json:"date"`
	ModelNames []string   `json:"model_name"`
	Answers    []string   `json:"answer"`
	Times      []float64  `json:"time"`
	Scores     []*float64 `json:"score"`
}

func NewExperiment(url, question string, createdAt time.Time) Experiment {
	return Experiment{
		URL:        url,
		Question:   question,
		Date:       createdAt.Format(DateLayout),
		ModelNames: []string{},
		Answers:    []string{},
		Times:      []float64{},
		Scores:     []*float64{},
	}
}

func ExperimentKey(createdAt time.Time) string {
	return KeyPrefix + createdAt.Format(DateLayout)
}

// CreatedAt parses Date in the given location.
func (e Experiment) CreatedAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, e.Date, loc)
}

func (e Experiment) Len() int {
	return len(e.ModelNames)
}

// Aligned reports whether the four result arrays have equal length.
func (e Experiment) Aligned() bool {
	n := len(e.ModelNames)
	return len(e.Answers) == n && len(e.Times) == n && len(e.Scores) == n
}

func (e *Experiment) Append(modelName, answer string, minutes float64, score *float64) {
	var s *float64
	if score != nil {
		v := *score
		s = &v
	}
	e.ModelNames = append(e.ModelNames, modelName)
	e.Answers = append(e.Answers, answer)
	e.Times = append(e.Times, minutes)
	e.Scores = append(e.Scores, s)
}

// Result is one row of an experiment.
type Result struct {
	Index     int      `json:"index"`
	ModelName string   `json:"model"`
	Answer    string   `json:"answer"`
	Minutes   float64  `json:"time"`
	Score     *float64 `json:"score"`
}

func (e Experiment) Result(i int) (Result, error) {
	if !e.Aligned() {
		return Result{}, fmt.Errorf("experiment arrays are misaligned")
	}
	if i < 0 || i >= e.Len() {
		return Result{}, fmt.Errorf("result index %d out of range [0,%d)", i, e.Len())
	}
	return Result{
		Index:     i,
		ModelName: e.ModelNames[i],
		Answer:    e.Answers[i],
		Minutes:   e.Times[i],
		Score:     e.Scores[i],
	}, nil
}

// LedgerRow is one answer of the flat ledger.
type LedgerRow struct {
	ModelName string   `json:"model"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Minutes   float64  `json:"time"`
	Score     *float64 `json:"score"`
}

// Ledger is the flat parallel-array document of the legacy results store.
type Ledger struct {
	ModelNames []string   `json:"model_name"`
	Questions  []string   `json:"question"`
	Answers    []string   `json:"answer"`
	Times      []float64  `json:"time"`
	Scores     []*float64 `json:"score"`
}

// LedgerFields are the array fields every ledger document must carry.
var LedgerFields = []string{"model_name", "question", "answer", "time", "score"}

func (l Ledger) Aligned() bool {
	n := len(l.ModelNames)
	return len(l.Questions) == n && len(l.Answers) == n && len(l.Times) == n && len(l.Scores) == n
}

func (l *Ledger) Append(row LedgerRow) {
	l.ModelNames = append(l.ModelNames, row.ModelName)
	l.Questions = append(l.Questions, row.Question)
	l.Answers = append(l.Answers, row.Answer)
	l.Times = append(l.Times, row.Minutes)
	l.Scores = append(l.Scores, row.Score)
}

func (l Ledger) Rows() []LedgerRow {
	rows := make([]LedgerRow, 0, len(l.ModelNames))
	for i := range l.ModelNames {
		rows = append(rows, LedgerRow{
			ModelName: l.ModelNames[i],
			Question:  l.Questions[i],
			Answer:    l.Answers[i],
			Minutes:   l.Times[i],
			Score:     l.Scores[i],
		})
	}
	return rows
}
