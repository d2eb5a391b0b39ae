package report

import (
	"testing"

	"github.com/web-chatbot/backend/internal/storage/models"
)

func score(v float64) *float64 { return &v }

func experimentWith(n int) models.Experiment {
	exp := models.Experiment{URL: "https://example.com", Question: "q", Date: "2025-01-01 10:00:00"}
	for i := 0; i < n; i++ {
		exp.Append("m", "answer", float64(i), nil)
	}
	return exp
}

func TestRows(t *testing.T) {
	exp := experimentWith(3)
	rows := Rows(exp)
	if len(rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(rows))
	}
	for i, r := range rows {
		if r.Index != i || r.Minutes != float64(i) {
			t.Errorf("row %d = %+v", i, r)
		}
	}

	exp.Answers = exp.Answers[:2]
	if got := Rows(exp); len(got) != 0 {
		t.Errorf("misaligned experiment gave %d rows, want 0", len(got))
	}
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		size      int
		page      int
		wantPage  int
		wantTotal int
		wantLen   int
		wantFirst int
	}{
		{"empty has one page", 0, 5, 1, 1, 1, 0, -1},
		{"first page", 12, 5, 1, 1, 3, 5, 0},
		{"last partial page", 12, 5, 3, 3, 3, 2, 10},
		{"page beyond range is clamped", 12, 5, 9, 3, 3, 2, 10},
		{"page below range is clamped", 12, 5, 0, 1, 3, 5, 0},
		{"default size", 7, 0, 2, 2, 2, 2, 5},
		{"exact multiple", 10, 5, 2, 2, 2, 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Paginate(Rows(experimentWith(tt.rows)), tt.size, tt.page)
			if p.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", p.Page, tt.wantPage)
			}
			if p.TotalPages != tt.wantTotal {
				t.Errorf("TotalPages = %d, want %d", p.TotalPages, tt.wantTotal)
			}
			if len(p.Rows) != tt.wantLen {
				t.Fatalf("len(Rows) = %d, want %d", len(p.Rows), tt.wantLen)
			}
			if tt.wantFirst >= 0 && p.Rows[0].Index != tt.wantFirst {
				t.Errorf("first row index = %d, want %d", p.Rows[0].Index, tt.wantFirst)
			}
			if p.TotalRows != tt.rows {
				t.Errorf("TotalRows = %d, want %d", p.TotalRows, tt.rows)
			}
		})
	}
}

func TestReportsInKeyOrder(t *testing.T) {
	all := map[string]models.Experiment{
		"experiment_2025-02-01 09:00:00": experimentWith(1),
		"experiment_2024-12-31 23:59:59": experimentWith(2),
		"experiment_2025-01-15 12:00:00": experimentWith(0),
	}

	reports := Reports(all)
	want := []string{
		"experiment_2024-12-31 23:59:59",
		"experiment_2025-01-15 12:00:00",
		"experiment_2025-02-01 09:00:00",
	}
	if len(reports) != len(want) {
		t.Fatalf("got %d reports, want %d", len(reports), len(want))
	}
	for i, r := range reports {
		if r.Key != want[i] {
			t.Errorf("reports[%d].Key = %q, want %q", i, r.Key, want[i])
		}
	}
	if len(reports[0].Rows) != 2 {
		t.Errorf("first report has %d rows, want 2", len(reports[0].Rows))
	}
}

func TestDetail(t *testing.T) {
	exp := models.Experiment{}
	exp.Append("Deepseek", "<think>reasoning here</think>The answer.", 0.5, score(0.9))
	exp.Append("OpenAI", "Plain answer.", 0.1, nil)

	d, err := Detail(exp, 0)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if d.Main != "The answer." {
		t.Errorf("Main = %q", d.Main)
	}
	if d.Reasoning == nil || *d.Reasoning != "reasoning here" {
		t.Errorf("Reasoning = %v", d.Reasoning)
	}
	if d.Score == nil || *d.Score != 0.9 {
		t.Errorf("Score = %v, want 0.9", d.Score)
	}

	d, err = Detail(exp, 1)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if d.Reasoning != nil || d.Main != "Plain answer." {
		t.Errorf("unexpected detail %+v", d)
	}

	if _, err := Detail(exp, 2); err == nil {
		t.Error("Detail(out of range) returned no error")
	}
}
