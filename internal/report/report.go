// Package report reshapes stored experiments into tables and chart series.
// Every function here is pure; callers read from the experiment store and
// pass the result in.
package report

import (
	"sort"

	"github.com/web-chatbot/backend/internal/parse"
	"github.com/web-chatbot/backend/internal/storage/models"
)

const DefaultPageSize = 5

// Rows flattens an experiment into one row per recorded answer.
func Rows(exp models.Experiment) []models.Result {
	rows := make([]models.Result, 0, exp.Len())
	for i := 0; i < exp.Len(); i++ {
		row, err := exp.Result(i)
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

type Page struct {
	Rows       []models.Result `json:"rows"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
	TotalRows  int             `json:"total_rows"`
}

// Paginate returns one 1-based page of rows. A non-positive size uses
// DefaultPageSize; page is clamped to [1, TotalPages]. There is always at
// least one page, possibly empty.
func Paginate(rows []models.Result, pageSize, page int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := (len(rows) + pageSize - 1) / pageSize
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	if start > end {
		start = end
	}

	return Page{
		Rows:       rows[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: total,
		TotalRows:  len(rows),
	}
}

type Report struct {
	Key      string          `json:"key"`
	URL      string          `json:"url"`
	Question string          `json:"question"`
	Date     string          `json:"date"`
	Rows     []models.Result `json:"rows"`
}

// Reports lists every experiment in key (chronological) order.
func Reports(all map[string]models.Experiment) []Report {
	keys := sortedKeys(all)
	out := make([]Report, 0, len(keys))
	for _, k := range keys {
		exp := all[k]
		out = append(out, Report{
			Key:      k,
			URL:      exp.URL,
			Question: exp.Question,
			Date:     exp.Date,
			Rows:     Rows(exp),
		})
	}
	return out
}

type AnswerDetail struct {
	models.Result
	Main      string  `json:"main"`
	Reasoning *string `json:"reasoning"`
}

// Detail returns row i of exp with its answer split into main text and
// reasoning.
func Detail(exp models.Experiment, i int) (AnswerDetail, error) {
	row, err := exp.Result(i)
	if err != nil {
		return AnswerDetail{}, err
	}
	resp := parse.ParseResponse(row.Answer)
	return AnswerDetail{
		Result:    row,
		Main:      resp.Display(row.Answer),
		Reasoning: resp.Reasoning,
	}, nil
}

func sortedKeys(all map[string]models.Experiment) []string {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
