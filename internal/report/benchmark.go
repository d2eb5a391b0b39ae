package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/web-chatbot/backend/internal/storage/models"
)

const (
	chartBaseHeight  = 500
	chartRowHeight   = 80
	chartFreeRows    = 4
	chartMaxHeight   = 1400
	outlierIQRFactor = 1.5
)

// Series is one model's values across experiments. A nil value means the
// model has no data for that experiment.
type Series struct {
	Name string     `json:"name"`
	Data []*float64 `json:"data"`
}

// BoxPlot is the five-number summary of one experiment's answer times.
type BoxPlot struct {
	Low    float64 `json:"low"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	High   float64 `json:"high"`
}

// Outlier is a point [category index, value] outside 1.5 IQR.
type Outlier [2]float64

type Benchmark struct {
	Categories []string   `json:"categories"`
	Times      []Series   `json:"times"`
	Scores     []Series   `json:"scores"`
	Boxes      []*BoxPlot `json:"boxes"`
	Outliers   []Outlier  `json:"outliers"`
	Height     int        `json:"height"`
}

// BuildBenchmark computes per-model mean time and mean score series over
// experiments in key order, plus a box plot of times per experiment.
// Models appear in the order they are first seen.
func BuildBenchmark(all map[string]models.Experiment) Benchmark {
	keys := sortedKeys(all)

	var order []string
	seen := map[string]bool{}
	for _, k := range keys {
		for _, name := range all[k].ModelNames {
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
		}
	}

	b := Benchmark{
		Categories: keys,
		Times:      make([]Series, 0, len(order)),
		Scores:     make([]Series, 0, len(order)),
		Boxes:      make([]*BoxPlot, len(keys)),
		Outliers:   []Outlier{},
		Height:     ChartHeight(len(keys)),
	}

	for _, name := range order {
		times := Series{Name: name, Data: make([]*float64, len(keys))}
		scores := Series{Name: name, Data: make([]*float64, len(keys))}
		for ci, k := range keys {
			exp := all[k]
			var tSum, sSum float64
			var tN, sN int
			for i, m := range exp.ModelNames {
				if m != name {
					continue
				}
				tSum += exp.Times[i]
				tN++
				if s := exp.Scores[i]; s != nil {
					sSum += *s
					sN++
				}
			}
			if tN > 0 {
				times.Data[ci] = ptr(tSum / float64(tN))
			}
			if sN > 0 {
				scores.Data[ci] = ptr(sSum / float64(sN))
			}
		}
		b.Times = append(b.Times, times)
		b.Scores = append(b.Scores, scores)
	}

	for ci, k := range keys {
		box, outliers := boxPlot(all[k].Times)
		b.Boxes[ci] = box
		for _, v := range outliers {
			b.Outliers = append(b.Outliers, Outlier{float64(ci), v})
		}
	}

	return b
}

// ChartHeight sizes a horizontal chart for n categories.
func ChartHeight(n int) int {
	h := chartBaseHeight
	if n > chartFreeRows {
		h += (n - chartFreeRows) * chartRowHeight
	}
	if h > chartMaxHeight {
		h = chartMaxHeight
	}
	return h
}

// boxPlot returns nil for no values. Whiskers stop at the most extreme
// values inside 1.5 IQR; the rest are outliers.
func boxPlot(values []float64) (*BoxPlot, []float64) {
	if len(values) == 0 {
		return nil, nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo := q1 - outlierIQRFactor*iqr
	hi := q3 + outlierIQRFactor*iqr

	box := &BoxPlot{
		Low:    math.Inf(1),
		Q1:     q1,
		Median: quantile(sorted, 0.5),
		Q3:     q3,
		High:   math.Inf(-1),
	}
	var outliers []float64
	for _, v := range sorted {
		if v < lo || v > hi {
			outliers = append(outliers, v)
			continue
		}
		box.Low = math.Min(box.Low, v)
		box.High = math.Max(box.High, v)
	}
	return box, outliers
}

// quantile is the nearest-rank quantile of sorted: the smallest value with
// at least q of the sample at or below it.
func quantile(sorted []float64, q float64) float64 {
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

func ptr(v float64) *float64 { return &v }
