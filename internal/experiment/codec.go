package experiment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/web-chatbot/backend/internal/storage/models"
)

const rootKey = "<root>"

// encode is json.Marshal without HTML escaping, so answers keep literal
// <think> tags in the stored document.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeRoot(body []byte) (map[string]json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, &DecodeError{Key: rootKey, Reason: "root document is not a JSON object", Err: err}
	}
	if root == nil {
		return nil, &DecodeError{Key: rootKey, Reason: "root document is null"}
	}
	return root, nil
}

// wireExperiment uses pointers so a missing field is told apart from an
// empty one.
type wireExperiment struct {
	URL        *string     `json:"url"`
	Question   *string     `json:"question"`
	Date       *string     `json:"date"`
	ModelNames *[]string   `json:"model_name"`
	Answers    *[]string   `json:"answer"`
	Times      *[]float64  `json:"time"`
	Scores     *[]*float64 `json:"score"`
}

func decodeExperiment(key string, raw json.RawMessage) (models.Experiment, error) {
	var w wireExperiment
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Experiment{}, &DecodeError{Key: key, Reason: "not an experiment object", Err: err}
	}

	missing := func(field string) error {
		return &DecodeError{Key: key, Reason: fmt.Sprintf("missing field %q", field)}
	}
	switch {
	case w.URL == nil:
		return models.Experiment{}, missing("url")
	case w.Question == nil:
		return models.Experiment{}, missing("question")
	case w.Date == nil:
		return models.Experiment{}, missing("date")
	case w.ModelNames == nil:
		return models.Experiment{}, missing("model_name")
	case w.Answers == nil:
		return models.Experiment{}, missing("answer")
	case w.Times == nil:
		return models.Experiment{}, missing("time")
	case w.Scores == nil:
		return models.Experiment{}, missing("score")
	}

	exp := models.Experiment{
		URL:        *w.URL,
		Question:   *w.Question,
		Date:       *w.Date,
		ModelNames: *w.ModelNames,
		Answers:    *w.Answers,
		Times:      *w.Times,
		Scores:     *w.Scores,
	}
	if !exp.Aligned() {
		return models.Experiment{}, &DecodeError{
			Key: key,
			Reason: fmt.Sprintf("result arrays have different lengths (model_name=%d answer=%d time=%d score=%d)",
				len(exp.ModelNames), len(exp.Answers), len(exp.Times), len(exp.Scores)),
		}
	}
	return exp, nil
}

// mergeExperiment writes exp's fields over raw, keeping any extra fields
// the stored object carries.
func mergeExperiment(raw json.RawMessage, exp models.Experiment) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}

	encoded, err := encode(exp)
	if err != nil {
		return nil, err
	}
	var own map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &own); err != nil {
		return nil, err
	}
	for k, v := range own {
		fields[k] = v
	}

	return encode(fields)
}
