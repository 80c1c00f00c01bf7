package diagnosis

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	MaxDrugMentions = 6

	StrategyStrictJSON   = "strict_json"
	StrategyEmbeddedJSON = "embedded_json"
	StrategyDelimiter    = "delimiter"

	noDiagnosis = "No diagnosis"
)

// first "{" through last "}", across lines
var embeddedObject = regexp.MustCompile(`(?s)\{.*\}`)

// strategy reports ok=false when it does not apply to the input.
type strategy struct {
	name string
	run  func(raw string) (ParsedDiagnosis, bool)
}

var strategies = []strategy{
	{StrategyStrictJSON, parseStrictJSON},
	{StrategyEmbeddedJSON, parseEmbeddedJSON},
	{StrategyDelimiter, parseDelimited},
}

// Parse extracts a diagnosis and up to MaxDrugMentions drug mentions from a
// provider reply. Strategies are tried from most to least structured; the
// only error is *UnparsableError, when none yields diagnosis text.
func Parse(raw string) (ParsedDiagnosis, error) {
	for _, s := range strategies {
		if p, ok := s.run(raw); ok {
			p.Strategy = s.name
			p.Drugs = normalizeMentions(p.Drugs)
			return p, nil
		}
	}
	return ParsedDiagnosis{}, newUnparsable(raw)
}

func parseStrictJSON(raw string) (ParsedDiagnosis, bool) {
	return decodePayload([]byte(strings.TrimSpace(raw)))
}

func parseEmbeddedJSON(raw string) (ParsedDiagnosis, bool) {
	span := embeddedObject.FindString(raw)
	if span == "" {
		return ParsedDiagnosis{}, false
	}
	return decodePayload([]byte(span))
}

// parseDelimited handles "diagnosis | drug a, drug b".
func parseDelimited(raw string) (ParsedDiagnosis, bool) {
	head, tail, found := strings.Cut(raw, "|")
	diagnosis := strings.TrimSpace(head)
	if !found {
		if diagnosis == "" {
			return ParsedDiagnosis{}, false
		}
		return ParsedDiagnosis{Diagnosis: diagnosis}, true
	}
	if diagnosis == "" {
		diagnosis = noDiagnosis
	}

	var drugs []DrugMention
	for _, name := range strings.Split(tail, ",") {
		drugs = append(drugs, DrugMention{Name: name, Quantity: 1})
	}
	return ParsedDiagnosis{Diagnosis: diagnosis, Drugs: drugs}, true
}

// decodePayload accepts {"diagnosis": string, "drugs": [...]}, where each
// drug is either a bare name or {"name": ..., "quantity": ...}. "drugs" may
// be omitted.
func decodePayload(b []byte) (ParsedDiagnosis, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil || obj == nil {
		return ParsedDiagnosis{}, false
	}

	rawDiag, ok := obj["diagnosis"]
	if !ok {
		return ParsedDiagnosis{}, false
	}
	var diagnosis string
	if err := json.Unmarshal(rawDiag, &diagnosis); err != nil {
		return ParsedDiagnosis{}, false
	}

	// a missing "drugs" key reads as no drugs; a present one must be a list
	var entries []json.RawMessage
	if rawDrugs, ok := obj["drugs"]; ok {
		if err := json.Unmarshal(rawDrugs, &entries); err != nil {
			return ParsedDiagnosis{}, false
		}
	}

	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		diagnosis = noDiagnosis
	}

	drugs := make([]DrugMention, 0, len(entries))
	for _, e := range entries {
		if m, ok := decodeMention(e); ok {
			drugs = append(drugs, m)
		}
	}
	return ParsedDiagnosis{Diagnosis: diagnosis, Drugs: drugs}, true
}

func decodeMention(raw json.RawMessage) (DrugMention, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return DrugMention{}, false
	}

	switch raw[0] {
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return DrugMention{}, false
		}
		return DrugMention{Name: name, Quantity: 1}, true
	case '{':
		var obj struct {
			Name     string          `json:"name"`
			Quantity json.RawMessage `json:"quantity"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return DrugMention{}, false
		}
		return DrugMention{Name: obj.Name, Quantity: coerceQuantity(obj.Quantity)}, true
	default:
		return DrugMention{}, false
	}
}

// coerceQuantity maps numbers and numeric strings to an integer >= 1;
// anything else becomes 1.
func coerceQuantity(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 1
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 1
		}
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 1
		}
	}

	if math.IsNaN(f) || f < 1 {
		return 1
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func normalizeMentions(in []DrugMention) []DrugMention {
	out := make([]DrugMention, 0, min(len(in), MaxDrugMentions))
	for _, m := range in {
		if len(out) == MaxDrugMentions {
			break
		}
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		q := m.Quantity
		if q < 1 {
			q = 1
		}
		out = append(out, DrugMention{Name: name, Quantity: q})
	}
	return out
}
