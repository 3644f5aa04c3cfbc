package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Ranges maps a Simulation JSON field name to the candidate values the
// optimizer should try for it.
type Ranges map[string][]any

// DefaultRanges is the search space of the original parameter sweep.
func DefaultRanges() Ranges {
	return Ranges{
		"leverage":          {2.0, 3.0, 5.0},
		"grid_count":        {10, 15, 20, 25},
		"investment_amount": {500.0, 1000.0, 1500.0},
		"stop_loss_pct":     {0.03, 0.05, 0.07},
		"take_profit_pct":   {0.08, 0.10, 0.12},
		"mode":              {string(ModeLong), string(ModeShort)},
	}
}

// Names returns the parameter names in sorted order.
func (r Ranges) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size is the number of combinations in the full cross-product.
func (r Ranges) Size() int {
	if len(r) == 0 {
		return 0
	}
	n := 1
	for _, vals := range r {
		n *= len(vals)
	}
	return n
}

// Validate checks every name against base and rejects empty candidate lists.
func (r Ranges) Validate(base Simulation) error {
	var problems []string
	for _, name := range r.Names() {
		if len(r[name]) == 0 {
			problems = append(problems, fmt.Sprintf("range %q has no candidate values", name))
			continue
		}
		if _, err := base.With(map[string]any{name: r[name][0]}); err != nil {
			problems = append(problems, fmt.Sprintf("range %q: %v", name, err))
		}
	}
	if len(r) == 0 {
		problems = append(problems, "no parameter ranges given")
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// LoadRanges reads a JSON object of name -> candidate list. An empty path
// returns DefaultRanges.
func LoadRanges(path string) (Ranges, error) {
	if path == "" {
		return DefaultRanges(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ranges: %w", err)
	}
	r, err := DecodeRanges(data)
	if err != nil {
		return nil, configErr("parse %s: %v", path, err)
	}
	return r, nil
}

// DecodeRanges parses a JSON ranges object. Numbers keep their literal form
// so integer fields accept them.
func DecodeRanges(data []byte) (Ranges, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string][]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return Ranges(raw), nil
}
