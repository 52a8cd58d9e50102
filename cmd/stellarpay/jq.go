package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// eventFilter holds compiled jq expressions that must all be truthy for an event to match.
type eventFilter struct {
	codes []*gojq.Code
}

func compileFilters(exprs []string) (*eventFilter, error) {
	f := &eventFilter{codes: make([]*gojq.Code, len(exprs))}
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		f.codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return f, nil
}

// Match reports whether every filter yields a truthy first result for v.
// v is round-tripped through JSON so struct values are seen the way they are printed.
func (f *eventFilter) Match(v interface{}) (bool, error) {
	if len(f.codes) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return false, err
	}

	for _, code := range f.codes {
		iter := code.Run(input)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, err
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
