package ingest

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// DefaultSelector selects the whole file as one document.
const DefaultSelector = "$"

// JsonWalker implements Walker with JSONPath.
type JsonWalker struct{}

func NewJsonWalker() *JsonWalker {
	return &JsonWalker{}
}

// ParseJSON decodes data into generic values for Query.
func ParseJSON(data []byte) (any, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return v, nil
}

// Query implements Walker. An empty selector means DefaultSelector.
func (w *JsonWalker) Query(root any, selector string) ([]Match, error) {
	if selector == "" {
		selector = DefaultSelector
	}
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}

	results := x.Get(root)
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, &jsonMatch{value: r})
	}
	return matches, nil
}

type jsonMatch struct {
	value any
}

// Values implements Match.
func (m *jsonMatch) Values() map[string]any {
	if v, ok := m.value.(map[string]any); ok {
		return v
	}
	return map[string]any{"value": m.value}
}

// Context implements Match.
func (m *jsonMatch) Context() any {
	return m.value
}
