// Package extract evaluates descriptor paths against decoded JSON and
// coerces what they match into strings, numbers and polygons.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// Queryable is anything a JSON path can be evaluated against
type Queryable interface {
	Query(path string) ([]any, error)
}

// Node wraps a decoded JSON value
type Node struct {
	value any
}

// NewNode wraps an already decoded JSON value
func NewNode(value any) Node {
	return Node{value: value}
}

// Parse decodes a JSON document into a Node
func Parse(body []byte) (Node, error) {
	value, err := oj.Parse(body)
	if err != nil {
		return Node{}, fmt.Errorf("extract: invalid json: %w", err)
	}
	return Node{value: value}, nil
}

// Query evaluates path and returns every match
func (n Node) Query(path string) ([]any, error) {
	expr, err := compile(path)
	if err != nil {
		return nil, err
	}
	return expr.Get(n.value), nil
}

var compiled sync.Map // path -> jp.Expr

// compile parses a path once; descriptors reuse the same paths for every node
func compile(path string) (jp.Expr, error) {
	if cached, ok := compiled.Load(path); ok {
		return cached.(jp.Expr), nil
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("extract: invalid path %q: %w", path, err)
	}
	compiled.Store(path, expr)
	return expr, nil
}

func first(q Queryable, path string) (any, error) {
	logger.Log.Debugf("query path %s", path)
	matches, err := q.Query(path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("extract: %s: %w", path, domain.ErrPathNotFound)
	}
	return matches[0], nil
}

// String returns the first match of path, which must be a JSON string
func String(q Queryable, path string) (string, error) {
	v, err := first(q, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("extract: %s is %T, not a string: %w", path, v, domain.ErrTypeMismatch)
	}
	return s, nil
}

// Text returns the first match of path as text. Numbers are formatted, so
// epoch timestamps published as JSON numbers can feed the date rules.
func Text(q Queryable, path string) (string, error) {
	v, err := first(q, path)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int:
		return strconv.Itoa(t), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("extract: %s is %T, not text: %w", path, v, domain.ErrTypeMismatch)
}

// Float returns the first match of path as a number. Strings holding a
// number are parsed.
func Float(q Queryable, path string) (float64, error) {
	v, err := first(q, path)
	if err != nil {
		return 0, err
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("extract: unable to parse %q as a double: %w", s, domain.ErrTypeMismatch)
		}
		return f, nil
	}
	return 0, fmt.Errorf("extract: %s is %T, not a number: %w", path, v, domain.ErrTypeMismatch)
}

// Polygons is the lenient polygon extraction: any failure is logged and
// yields no polygons.
func Polygons(q Queryable, path string) []domain.Polygon {
	polygons, err := PolygonsStrict(q, path)
	if errors.Is(err, domain.ErrPathNotFound) {
		logger.Log.WithError(err).Debug("no polygons")
		return nil
	}
	if err != nil {
		logger.Log.WithError(err).Warn("unable to extract polygons")
		return nil
	}
	return polygons
}

// PolygonsStrict collects every ring below the first-level matches of path.
// A match shaped [[x,y],...] is one ring; [[[x,y],...],...] holds one ring
// per element, at any nesting depth.
func PolygonsStrict(q Queryable, path string) ([]domain.Polygon, error) {
	matches, err := q.Query(path)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("extract: %s: %w", path, domain.ErrPathNotFound)
	}
	var polygons []domain.Polygon
	for _, m := range matches {
		arr, ok := m.([]any)
		if !ok {
			return nil, fmt.Errorf("extract: %s is %T, not an array: %w", path, m, domain.ErrTypeMismatch)
		}
		if polygons, err = collectRings(arr, polygons); err != nil {
			return nil, err
		}
	}
	return polygons, nil
}

func collectRings(arr []any, acc []domain.Polygon) ([]domain.Polygon, error) {
	if len(arr) == 0 {
		return acc, nil
	}
	if !isMultiPolygon(arr) {
		polygon, err := polygonOf(arr)
		if err != nil {
			return nil, err
		}
		return append(acc, polygon), nil
	}
	for _, elem := range arr {
		sub, ok := elem.([]any)
		if !ok {
			return nil, fmt.Errorf("extract: polygon element is %T: %w", elem, domain.ErrTypeMismatch)
		}
		var err error
		if acc, err = collectRings(sub, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// isMultiPolygon tests nesting depth: a ring's first element is a
// coordinate pair, a ring list's first element is itself a ring.
func isMultiPolygon(arr []any) bool {
	firstLevel, ok := arr[0].([]any)
	if !ok || len(firstLevel) == 0 {
		return false
	}
	_, nested := firstLevel[0].([]any)
	return nested
}

func polygonOf(ring []any) (domain.Polygon, error) {
	xs := make([]float64, 0, len(ring))
	ys := make([]float64, 0, len(ring))
	for _, p := range ring {
		point, ok := p.([]any)
		if !ok || len(point) < 2 {
			return domain.Polygon{}, fmt.Errorf("extract: unable to get point from polygon: %w", domain.ErrTypeMismatch)
		}
		x, okX := toFloat(point[0])
		y, okY := toFloat(point[1])
		if !okX || !okY {
			return domain.Polygon{}, fmt.Errorf("extract: unable to get point from polygon: %w", domain.ErrTypeMismatch)
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return domain.NewPolygon(xs, ys), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
