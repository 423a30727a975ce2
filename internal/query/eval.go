package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tagr/internal/model"
)

// Catalog is the read surface the evaluator needs. All id queries cover
// alive items only. The storage session satisfies this interface, so the
// evaluation strategy can be swapped without touching the grammar.
type Catalog interface {
	AliveItemIDs(ctx context.Context) ([]int64, error)
	ItemIDsWithAllTags(ctx context.Context, names, users []string) ([]int64, error)
	ItemIDsWithAnyTag(ctx context.Context, names, users []string) ([]int64, error)
	ItemIDsTaggedByUsers(ctx context.Context, users []string) ([]int64, error)
	ItemIDsWithURLPrefix(ctx context.Context, prefix string) ([]int64, error)
	FieldValuesByName(ctx context.Context, fieldName string) ([]model.ItemField, error)
	GetItemsByIDs(ctx context.Context, ids []int64) ([]model.Item, error)
}

// Evaluate runs the expression tree against the catalog and returns matching
// non-deleted items sorted by id. Unknown tag or field names yield an empty
// result, not an error.
func Evaluate(ctx context.Context, expr Expr, cat Catalog) ([]model.Item, error) {
	ids, err := evalIDs(ctx, expr, cat)
	if err != nil {
		return nil, err
	}
	sorted := make([]int64, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	items, err := cat.GetItemsByIDs(ctx, sorted)
	if err != nil {
		return nil, fmt.Errorf("loading matched items: %w", err)
	}
	return items, nil
}

func evalIDs(ctx context.Context, expr Expr, cat Catalog) (map[int64]struct{}, error) {
	switch e := expr.(type) {
	case All:
		ids, err := cat.AliveItemIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing items: %w", err)
		}
		return toSet(ids), nil

	case *Conjunction:
		return evalConjunction(ctx, e, cat)

	case *Comparison:
		return evalComparison(ctx, e, cat)

	case *And:
		var result map[int64]struct{}
		for _, part := range e.Parts {
			ids, err := evalIDs(ctx, part, cat)
			if err != nil {
				return nil, err
			}
			if result == nil {
				result = ids
			} else {
				result = intersect(result, ids)
			}
			if len(result) == 0 {
				return result, nil
			}
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown expression node %T", expr)
	}
}

func evalConjunction(ctx context.Context, c *Conjunction, cat Catalog) (map[int64]struct{}, error) {
	var result map[int64]struct{}

	if len(c.Yes) > 0 {
		// Duplicate tag mentions must not inflate the required link count,
		// so the names are deduplicated before the grouped query.
		names := distinctNames(c.Yes)
		ids, err := cat.ItemIDsWithAllTags(ctx, names, c.Users)
		if err != nil {
			return nil, fmt.Errorf("matching tags: %w", err)
		}
		result = toSet(ids)
	} else if len(c.Users) > 0 {
		// A USER filter with no positive tags still constrains the result:
		// only items carrying some tag link by one of the users match.
		ids, err := cat.ItemIDsTaggedByUsers(ctx, c.Users)
		if err != nil {
			return nil, fmt.Errorf("matching tagging users: %w", err)
		}
		result = toSet(ids)
	} else {
		ids, err := cat.AliveItemIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing items: %w", err)
		}
		result = toSet(ids)
	}

	if len(c.No) > 0 && len(result) > 0 {
		excluded, err := cat.ItemIDsWithAnyTag(ctx, distinctNames(c.No), c.Users)
		if err != nil {
			return nil, fmt.Errorf("matching excluded tags: %w", err)
		}
		for id := range toSet(excluded) {
			delete(result, id)
		}
	}

	for _, prefix := range c.Paths {
		ids, err := cat.ItemIDsWithURLPrefix(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("matching path prefix: %w", err)
		}
		result = intersect(result, toSet(ids))
		if len(result) == 0 {
			break
		}
	}

	return result, nil
}

// evalComparison matches items carrying a field link whose value satisfies
// the comparator. For the ordering operators the stored value must be
// numeric; a non-numeric stored value never matches. "=" compares
// numerically when both sides parse as numbers, else falls back to literal
// string equality.
func evalComparison(ctx context.Context, c *Comparison, cat Catalog) (map[int64]struct{}, error) {
	want, wantNumeric := parseNumber(c.Value)
	if c.Op != "=" && !wantNumeric {
		return nil, &ValueError{Field: c.Field, Op: c.Op, Value: c.Value}
	}

	links, err := cat.FieldValuesByName(ctx, c.Field)
	if err != nil {
		return nil, fmt.Errorf("loading field values: %w", err)
	}

	result := make(map[int64]struct{})
	for _, link := range links {
		got, gotNumeric := parseNumber(link.Value)

		match := false
		switch c.Op {
		case "=":
			if wantNumeric && gotNumeric {
				match = got == want
			} else {
				match = link.Value == c.Value
			}
		case ">":
			match = gotNumeric && got > want
		case "<":
			match = gotNumeric && got < want
		case ">=":
			match = gotNumeric && got >= want
		case "<=":
			match = gotNumeric && got <= want
		}
		if match {
			result[link.ItemID] = struct{}{}
		}
	}
	return result, nil
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func distinctNames(terms []TagTerm) []string {
	seen := make(map[string]bool, len(terms))
	var names []string
	for _, t := range terms {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return names
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func intersect(a, b map[int64]struct{}) map[int64]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[int64]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
