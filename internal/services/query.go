package services

import (
	"reflect"
	"sort"
	"strings"

	"studio-board/internal/interfaces"
)

func matchesAll(data map[string]any, conditions []interfaces.Condition) bool {
	for _, cond := range conditions {
		if !matches(data[cond.Field], cond) {
			return false
		}
	}
	return true
}

func matches(value any, cond interfaces.Condition) bool {
	want, err := normalizeValue(reflect.ValueOf(cond.Value))
	if err != nil {
		return false
	}

	switch cond.Op {
	case interfaces.OpEqual:
		return reflect.DeepEqual(value, want)
	case interfaces.OpNotEqual:
		return !reflect.DeepEqual(value, want)
	}

	cmp, ok := compareOrdered(value, want)
	if !ok {
		return false
	}
	switch cond.Op {
	case interfaces.OpLess:
		return cmp < 0
	case interfaces.OpLessEqual:
		return cmp <= 0
	case interfaces.OpGreater:
		return cmp > 0
	case interfaces.OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

// compareOrdered compares two values of the same scalar type.
func compareOrdered(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// typeRank orders values of different types: null, bool, number, string,
// then everything else.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	}
	return 4
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	if cmp, ok := compareOrdered(a, b); ok {
		return cmp
	}
	return 0
}

// sortDocuments orders by field. Documents comparing equal keep key order.
func sortDocuments(docs []interfaces.Document, field string, descending bool) {
	if field == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		cmp := compareValues(docs[i].Data[field], docs[j].Data[field])
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
}
