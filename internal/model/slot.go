package model

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotRef is the parsed form of a job context token. Callers encode either a
// positional slot ("post-3") or an item id ("post:7f1c...") at submission time.
type SlotRef struct {
	Kind   string
	Index  int
	ItemID string
}

// HasIndex reports whether the ref addresses a positional slot.
func (s SlotRef) HasIndex() bool { return s.Index >= 0 }

// String renders the ref back into its context token.
func (s SlotRef) String() string {
	if s.ItemID != "" {
		return s.Kind + ":" + s.ItemID
	}
	return s.Kind + "-" + strconv.Itoa(s.Index)
}

// ParseSlot parses a context token once at the subscriber boundary.
func ParseSlot(context string) (SlotRef, error) {
	if kind, id, ok := strings.Cut(context, ":"); ok {
		if kind == "" || id == "" {
			return SlotRef{}, fmt.Errorf("malformed slot context %q", context)
		}
		return SlotRef{Kind: kind, Index: -1, ItemID: id}, nil
	}
	i := strings.LastIndex(context, "-")
	if i <= 0 || i == len(context)-1 {
		return SlotRef{}, fmt.Errorf("malformed slot context %q", context)
	}
	n, err := strconv.Atoi(context[i+1:])
	if err != nil || n < 0 {
		return SlotRef{}, fmt.Errorf("malformed slot index in %q", context)
	}
	return SlotRef{Kind: context[:i], Index: n}, nil
}
