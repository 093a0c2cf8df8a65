package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// CreateList adds an enabled, empty custom list. Creating an existing list
// leaves it untouched.
func (s *Store) CreateList(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty list name", ErrInvalidPattern)
	}
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		if rs.CustomLists == nil {
			rs.CustomLists = make(map[string]CustomList)
		}
		if _, ok := rs.CustomLists[name]; !ok {
			rs.CustomLists[name] = CustomList{Enabled: true, Patterns: []string{}}
		}
		return nil
	})
	return err
}

func (s *Store) RemoveList(ctx context.Context, name string) error {
	return s.updateList(ctx, name, func(rs *RuleSet, _ CustomList) {
		delete(rs.CustomLists, name)
	})
}

func (s *Store) SetListEnabled(ctx context.Context, name string, enabled bool) error {
	return s.updateList(ctx, name, func(rs *RuleSet, l CustomList) {
		l.Enabled = enabled
		rs.CustomLists[name] = l
	})
}

func (s *Store) AddListPattern(ctx context.Context, name, pattern string) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if err := validatePattern(ListBlock, pattern); err != nil {
		return err
	}
	return s.updateList(ctx, name, func(rs *RuleSet, l CustomList) {
		if !slices.Contains(l.Patterns, pattern) {
			l.Patterns = append(l.Patterns, pattern)
		}
		rs.CustomLists[name] = l
	})
}

func (s *Store) RemoveListPattern(ctx context.Context, name, pattern string) error {
	return s.updateList(ctx, name, func(rs *RuleSet, l CustomList) {
		l.Patterns = slices.DeleteFunc(l.Patterns, func(p string) bool { return p == pattern })
		rs.CustomLists[name] = l
	})
}

// ReplaceLists swaps every custom list for lists (import).
func (s *Store) ReplaceLists(ctx context.Context, lists map[string]CustomList) error {
	for name, l := range lists {
		for _, p := range l.Patterns {
			if err := validatePattern(ListBlock, p); err != nil {
				return fmt.Errorf("list %q: %w", name, err)
			}
		}
	}
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		rs.CustomLists = RuleSet{CustomLists: lists}.Clone().CustomLists
		return nil
	})
	return err
}

func (s *Store) updateList(ctx context.Context, name string, fn func(*RuleSet, CustomList)) error {
	_, err := s.Update(ctx, func(rs *RuleSet) error {
		l, ok := rs.CustomLists[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownList, name)
		}
		fn(rs, l)
		return nil
	})
	return err
}
