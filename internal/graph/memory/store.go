// Package memory provides an in-process graph store with the same merge
// semantics as the Neo4j store. It backs dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

// Edge is a WORKS_IN relationship from a person to a company.
type Edge struct {
	Person    string
	CompanyRC string
}

// Store keeps companies by register code, persons by name, and edges as a set.
type Store struct {
	mu        sync.RWMutex
	linkBy    crawler.LinkTarget
	companies map[string]map[string]any
	persons   map[string]struct{}
	edges     map[Edge]struct{}
}

var _ crawler.GraphStore = (*Store)(nil)

// NewStore constructs an empty Store. An empty linkBy matches by name.
func NewStore(linkBy crawler.LinkTarget) *Store {
	if linkBy == "" {
		linkBy = crawler.LinkByName
	}
	return &Store{
		linkBy:    linkBy,
		companies: make(map[string]map[string]any),
		persons:   make(map[string]struct{}),
		edges:     make(map[Edge]struct{}),
	}
}

// EnsureSchema is a no-op; uniqueness is structural here.
func (s *Store) EnsureSchema(context.Context) error {
	return nil
}

// Upsert merges the company, its representatives, and the edges between them.
// Properties are written only when the company node is first created.
func (s *Store) Upsert(ctx context.Context, record *crawler.CompanyRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory upsert: %w", err)
	}
	if record == nil {
		return nil
	}
	rc := record.RC.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.companies[rc]; !exists {
		s.companies[rc] = record.Properties()
	}
	for _, name := range record.Representatives {
		s.persons[name] = struct{}{}
	}

	targets := s.matchCompanies(record)
	for _, name := range record.Representatives {
		for _, target := range targets {
			s.edges[Edge{Person: name, CompanyRC: target}] = struct{}{}
		}
	}
	return nil
}

// matchCompanies mirrors the MATCH in the link step: by name it may hit
// several companies, or none when the record has no name.
func (s *Store) matchCompanies(record *crawler.CompanyRecord) []string {
	if s.linkBy == crawler.LinkByRC {
		return []string{record.RC.String()}
	}
	name := record.Name()
	if name == "" {
		return nil
	}
	var matches []string
	for rc, props := range s.companies {
		if props[string(crawler.FieldName)] == name {
			matches = append(matches, rc)
		}
	}
	return matches
}

// Company returns a copy of the stored company properties.
func (s *Store) Company(rc crawler.Identifier) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props, ok := s.companies[rc.String()]
	if !ok {
		return nil, false
	}
	return maps.Clone(props), true
}

// CompanyCount returns the number of company nodes.
func (s *Store) CompanyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.companies)
}

// Persons returns the person names in sorted order.
func (s *Store) Persons() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.persons))
}

// Edges returns the WORKS_IN edges sorted by person, then company.
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, 0, len(s.edges))
	for e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Person != out[j].Person {
			return out[i].Person < out[j].Person
		}
		return out[i].CompanyRC < out[j].CompanyRC
	})
	return out
}
