// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Pagination defaults.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// ListParams are the query parameters shared by every list endpoint.
type ListParams struct {
	Page     int
	PageSize int
	Search   string
	Ordering string
	Filters  map[string]string
}

// Page is one page of results.
type Page[T any] struct {
	Count      int `json:"count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
	Results    []T `json:"results"`
}

// Filter maps an exact-match query parameter to a column.
type Filter struct {
	Column string
	Bool   bool
}

// ListSpec describes what a list endpoint may filter, search and order by.
type ListSpec struct {
	Filters  map[string]Filter
	Search   []string
	Ordering map[string]string
	Default  string
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

type scanner interface {
	Scan(dest ...any) error
}

func (p ListParams) normalized() (page, size int) {
	page, size = p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// apply adds filters and search to w.
func (spec ListSpec) apply(w *where, p ListParams) {
	for name, f := range spec.Filters {
		raw, ok := p.Filters[name]
		if !ok || raw == "" {
			continue
		}
		if f.Bool {
			b, ok := parseBool(raw)
			if !ok {
				// Unparseable booleans match nothing.
				w.add("1 = 0")
				continue
			}
			w.add(f.Column+" = ?", b2i(b))
			continue
		}
		w.add(f.Column+" = ?", raw)
	}

	term := strings.TrimSpace(p.Search)
	if term == "" || len(spec.Search) == 0 {
		return
	}
	like := "%" + escapeLike(strings.ToLower(term)) + "%"
	parts := make([]string, len(spec.Search))
	args := make([]any, len(spec.Search))
	for i, col := range spec.Search {
		parts[i] = "LOWER(" + col + `) LIKE ? ESCAPE '\'`
		args[i] = like
	}
	w.add("("+strings.Join(parts, " OR ")+")", args...)
}

// orderBy builds the ORDER BY clause. Unknown fields are ignored. An id
// tiebreaker keeps pagination stable.
func (spec ListSpec) orderBy(ordering, idColumn string) string {
	var terms []string
	for _, f := range strings.Split(ordering, ",") {
		f = strings.TrimSpace(f)
		desc := strings.HasPrefix(f, "-")
		col, ok := spec.Ordering[strings.TrimPrefix(f, "-")]
		if !ok {
			continue
		}
		if desc {
			terms = append(terms, col+" DESC")
		} else {
			terms = append(terms, col+" ASC")
		}
	}
	clause := strings.Join(terms, ", ")
	if clause == "" {
		clause = spec.Default
	}
	if clause == "" {
		return " ORDER BY " + idColumn
	}
	return " ORDER BY " + clause + ", " + idColumn
}

// list runs a paginated query. selectCols and from form
// "SELECT <selectCols> FROM <from>"; base holds scope clauses.
func list[T any](ctx context.Context, q querier, selectCols, from, idColumn string, base where, spec ListSpec, p ListParams, scan func(scanner) (T, error)) (Page[T], error) {
	page, size := p.normalized()
	w := base
	spec.apply(&w, p)

	out := Page[T]{Page: page, PageSize: size, Results: []T{}}
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from+w.sql(), w.args...).Scan(&out.Count); err != nil {
		return out, fmt.Errorf("count: %w", err)
	}
	out.TotalPages = (out.Count + size - 1) / size

	query := "SELECT " + selectCols + " FROM " + from + w.sql() + spec.orderBy(p.Ordering, idColumn) + " LIMIT ? OFFSET ?"
	args := append(append([]any{}, w.args...), size, (page-1)*size)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return out, fmt.Errorf("list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, v)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	return b, err == nil
}
