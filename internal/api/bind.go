// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/store"
)

// maxJSONBody bounds JSON request bodies. Uploads use MaxUploadBytes.
const maxJSONBody = 1 << 20

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeLimit(w, r, dst, maxJSONBody)
}

// decodeLimit is decode with a caller-chosen body limit.
func decodeLimit(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return ErrUnsupportedMedia.withMessage(fmt.Sprintf("Unsupported media type %q in request.", ct))
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return err
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return fieldErrors{typeErr.Field: {"Incorrect type. Expected " + typeErr.Type.String() + "."}}
		default:
			return badRequest("JSON parse error - " + err.Error())
		}
	}
	return nil
}

// fieldErrors is a ready-made validation error keyed by field.
type fieldErrors map[string][]string

func (f fieldErrors) Error() string { return "validation failed" }

// listParams reads pagination, search, ordering and filters from the query.
// Every other query parameter is offered to the store as a filter; each list
// only honours its own whitelist.
func listParams(r *http.Request) store.ListParams {
	q := r.URL.Query()
	p := store.ListParams{
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
		Filters:  map[string]string{},
	}
	p.Page, _ = strconv.Atoi(q.Get("page"))
	p.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	for k, v := range q {
		switch k {
		case "page", "page_size", "search", "ordering", "token":
			continue
		}
		if len(v) > 0 {
			p.Filters[k] = v[0]
		}
	}
	return p
}

// invalidIDs formats the rejected ids of a relation field.
func invalidIDs(label string, ids []string) string {
	return fmt.Sprintf("Invalid %s IDs: [%s]", label, strings.Join(ids, ", "))
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// Patch helpers: a nil pointer means the field was absent from the request.

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
