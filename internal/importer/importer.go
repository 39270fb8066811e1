// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package importer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/lure/internal/log"
	"github.com/ManuGH/lure/internal/metrics"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/validate"
)

const (
	maxResponseErrors = 100
	maxLoggedErrors   = 500
	maxPhoneLength    = 15
)

var allowedFields = []string{"email", "first_name", "last_name", "department", "job_title", "phone", "risk_level", "is_active"}

// Limiter enforces the plan target quota.
type Limiter interface {
	CheckTargets(ctx context.Context, orgID string, adding int) error
}

// Result is returned to the uploader.
type Result struct {
	CreatedCount   int            `json:"created_count"`
	ErrorCount     int            `json:"error_count"`
	Errors         []string       `json:"errors"`
	CreatedTargets []model.Target `json:"created_targets"`
	ImportID       string         `json:"import_id,omitempty"`
}

// Importer runs the bulk creation pipeline.
type Importer struct {
	store  *store.Store
	limits Limiter
	logger zerolog.Logger
}

// New returns an Importer. limits may be nil for unlimited imports.
func New(st *store.Store, limits Limiter) *Importer {
	return &Importer{store: st, limits: limits, logger: log.WithComponent("importer")}
}

// Normalize keeps allowed fields, trims strings and coerces risk_level and
// is_active.
func Normalize(row Row) model.Target {
	get := func(k string) string { return strings.TrimSpace(row[k]) }
	t := model.Target{
		Email:      strings.ToLower(get("email")),
		FirstName:  get("first_name"),
		LastName:   get("last_name"),
		Department: get("department"),
		JobTitle:   get("job_title"),
		Phone:      get("phone"),
		RiskLevel:  strings.ToLower(get("risk_level")),
		IsActive:   true,
	}
	if !slices.Contains(model.Levels, t.RiskLevel) {
		t.RiskLevel = model.LevelMedium
	}
	if v, ok := coerceBool(get("is_active")); ok {
		t.IsActive = v
	}
	return t
}

func coerceBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}

func validateTarget(t model.Target) []string {
	v := validate.New()
	v.Email("email", t.Email)
	v.Required("first_name", t.FirstName)
	v.Required("last_name", t.LastName)
	v.Required("department", t.Department)
	v.Required("job_title", t.JobTitle)
	v.MaxLen("phone", t.Phone, maxPhoneLength)
	var out []string
	for _, e := range v.Errors() {
		out = append(out, fmt.Sprintf("%s: %s: %s", t.Email, e.Field, e.Message))
	}
	return out
}

// Run imports rows into orgID. A TargetImport is always written; the
// returned error is non-nil only for storage failures and plan limits.
func (im *Importer) Run(ctx context.Context, orgID, userID, fileName string, rows []Row) (Result, error) {
	res := Result{Errors: []string{}, CreatedTargets: []model.Target{}}

	var errs []string
	seen := make(map[string]bool, len(rows))
	cleaned := make([]model.Target, 0, len(rows))
	for i, row := range rows {
		t := Normalize(row)
		switch {
		case t.Email == "":
			errs = append(errs, fmt.Sprintf("Row %d: email is required", i+1))
			continue
		case seen[t.Email]:
			errs = append(errs, fmt.Sprintf("Row %d: duplicate email in file (%s)", i+1, t.Email))
			continue
		}
		seen[t.Email] = true
		cleaned = append(cleaned, t)
	}

	emails := make([]string, len(cleaned))
	for i, t := range cleaned {
		emails[i] = t.Email
	}
	existing, err := im.store.ExistingTargetEmails(ctx, orgID, emails)
	if err != nil {
		return res, err
	}

	valid := make([]*model.Target, 0, len(cleaned))
	for _, t := range cleaned {
		if existing[t.Email] {
			errs = append(errs, "Email already exists: "+t.Email)
			continue
		}
		if problems := validateTarget(t); len(problems) > 0 {
			errs = append(errs, problems...)
			continue
		}
		t.OrganizationID = orgID
		valid = append(valid, &t)
	}

	if len(valid) > 0 && im.limits != nil {
		if err := im.limits.CheckTargets(ctx, orgID, len(valid)); err != nil {
			errs = append(errs, err.Error())
			_, _ = im.record(ctx, orgID, userID, fileName, len(rows), 0, errs)
			metrics.RecordImport(0, len(rows))
			return res, err
		}
	}

	if len(valid) > 0 {
		if err := im.store.BulkCreateTargets(ctx, valid); err != nil {
			return res, fmt.Errorf("bulk create targets: %w", err)
		}
	}
	for _, t := range valid {
		res.CreatedTargets = append(res.CreatedTargets, *t)
	}

	res.CreatedCount = len(valid)
	res.ErrorCount = len(errs)
	res.Errors = append(res.Errors, errs[:min(len(errs), maxResponseErrors)]...)
	id, err := im.record(ctx, orgID, userID, fileName, len(rows), len(valid), errs)
	if err != nil {
		return res, err
	}
	res.ImportID = id
	metrics.RecordImport(len(valid), len(errs))
	im.logger.Info().
		Str(log.FieldEvent, "targets.imported").
		Str(log.FieldOrgID, orgID).
		Int("total", len(rows)).
		Int("created", len(valid)).
		Int("failed", len(errs)).
		Msg("bulk import finished")
	return res, nil
}

func (im *Importer) record(ctx context.Context, orgID, userID, fileName string, total, created int, errs []string) (string, error) {
	status := model.ImportCompleted
	if created == 0 && len(errs) > 0 {
		status = model.ImportFailed
	}
	imp := model.TargetImport{
		OrganizationID:    orgID,
		FileName:          fileName,
		TotalRecords:      total,
		SuccessfulImports: created,
		FailedImports:     len(errs),
		Status:            status,
		ErrorLog:          strings.Join(errs[:min(len(errs), maxLoggedErrors)], "\n"),
		ImportedBy:        userID,
	}
	if err := im.store.CreateImport(ctx, &imp); err != nil {
		return "", err
	}
	return imp.ID, nil
}
