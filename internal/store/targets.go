// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"strings"

	"github.com/ManuGH/lure/internal/model"
)

// Tags

const tagColumns = `g.id, g.organization_id, g.name, g.color, g.created_at,
	(SELECT COUNT(*) FROM target_tag_links l WHERE l.tag_id = g.id)`

var tagList = ListSpec{
	Search:   []string{"g.name"},
	Ordering: map[string]string{"name": "g.name", "created_at": "g.created_at"},
	Default:  "g.name ASC",
}

func scanTag(r scanner) (model.TargetTag, error) {
	var t model.TargetTag
	var created int64
	err := r.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Color, &created, &t.TargetsCount)
	t.CreatedAt = fromMS(created)
	return t, err
}

// CreateTag inserts a tag.
func (s *Store) CreateTag(ctx context.Context, t *model.TargetTag) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Color == "" {
		t.Color = model.DefaultTagColor
	}
	t.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO target_tags (id, organization_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.Name, t.Color, ms(t.CreatedAt))
	return mapErr(err)
}

// GetTag loads a tag within orgID.
func (s *Store) GetTag(ctx context.Context, orgID, id string) (model.TargetTag, error) {
	t, err := scanTag(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+tagColumns+` FROM target_tags g WHERE g.organization_id = ? AND g.id = ?`, orgID, id))
	return t, mapErr(err)
}

// UpdateTag writes name and color.
func (s *Store) UpdateTag(ctx context.Context, t *model.TargetTag) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx,
		`UPDATE target_tags SET name = ?, color = ? WHERE organization_id = ? AND id = ?`,
		t.Name, t.Color, t.OrganizationID, t.ID))
}

// DeleteTag removes a tag.
func (s *Store) DeleteTag(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM target_tags WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListTags lists the organization's tags.
func (s *Store) ListTags(ctx context.Context, orgID string, p ListParams) (Page[model.TargetTag], error) {
	var w where
	w.add("g.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), tagColumns, "target_tags g", "g.id", w, tagList, p, scanTag)
}

// TagNameExists reports whether orgID already has a tag called name.
func (s *Store) TagNameExists(ctx context.Context, orgID, name, excludeID string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM target_tags WHERE organization_id = ? AND name = ? AND id != ?`, orgID, name, excludeID)
	return n > 0, err
}

// Targets

const targetColumns = `t.id, t.organization_id, t.email, t.first_name, t.last_name, t.department, t.job_title,
	t.phone, t.risk_level, t.is_active, t.created_at`

var targetList = ListSpec{
	Filters: map[string]Filter{
		"risk_level": {Column: "t.risk_level"},
		"is_active":  {Column: "t.is_active", Bool: true},
		"department": {Column: "t.department"},
	},
	Search: []string{"t.first_name", "t.last_name", "t.email", "t.department", "t.job_title"},
	Ordering: map[string]string{
		"last_name": "t.last_name", "first_name": "t.first_name", "email": "t.email", "created_at": "t.created_at",
	},
	Default: "t.last_name ASC, t.first_name ASC",
}

func scanTarget(r scanner) (model.Target, error) {
	var t model.Target
	var created int64
	err := r.Scan(&t.ID, &t.OrganizationID, &t.Email, &t.FirstName, &t.LastName, &t.Department, &t.JobTitle,
		&t.Phone, &t.RiskLevel, &t.IsActive, &created)
	t.CreatedAt = fromMS(created)
	return t, err
}

func normalizeTarget(t *model.Target) {
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	if t.RiskLevel == "" {
		t.RiskLevel = model.LevelMedium
	}
}

// CreateTarget inserts a target and links tagIDs.
func (s *Store) CreateTarget(ctx context.Context, t *model.Target, tagIDs []string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.insertTarget(ctx, t); err != nil {
			return err
		}
		return s.setTargetTags(ctx, t.ID, tagIDs)
	})
}

func (s *Store) insertTarget(ctx context.Context, t *model.Target) error {
	if t.ID == "" {
		t.ID = newID()
	}
	normalizeTarget(t)
	t.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO targets (id, organization_id, email, first_name, last_name, department, job_title, phone,
		risk_level, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrganizationID, t.Email, t.FirstName, t.LastName, t.Department, t.JobTitle, t.Phone,
		t.RiskLevel, b2i(t.IsActive), ms(t.CreatedAt))
	return mapErr(err)
}

// BulkCreateTargets inserts every target in one transaction.
func (s *Store) BulkCreateTargets(ctx context.Context, targets []*model.Target) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		for _, t := range targets {
			if err := s.insertTarget(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) setTargetTags(ctx context.Context, targetID string, tagIDs []string) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM target_tag_links WHERE target_id = ?`, targetID); err != nil {
		return err
	}
	for _, id := range tagIDs {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO target_tag_links (target_id, tag_id) VALUES (?, ?)`, targetID, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// GetTarget loads a target with its tags.
func (s *Store) GetTarget(ctx context.Context, orgID, id string) (model.Target, error) {
	t, err := scanTarget(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets t WHERE t.organization_id = ? AND t.id = ?`, orgID, id))
	if err != nil {
		return t, mapErr(err)
	}
	out := []model.Target{t}
	if err := s.attachTags(ctx, out); err != nil {
		return t, err
	}
	return out[0], nil
}

// GetTargetByID loads a target without organization scoping.
func (s *Store) GetTargetByID(ctx context.Context, id string) (model.Target, error) {
	t, err := scanTarget(s.q(ctx).QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets t WHERE t.id = ?`, id))
	return t, mapErr(err)
}

// UpdateTarget writes target fields. A non-nil tagIDs replaces the tag set.
func (s *Store) UpdateTarget(ctx context.Context, t *model.Target, tagIDs []string) error {
	normalizeTarget(t)
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE targets SET email = ?, first_name = ?, last_name = ?, department = ?, job_title = ?, phone = ?,
			risk_level = ?, is_active = ?
		WHERE organization_id = ? AND id = ?`,
			t.Email, t.FirstName, t.LastName, t.Department, t.JobTitle, t.Phone, t.RiskLevel, b2i(t.IsActive),
			t.OrganizationID, t.ID))
		if err != nil || tagIDs == nil {
			return err
		}
		return s.setTargetTags(ctx, t.ID, tagIDs)
	})
}

// DeleteTarget removes a target.
func (s *Store) DeleteTarget(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM targets WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListTargets lists targets with their tags loaded in one extra query.
func (s *Store) ListTargets(ctx context.Context, orgID string, p ListParams) (Page[model.Target], error) {
	var w where
	w.add("t.organization_id = ?", orgID)
	page, err := list(ctx, s.q(ctx), targetColumns, "targets t", "t.id", w, targetList, p, scanTarget)
	if err != nil {
		return page, err
	}
	return page, s.attachTags(ctx, page.Results)
}

func (s *Store) attachTags(ctx context.Context, targets []model.Target) error {
	if len(targets) == 0 {
		return nil
	}
	idx := make(map[string]int, len(targets))
	ids := make([]string, len(targets))
	for i, t := range targets {
		idx[t.ID] = i
		ids[i] = t.ID
		targets[i].Tags = []model.TargetTag{}
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT l.target_id, g.id, g.organization_id, g.name, g.color, g.created_at, 0
	FROM target_tag_links l JOIN target_tags g ON g.id = l.tag_id
	WHERE l.target_id IN (`+placeholders(len(ids))+`) ORDER BY g.name`, anyArgs(ids)...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var targetID string
		var tag model.TargetTag
		var created int64
		if err := rows.Scan(&targetID, &tag.ID, &tag.OrganizationID, &tag.Name, &tag.Color, &created, &tag.TargetsCount); err != nil {
			return err
		}
		tag.CreatedAt = fromMS(created)
		i := idx[targetID]
		targets[i].Tags = append(targets[i].Tags, tag)
	}
	return rows.Err()
}

// ExistingTargetEmails returns which of emails already exist in orgID (lowercased).
func (s *Store) ExistingTargetEmails(ctx context.Context, orgID string, emails []string) (map[string]bool, error) {
	out := map[string]bool{}
	const chunk = 500
	for start := 0; start < len(emails); start += chunk {
		end := min(start+chunk, len(emails))
		batch := emails[start:end]
		found, err := queryStrings(ctx, s.q(ctx),
			`SELECT LOWER(email) FROM targets WHERE organization_id = ? AND LOWER(email) IN (`+placeholders(len(batch))+`)`,
			append([]any{orgID}, anyArgs(batch)...)...)
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			out[e] = true
		}
	}
	return out, nil
}

// TargetEmailExists reports whether orgID has a target with email.
func (s *Store) TargetEmailExists(ctx context.Context, orgID, email, excludeID string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM targets WHERE organization_id = ? AND email = ? AND id != ?`,
		orgID, strings.ToLower(strings.TrimSpace(email)), excludeID)
	return n > 0, err
}

// CountTargets counts the organization's targets.
func (s *Store) CountTargets(ctx context.Context, orgID string) (int, error) {
	return scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM targets WHERE organization_id = ?`, orgID)
}

// DepartmentCount is one row of the department breakdown.
type DepartmentCount struct {
	Department string `json:"department"`
	Count      int    `json:"count"`
}

// TargetStats summarizes an organization's targets.
type TargetStats struct {
	TotalTargets        int               `json:"total_targets"`
	ActiveTargets       int               `json:"active_targets"`
	TargetsByRisk       map[string]int    `json:"targets_by_risk"`
	TargetsByDepartment []DepartmentCount `json:"targets_by_department"`
	TotalGroups         int               `json:"total_groups"`
	TotalTags           int               `json:"total_tags"`
}

// TargetStatistics computes TargetStats for orgID.
func (s *Store) TargetStatistics(ctx context.Context, orgID string) (TargetStats, error) {
	q := s.q(ctx)
	var st TargetStats
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM targets WHERE organization_id = ?`, orgID).
		Scan(&st.TotalTargets, &st.ActiveTargets); err != nil {
		return st, err
	}
	var err error
	st.TargetsByRisk, err = countBy(ctx, q, model.Levels,
		`SELECT risk_level, COUNT(*) FROM targets WHERE organization_id = ? GROUP BY risk_level`, orgID)
	if err != nil {
		return st, err
	}

	rows, err := q.QueryContext(ctx, `
	SELECT department, COUNT(*) AS n FROM targets WHERE organization_id = ?
	GROUP BY department ORDER BY n DESC, department ASC LIMIT 10`, orgID)
	if err != nil {
		return st, err
	}
	defer func() { _ = rows.Close() }()
	st.TargetsByDepartment = []DepartmentCount{}
	for rows.Next() {
		var d DepartmentCount
		if err := rows.Scan(&d.Department, &d.Count); err != nil {
			return st, err
		}
		st.TargetsByDepartment = append(st.TargetsByDepartment, d)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	if st.TotalGroups, err = scalarInt(ctx, q, `SELECT COUNT(*) FROM target_groups WHERE organization_id = ?`, orgID); err != nil {
		return st, err
	}
	st.TotalTags, err = scalarInt(ctx, q, `SELECT COUNT(*) FROM target_tags WHERE organization_id = ?`, orgID)
	return st, err
}

// Groups

const groupColumns = `tg.id, tg.organization_id, tg.name, tg.description, COALESCE(tg.created_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = tg.created_by), ''),
	tg.created_at, (SELECT COUNT(*) FROM target_group_members m WHERE m.group_id = tg.id)`

var groupList = ListSpec{
	Search:   []string{"tg.name", "tg.description"},
	Ordering: map[string]string{"name": "tg.name", "created_at": "tg.created_at"},
	Default:  "tg.name ASC",
}

func scanGroup(r scanner) (model.TargetGroup, error) {
	var g model.TargetGroup
	var created int64
	err := r.Scan(&g.ID, &g.OrganizationID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedByName, &created, &g.TargetsCount)
	g.CreatedAt = fromMS(created)
	return g, err
}

// CreateGroup inserts a group with its members.
func (s *Store) CreateGroup(ctx context.Context, g *model.TargetGroup, targetIDs []string) error {
	if g.ID == "" {
		g.ID = newID()
	}
	g.CreatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO target_groups (id, organization_id, name, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID, g.OrganizationID, g.Name, g.Description, nullStr(g.CreatedBy), ms(g.CreatedAt))
		if err != nil {
			return mapErr(err)
		}
		return s.setGroupMembers(ctx, g.ID, targetIDs)
	})
}

func (s *Store) setGroupMembers(ctx context.Context, groupID string, targetIDs []string) error {
	if _, err := s.q(ctx).ExecContext(ctx, `DELETE FROM target_group_members WHERE group_id = ?`, groupID); err != nil {
		return err
	}
	for _, id := range targetIDs {
		if _, err := s.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO target_group_members (group_id, target_id) VALUES (?, ?)`, groupID, id); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// GetGroup loads a group and its targets.
func (s *Store) GetGroup(ctx context.Context, orgID, id string) (model.TargetGroup, error) {
	g, err := scanGroup(s.q(ctx).QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM target_groups tg WHERE tg.organization_id = ? AND tg.id = ?`, orgID, id))
	if err != nil {
		return g, mapErr(err)
	}
	g.Targets, err = s.groupTargets(ctx, g.ID)
	return g, err
}

func (s *Store) groupTargets(ctx context.Context, groupID string) ([]model.Target, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+targetColumns+` FROM targets t
	JOIN target_group_members m ON m.target_id = t.id
	WHERE m.group_id = ? ORDER BY t.last_name, t.first_name`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, s.attachTags(ctx, out)
}

// UpdateGroup writes name and description. A non-nil targetIDs replaces the members.
func (s *Store) UpdateGroup(ctx context.Context, g *model.TargetGroup, targetIDs []string) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx,
			`UPDATE target_groups SET name = ?, description = ? WHERE organization_id = ? AND id = ?`,
			g.Name, g.Description, g.OrganizationID, g.ID))
		if err != nil || targetIDs == nil {
			return err
		}
		return s.setGroupMembers(ctx, g.ID, targetIDs)
	})
}

// DeleteGroup removes a group.
func (s *Store) DeleteGroup(ctx context.Context, orgID, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM target_groups WHERE organization_id = ? AND id = ?`, orgID, id))
}

// ListGroups lists groups with nested targets.
func (s *Store) ListGroups(ctx context.Context, orgID string, p ListParams) (Page[model.TargetGroup], error) {
	var w where
	w.add("tg.organization_id = ?", orgID)
	page, err := list(ctx, s.q(ctx), groupColumns, "target_groups tg", "tg.id", w, groupList, p, scanGroup)
	if err != nil {
		return page, err
	}
	for i := range page.Results {
		if page.Results[i].Targets, err = s.groupTargets(ctx, page.Results[i].ID); err != nil {
			return page, err
		}
	}
	return page, nil
}

// GroupNameExists reports whether orgID already has a group called name.
func (s *Store) GroupNameExists(ctx context.Context, orgID, name, excludeID string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx),
		`SELECT COUNT(*) FROM target_groups WHERE organization_id = ? AND name = ? AND id != ?`, orgID, name, excludeID)
	return n > 0, err
}

// Imports

const importColumns = `i.id, i.organization_id, i.file_name, i.total_records, i.successful_imports,
	i.failed_imports, i.status, i.error_log, COALESCE(i.imported_by, ''),
	COALESCE((SELECT TRIM(u.first_name || ' ' || u.last_name) FROM users u WHERE u.id = i.imported_by), ''),
	i.created_at`

var importList = ListSpec{
	Filters:  map[string]Filter{"status": {Column: "i.status"}},
	Ordering: map[string]string{"created_at": "i.created_at"},
	Default:  "i.created_at DESC",
}

func scanImport(r scanner) (model.TargetImport, error) {
	var i model.TargetImport
	var created int64
	err := r.Scan(&i.ID, &i.OrganizationID, &i.FileName, &i.TotalRecords, &i.SuccessfulImports,
		&i.FailedImports, &i.Status, &i.ErrorLog, &i.ImportedBy, &i.ImportedByName, &created)
	i.CreatedAt = fromMS(created)
	return i, err
}

// CreateImport records a bulk import run.
func (s *Store) CreateImport(ctx context.Context, i *model.TargetImport) error {
	if i.ID == "" {
		i.ID = newID()
	}
	i.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO target_imports (id, organization_id, file_name, total_records, successful_imports, failed_imports,
		status, error_log, imported_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.OrganizationID, i.FileName, i.TotalRecords, i.SuccessfulImports, i.FailedImports,
		i.Status, i.ErrorLog, nullStr(i.ImportedBy), ms(i.CreatedAt))
	return mapErr(err)
}

// ListImports lists import runs, newest first.
func (s *Store) ListImports(ctx context.Context, orgID string, p ListParams) (Page[model.TargetImport], error) {
	var w where
	w.add("i.organization_id = ?", orgID)
	return list(ctx, s.q(ctx), importColumns, "target_imports i", "i.id", w, importList, p, scanImport)
}
