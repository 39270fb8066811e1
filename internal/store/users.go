// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ManuGH/lure/internal/model"
)

const orgColumns = `o.id, o.name, o.domain, o.industry, o.size, o.subscription_tier, o.is_active, o.created_at,
	(SELECT COUNT(*) FROM users u WHERE u.organization_id = o.id)`

var organizationList = ListSpec{
	Filters: map[string]Filter{
		"industry":          {Column: "o.industry"},
		"size":              {Column: "o.size"},
		"subscription_tier": {Column: "o.subscription_tier"},
		"is_active":         {Column: "o.is_active", Bool: true},
	},
	Search:   []string{"o.name", "o.domain"},
	Ordering: map[string]string{"name": "o.name", "created_at": "o.created_at"},
	Default:  "o.name ASC",
}

func scanOrganization(r scanner) (model.Organization, error) {
	var o model.Organization
	var created int64
	err := r.Scan(&o.ID, &o.Name, &o.Domain, &o.Industry, &o.Size, &o.SubscriptionTier, &o.IsActive, &created, &o.UsersCount)
	o.CreatedAt = fromMS(created)
	return o, err
}

// CreateOrganization inserts o, assigning an id and creation time.
func (s *Store) CreateOrganization(ctx context.Context, o *model.Organization) error {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.SubscriptionTier == "" {
		o.SubscriptionTier = model.PlanBasic
	}
	o.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO organizations (id, name, domain, industry, size, subscription_tier, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, strings.ToLower(o.Domain), o.Industry, o.Size, o.SubscriptionTier, b2i(o.IsActive), ms(o.CreatedAt))
	return mapErr(err)
}

// GetOrganization loads one organization.
func (s *Store) GetOrganization(ctx context.Context, id string) (model.Organization, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations o WHERE o.id = ?`, id)
	o, err := scanOrganization(row)
	return o, mapErr(err)
}

// UpdateOrganization writes the mutable organization columns.
func (s *Store) UpdateOrganization(ctx context.Context, o *model.Organization) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `
	UPDATE organizations SET name = ?, domain = ?, industry = ?, size = ?, subscription_tier = ?, is_active = ?
	WHERE id = ?`,
		o.Name, strings.ToLower(o.Domain), o.Industry, o.Size, o.SubscriptionTier, b2i(o.IsActive), o.ID))
}

// ListOrganizations lists organizations. A non-empty onlyID restricts the
// result to that organization.
func (s *Store) ListOrganizations(ctx context.Context, onlyID string, p ListParams) (Page[model.Organization], error) {
	var w where
	if onlyID != "" {
		w.add("o.id = ?", onlyID)
	}
	return list(ctx, s.q(ctx), orgColumns, "organizations o", "o.id", w, organizationList, p, scanOrganization)
}

// OrganizationDomainExists reports whether another organization uses domain.
func (s *Store) OrganizationDomainExists(ctx context.Context, domain, excludeID string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM organizations WHERE domain = ? AND id != ?`,
		strings.ToLower(domain), excludeID)
	return n > 0, err
}

const userColumns = `u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name, u.role,
	COALESCE(u.organization_id, ''), COALESCE(o.name, ''), u.phone, u.is_verified, u.is_active, u.is_staff,
	u.last_login, u.created_at, u.updated_at,
	p.user_id, COALESCE(p.department, ''), COALESCE(p.job_title, ''), COALESCE(p.security_level, ''), p.last_training_date`

const userFrom = `users u
	LEFT JOIN organizations o ON o.id = u.organization_id
	LEFT JOIN user_profiles p ON p.user_id = u.id`

var userList = ListSpec{
	Filters: map[string]Filter{
		"role":        {Column: "u.role"},
		"is_active":   {Column: "u.is_active", Bool: true},
		"is_verified": {Column: "u.is_verified", Bool: true},
	},
	Search:   []string{"u.username", "u.email", "u.first_name", "u.last_name"},
	Ordering: map[string]string{"username": "u.username", "email": "u.email", "created_at": "u.created_at"},
	Default:  "u.username ASC",
}

func scanUser(r scanner) (model.User, error) {
	var u model.User
	var lastLogin, training sql.NullInt64
	var created, updated int64
	var profileID sql.NullString
	var prof model.UserProfile
	err := r.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.OrganizationID, &u.OrganizationName, &u.Phone, &u.IsVerified, &u.IsActive, &u.IsStaff,
		&lastLogin, &created, &updated,
		&profileID, &prof.Department, &prof.JobTitle, &prof.SecurityLevel, &training)
	if err != nil {
		return u, err
	}
	u.LastLogin = timePtr(lastLogin)
	u.CreatedAt = fromMS(created)
	u.UpdatedAt = fromMS(updated)
	if profileID.Valid {
		prof.LastTrainingDate = timePtr(training)
		u.Profile = &prof
	}
	return u, nil
}

// CreateUser inserts u and its profile when present.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	return s.InTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, organization_id,
			phone, is_verified, is_active, is_staff, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, nullStr(u.OrganizationID),
			u.Phone, b2i(u.IsVerified), b2i(u.IsActive), b2i(u.IsStaff), ms(now), ms(now))
		if err != nil {
			return mapErr(err)
		}
		if u.Profile != nil {
			return s.upsertProfile(ctx, u.ID, u.Profile)
		}
		return nil
	})
}

func (s *Store) upsertProfile(ctx context.Context, userID string, p *model.UserProfile) error {
	if p.SecurityLevel == "" {
		p.SecurityLevel = model.LevelMedium
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO user_profiles (user_id, department, job_title, security_level, last_training_date)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		department = excluded.department,
		job_title = excluded.job_title,
		security_level = excluded.security_level,
		last_training_date = excluded.last_training_date`,
		userID, p.Department, p.JobTitle, p.SecurityLevel, nullMS(p.LastTrainingDate))
	return mapErr(err)
}

// GetUser loads a user with organization name and profile.
func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM `+userFrom+` WHERE u.id = ?`, id))
	return u, mapErr(err)
}

// GetUserByEmail looks a user up case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(s.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM `+userFrom+` WHERE u.email = ?`,
		strings.TrimSpace(email)))
	return u, mapErr(err)
}

// UpdateUser writes profile fields, flags and role. The profile is created when
// u.Profile is set and none exists.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = s.now()
	return s.InTx(ctx, func(ctx context.Context) error {
		err := exactlyOne(s.q(ctx).ExecContext(ctx, `
		UPDATE users SET first_name = ?, last_name = ?, phone = ?, role = ?, is_active = ?, is_verified = ?,
			is_staff = ?, organization_id = ?, updated_at = ?
		WHERE id = ?`,
			u.FirstName, u.LastName, u.Phone, u.Role, b2i(u.IsActive), b2i(u.IsVerified),
			b2i(u.IsStaff), nullStr(u.OrganizationID), ms(u.UpdatedAt), u.ID))
		if err != nil {
			return err
		}
		if u.Profile != nil {
			return s.upsertProfile(ctx, u.ID, u.Profile)
		}
		return nil
	})
}

// SetPassword stores a new password hash.
func (s *Store) SetPassword(ctx context.Context, userID, hash string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, ms(s.now()), userID))
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, ms(at), userID))
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return exactlyOne(s.q(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id))
}

// ListUsers lists users, restricted to orgID when non-empty.
func (s *Store) ListUsers(ctx context.Context, orgID string, p ListParams) (Page[model.User], error) {
	var w where
	if orgID != "" {
		w.add("u.organization_id = ?", orgID)
	}
	return list(ctx, s.q(ctx), userColumns, userFrom, "u.id", w, userList, p, scanUser)
}

// UsernameExists reports whether username is taken.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM users WHERE username = ?`, username)
	return n > 0, err
}

// EmailExists reports whether email is taken (case-insensitive).
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	n, err := scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM users WHERE email = ?`, strings.TrimSpace(email))
	return n > 0, err
}

// UserStats summarizes the users of one organization.
type UserStats struct {
	TotalUsers          int            `json:"total_users"`
	ActiveUsers         int            `json:"active_users"`
	VerifiedUsers       int            `json:"verified_users"`
	UsersByRole         map[string]int `json:"users_by_role"`
	RecentRegistrations int            `json:"recent_registrations"`
}

// UserStatistics computes UserStats for orgID.
func (s *Store) UserStatistics(ctx context.Context, orgID string) (UserStats, error) {
	var st UserStats
	since := ms(s.now().AddDate(0, 0, -30))
	err := s.q(ctx).QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(is_active), 0),
		COALESCE(SUM(is_verified), 0),
		COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
	FROM users WHERE organization_id = ?`, since, orgID).
		Scan(&st.TotalUsers, &st.ActiveUsers, &st.VerifiedUsers, &st.RecentRegistrations)
	if err != nil {
		return st, err
	}
	st.UsersByRole, err = countBy(ctx, s.q(ctx), model.Roles,
		`SELECT role, COUNT(*) FROM users WHERE organization_id = ? GROUP BY role`, orgID)
	return st, err
}

// OrgManagers returns the active admin and customer users of an organization.
func (s *Store) OrgManagers(ctx context.Context, orgID string) ([]model.User, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM `+userFrom+`
	WHERE u.organization_id = ? AND u.is_active = 1 AND u.role IN ('admin', 'customer')
	ORDER BY u.username`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UsersByIDs loads users in id order of the database, skipping unknown ids.
func (s *Store) UsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM `+userFrom+`
	WHERE u.id IN (`+placeholders(len(ids))+`) ORDER BY u.username`, anyArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ForeignIDs returns the ids in ids that do not exist in table for orgID.
// table must be an organization-scoped table name.
func (s *Store) ForeignIDs(ctx context.Context, table, orgID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := queryStrings(ctx, s.q(ctx),
		`SELECT id FROM `+table+` WHERE organization_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		append([]any{orgID}, anyArgs(ids)...)...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// UserCountsByRole counts users per role across all organizations.
func (s *Store) UserCountsByRole(ctx context.Context) (map[string]int, error) {
	return countBy(ctx, s.q(ctx), model.Roles, `SELECT role, COUNT(*) FROM users GROUP BY role`)
}

// CountOrganizations counts all organizations.
func (s *Store) CountOrganizations(ctx context.Context) (int, error) {
	return scalarInt(ctx, s.q(ctx), `SELECT COUNT(*) FROM organizations`)
}
