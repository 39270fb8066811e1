// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ManuGH/lure/internal/audit"
	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/validate"
)

var phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)

const phoneMessage = "Phone number must be entered in the format: '+999999999'. Up to 15 digits allowed."

type profileRequest struct {
	Department       *string    `json:"department"`
	JobTitle         *string    `json:"job_title"`
	SecurityLevel    *string    `json:"security_level"`
	LastTrainingDate *time.Time `json:"last_training_date"`
}

// apply merges the request into dst, allocating it when nil.
func (p *profileRequest) apply(dst *model.UserProfile) *model.UserProfile {
	if dst == nil {
		dst = &model.UserProfile{SecurityLevel: model.LevelMedium}
	}
	setString(&dst.Department, p.Department)
	setString(&dst.JobTitle, p.JobTitle)
	setString(&dst.SecurityLevel, p.SecurityLevel)
	if p.LastTrainingDate != nil {
		t := p.LastTrainingDate.UTC()
		dst.LastTrainingDate = &t
	}
	return dst
}

func validateProfile(v *validate.Validator, field string, p *model.UserProfile) {
	if p == nil {
		return
	}
	v.MaxLen(field+".department", p.Department, 100)
	v.MaxLen(field+".job_title", p.JobTitle, 100)
	v.OneOf(field+".security_level", p.SecurityLevel, model.Levels)
}

type organizationRequest struct {
	Name             *string `json:"name"`
	Domain           *string `json:"domain"`
	Industry         *string `json:"industry"`
	Size             *string `json:"size"`
	SubscriptionTier *string `json:"subscription_tier"`
	IsActive         *bool   `json:"is_active"`
}

func (o *organizationRequest) apply(dst *model.Organization) {
	setString(&dst.Name, o.Name)
	setString(&dst.Domain, o.Domain)
	setString(&dst.Industry, o.Industry)
	setString(&dst.Size, o.Size)
	setString(&dst.SubscriptionTier, o.SubscriptionTier)
	setBool(&dst.IsActive, o.IsActive)
	dst.Name = strings.TrimSpace(dst.Name)
	dst.Domain = strings.ToLower(strings.TrimSpace(dst.Domain))
}

// validateOrganization checks o, prefixing field names with prefix.
func (s *Server) validateOrganization(ctx context.Context, v *validate.Validator, prefix string, o model.Organization) error {
	if v.Required(prefix+"name", o.Name) {
		v.MaxLen(prefix+"name", o.Name, 200)
	}
	if v.Required(prefix+"domain", o.Domain) {
		v.MaxLen(prefix+"domain", o.Domain, 100)
		exists, err := s.store.OrganizationDomainExists(ctx, o.Domain, o.ID)
		if err != nil {
			return err
		}
		if exists {
			v.AddError(prefix+"domain", "An organization with this domain already exists.", o.Domain)
		}
	}
	if v.Required(prefix+"industry", o.Industry) {
		v.OneOf(prefix+"industry", o.Industry, model.Industries)
	}
	if v.Required(prefix+"size", o.Size) {
		v.OneOf(prefix+"size", o.Size, model.OrgSizes)
	}
	return nil
}

// userDetail is a user with its organization nested.
type userDetail struct {
	ID           string              `json:"id"`
	Username     string              `json:"username"`
	Email        string              `json:"email"`
	FirstName    string              `json:"first_name"`
	LastName     string              `json:"last_name"`
	Role         string              `json:"role"`
	Organization *model.Organization `json:"organization"`
	Phone        string              `json:"phone"`
	IsVerified   bool                `json:"is_verified"`
	IsActive     bool                `json:"is_active"`
	CreatedAt    time.Time           `json:"created_at"`
	Profile      *model.UserProfile  `json:"profile"`
	FullName     string              `json:"full_name"`
}

func newUserDetail(u model.User, org *model.Organization) userDetail {
	return userDetail{
		ID: u.ID, Username: u.Username, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName,
		Role: u.Role, Organization: org, Phone: u.Phone, IsVerified: u.IsVerified, IsActive: u.IsActive,
		CreatedAt: u.CreatedAt, Profile: u.Profile, FullName: u.FullName(),
	}
}

type signupRequest struct {
	Username         string               `json:"username"`
	Email            string               `json:"email"`
	FirstName        string               `json:"first_name"`
	LastName         string               `json:"last_name"`
	Role             string               `json:"role"`
	OrganizationID   string               `json:"organization_id"`
	OrganizationData *organizationRequest `json:"organization_data"`
	Phone            string               `json:"phone"`
	Password         string               `json:"password"`
	PasswordConfirm  string               `json:"password_confirm"`
	ProfileData      *profileRequest      `json:"profile_data"`
}

// POST /users
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	if req.Role == "" {
		req.Role = model.RoleCustomer
	}
	u := model.User{
		Username:  strings.TrimSpace(req.Username),
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      req.Role,
		Phone:     strings.TrimSpace(req.Phone),
		IsActive:  true,
	}
	if req.ProfileData != nil {
		u.Profile = req.ProfileData.apply(nil)
	}

	v := validate.New()
	if v.Required("username", u.Username) {
		v.MaxLen("username", u.Username, 150)
		taken, err := s.store.UsernameExists(ctx, u.Username)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if taken {
			v.AddError("username", "A user with that username already exists.", u.Username)
		}
	}
	if v.Required("email", u.Email) {
		v.Email("email", u.Email)
		taken, err := s.store.EmailExists(ctx, u.Email)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if taken {
			v.AddError("email", "user with this email already exists.", u.Email)
		}
	}
	v.MaxLen("first_name", u.FirstName, 150)
	v.MaxLen("last_name", u.LastName, 150)
	v.OneOf("role", u.Role, model.Roles)
	if u.Phone != "" {
		v.Match("phone", u.Phone, phonePattern, phoneMessage)
	}
	if v.Required("password", req.Password) {
		for _, problem := range auth.PasswordProblems(req.Password) {
			v.AddError("password", problem, nil)
		}
	}
	v.Required("password_confirm", req.PasswordConfirm)
	validateProfile(v, "profile_data", u.Profile)
	if v.IsValid() && req.Password != req.PasswordConfirm {
		v.NonField("Passwords don't match")
	}
	if v.IsValid() {
		hasData, hasID := req.OrganizationData != nil, req.OrganizationID != ""
		switch u.Role {
		case model.RoleCustomer:
			if !hasData && !hasID {
				v.NonField("Customer users must either provide organization_data to create a new organization " +
					"or organization_id to join an existing organization.")
			}
			if hasData && hasID {
				v.NonField("Provide either organization_data (to create new) or organization_id (to join existing), not both.")
			}
		case model.RoleTarget:
			if !hasID {
				v.NonField("Target users must provide organization_id to join an existing organization.")
			}
			if hasData {
				v.NonField("Target users cannot create new organizations.")
			}
		}
	}
	if err := v.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if u.Role == model.RoleAdmin {
		if p := principal(r); p == nil || !p.IsAdmin() {
			respondError(w, r, ErrPermissionDenied.withMessage("Only platform admins can create admin accounts."))
			return
		}
	}

	var org *model.Organization
	switch {
	case req.OrganizationData != nil:
		o := model.Organization{SubscriptionTier: "basic", IsActive: true}
		req.OrganizationData.SubscriptionTier, req.OrganizationData.IsActive = nil, nil
		req.OrganizationData.apply(&o)
		ov := validate.New()
		if err := s.validateOrganization(ctx, ov, "organization_data.", o); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := ov.Err(); err != nil {
			writeServiceError(w, r, err)
			return
		}
		org = &o
	case req.OrganizationID != "":
		o, err := s.store.GetOrganization(ctx, req.OrganizationID)
		if errors.Is(err, store.ErrNotFound) {
			respondField(w, r, "organization_id", "Organization not found.")
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		org = &o
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	u.PasswordHash = hash

	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if org != nil && org.ID == "" {
			if err := s.store.CreateOrganization(ctx, org); err != nil {
				return err
			}
			if s.billing != nil {
				if _, err := s.billing.StartTrial(ctx, org.ID); err != nil {
					return err
				}
			}
		}
		if org != nil {
			u.OrganizationID = org.ID
		}
		return s.store.CreateUser(ctx, &u)
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if org != nil {
		if fresh, err := s.store.GetOrganization(ctx, org.ID); err == nil {
			org = &fresh
		}
	}

	ev := audit.Event{Type: audit.EventSignup, Actor: u.ID, Action: "signed up", Resource: "user:" + u.ID, Result: audit.ResultSuccess}
	if u.Role == model.RoleAdmin {
		ev.Type, ev.Actor, ev.Action = audit.EventAdminCreated, principal(r).UserID(), "created admin account"
	}
	s.audit.FromRequest(r, ev)
	respond(w, http.StatusCreated, newUserDetail(u, org))
}

// GET /profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, principal(r).User)
}

type userUpdateRequest struct {
	FirstName   *string         `json:"first_name"`
	LastName    *string         `json:"last_name"`
	Phone       *string         `json:"phone"`
	ProfileData *profileRequest `json:"profile_data"`
	IsActive    *bool           `json:"is_active"`
	IsVerified  *bool           `json:"is_verified"`
	Role        *string         `json:"role"`
}

// applyUserUpdate merges req into u. Flag and role changes require admin.
func applyUserUpdate(u *model.User, req userUpdateRequest, admin bool) error {
	setString(&u.FirstName, req.FirstName)
	setString(&u.LastName, req.LastName)
	setString(&u.Phone, req.Phone)
	if req.ProfileData != nil {
		u.Profile = req.ProfileData.apply(u.Profile)
	}
	if admin {
		setBool(&u.IsActive, req.IsActive)
		setBool(&u.IsVerified, req.IsVerified)
		setString(&u.Role, req.Role)
	}

	v := validate.New()
	v.MaxLen("first_name", u.FirstName, 150)
	v.MaxLen("last_name", u.LastName, 150)
	if u.Phone != "" {
		v.Match("phone", u.Phone, phonePattern, phoneMessage)
	}
	v.OneOf("role", u.Role, model.Roles)
	validateProfile(v, "profile_data", u.Profile)
	return v.Err()
}

// PUT|PATCH /profile
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req userUpdateRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u := principal(r).User
	if err := applyUserUpdate(&u, req, false); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateUser(r.Context(), &u); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondUser(w, r, u.ID)
}

func (s *Server) respondUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, u)
}

// scopedUser loads a user visible to the caller: admins see everyone,
// customers their own organization.
func (s *Server) scopedUser(r *http.Request, id string) (model.User, error) {
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		return u, err
	}
	p := principal(r)
	if !p.IsAdmin() && (p.OrgID() == "" || u.OrganizationID != p.OrgID()) {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

// GET /users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	orgID := ""
	if !p.IsAdmin() {
		if !p.OrgMember() {
			respond(w, http.StatusOK, emptyPage[model.User](r))
			return
		}
		orgID = p.OrgID()
	}
	page, err := s.store.ListUsers(r.Context(), orgID, listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// GET /users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.scopedUser(r, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, u)
}

// PUT|PATCH /users/{id}
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.scopedUser(r, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req userUpdateRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	if err := applyUserUpdate(&u, req, p.IsAdmin()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateUser(r.Context(), &u); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit.FromRequest(r, audit.Event{
		Type: audit.EventUserUpdated, Actor: p.UserID(), Action: "updated user", Resource: "user:" + u.ID, Result: audit.ResultSuccess,
	})
	s.respondUser(w, r, u.ID)
}

// DELETE /users/{id}
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.scopedUser(r, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	if u.ID == p.UserID() {
		writeServiceError(w, r, badRequest("You cannot delete your own account."))
		return
	}
	if err := s.store.DeleteUser(r.Context(), u.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit.FromRequest(r, audit.Event{
		Type: audit.EventUserDeleted, Actor: p.UserID(), Action: "deleted user", Resource: "user:" + u.ID, Result: audit.ResultSuccess,
	})
	w.WriteHeader(http.StatusNoContent)
}

// GET /statistics
func (s *Server) handleUserStatistics(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	orgID := p.OrgID()
	if want := r.URL.Query().Get("organization"); want != "" && p.IsAdmin() {
		if _, err := s.store.GetOrganization(r.Context(), want); err == nil {
			orgID = want
		}
	}
	if orgID == "" {
		writeServiceError(w, r, badRequest("No organization found"))
		return
	}
	stats, err := s.store.UserStatistics(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

// GET /organizations
func (s *Server) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	onlyID := ""
	if !p.IsAdmin() {
		if !p.OrgMember() {
			respond(w, http.StatusOK, emptyPage[model.Organization](r))
			return
		}
		onlyID = p.OrgID()
	}
	page, err := s.store.ListOrganizations(r.Context(), onlyID, listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// POST /organizations
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.SubscriptionTier, req.IsActive = nil, nil
	o := model.Organization{SubscriptionTier: "basic", IsActive: true}
	req.apply(&o)
	v := validate.New()
	if err := s.validateOrganization(r.Context(), v, "", o); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := v.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	err := s.store.InTx(r.Context(), func(ctx context.Context) error {
		if err := s.store.CreateOrganization(ctx, &o); err != nil {
			return err
		}
		if s.billing == nil {
			return nil
		}
		_, err := s.billing.StartTrial(ctx, o.ID)
		return err
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, o)
}

func (s *Server) scopedOrganization(r *http.Request, id string) (model.Organization, error) {
	p := principal(r)
	if !p.IsAdmin() && id != p.OrgID() {
		return model.Organization{}, store.ErrNotFound
	}
	return s.store.GetOrganization(r.Context(), id)
}

// GET /organizations/{id}
func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.scopedOrganization(r, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, o)
}

// PUT|PATCH /organizations/{id}
func (s *Server) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.scopedOrganization(r, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req organizationRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	v := validate.New()
	if !principal(r).IsAdmin() {
		if req.SubscriptionTier != nil && *req.SubscriptionTier != o.SubscriptionTier {
			v.AddError("subscription_tier", "Only platform admins can change this field.", *req.SubscriptionTier)
		}
		if req.IsActive != nil && *req.IsActive != o.IsActive {
			v.AddError("is_active", "Only platform admins can change this field.", *req.IsActive)
		}
	}
	req.apply(&o)
	if err := s.validateOrganization(r.Context(), v, "", o); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := v.Err(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateOrganization(r.Context(), &o); err != nil {
		writeServiceError(w, r, err)
		return
	}
	fresh, err := s.store.GetOrganization(r.Context(), o.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, fresh)
}

// emptyPage is the list response for callers whose scope holds nothing.
func emptyPage[T any](r *http.Request) store.Page[T] {
	p := listParams(r)
	page, size := p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = store.DefaultPageSize
	}
	return store.Page[T]{Page: page, PageSize: min(size, store.MaxPageSize), Results: []T{}}
}
