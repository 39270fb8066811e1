// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/lure/internal/importer"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/validate"
)

func (s *Server) routesTargets(r chi.Router) {
	r.Get("/", s.handleListTargets)
	r.Post("/", s.handleCreateTarget)
	r.Post("/bulk-create", s.handleBulkCreateTargets)
	r.Get("/statistics", s.handleTargetStatistics)
	r.Get("/imports", s.handleListImports)

	r.Get("/groups", s.handleListGroups)
	r.Post("/groups", s.handleCreateGroup)
	r.Get("/groups/{id}", s.handleGetGroup)
	r.Put("/groups/{id}", s.handleUpdateGroup)
	r.Patch("/groups/{id}", s.handleUpdateGroup)
	r.Delete("/groups/{id}", s.handleDeleteGroup)

	r.Get("/tags", s.handleListTags)
	r.Post("/tags", s.handleCreateTag)
	r.Get("/tags/{id}", s.handleGetTag)
	r.Put("/tags/{id}", s.handleUpdateTag)
	r.Patch("/tags/{id}", s.handleUpdateTag)
	r.Delete("/tags/{id}", s.handleDeleteTag)

	r.Get("/{id}", s.handleGetTarget)
	r.Put("/{id}", s.handleUpdateTarget)
	r.Patch("/{id}", s.handleUpdateTarget)
	r.Delete("/{id}", s.handleDeleteTarget)
}

// Targets

type targetRequest struct {
	Email      *string   `json:"email"`
	FirstName  *string   `json:"first_name"`
	LastName   *string   `json:"last_name"`
	Department *string   `json:"department"`
	JobTitle   *string   `json:"job_title"`
	Phone      *string   `json:"phone"`
	RiskLevel  *string   `json:"risk_level"`
	IsActive   *bool     `json:"is_active"`
	TagIDs     *[]string `json:"tag_ids"`
}

func (req *targetRequest) apply(t *model.Target) {
	setString(&t.Email, req.Email)
	setString(&t.FirstName, req.FirstName)
	setString(&t.LastName, req.LastName)
	setString(&t.Department, req.Department)
	setString(&t.JobTitle, req.JobTitle)
	setString(&t.Phone, req.Phone)
	setString(&t.RiskLevel, req.RiskLevel)
	setBool(&t.IsActive, req.IsActive)
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	t.FirstName = strings.TrimSpace(t.FirstName)
	t.LastName = strings.TrimSpace(t.LastName)
	t.Department = strings.TrimSpace(t.Department)
	t.JobTitle = strings.TrimSpace(t.JobTitle)
}

// validateTarget checks t and its tag ids against orgID.
func (s *Server) validateTarget(ctx context.Context, orgID string, t model.Target, tagIDs []string) error {
	v := validate.New()
	if v.Required("email", t.Email) {
		v.Email("email", t.Email)
		exists, err := s.store.TargetEmailExists(ctx, orgID, t.Email, t.ID)
		if err != nil {
			return err
		}
		if exists {
			v.AddError("email", "A target with this email already exists in your organization.", t.Email)
		}
	}
	for field, value := range map[string]string{
		"first_name": t.FirstName, "last_name": t.LastName, "department": t.Department, "job_title": t.JobTitle,
	} {
		if v.Required(field, value) {
			v.MaxLen(field, value, 100)
		}
	}
	v.MaxLen("phone", t.Phone, 15)
	v.OneOf("risk_level", t.RiskLevel, model.Levels)
	missing, err := s.store.ForeignIDs(ctx, "target_tags", orgID, tagIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("tag_ids", invalidIDs("tag", missing), missing)
	}
	return v.Err()
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListTargets(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx, orgID := r.Context(), principal(r).OrgID()
	t := model.Target{OrganizationID: orgID, RiskLevel: model.LevelMedium, IsActive: true}
	req.apply(&t)
	var tagIDs []string
	if req.TagIDs != nil {
		tagIDs = *req.TagIDs
	}
	if err := s.validateTarget(ctx, orgID, t, tagIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if s.billing != nil {
		if err := s.billing.CheckTargets(ctx, orgID, 1); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	if err := s.store.CreateTarget(ctx, &t, tagIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondTarget(w, r, http.StatusCreated, t.ID)
}

func (s *Server) respondTarget(w http.ResponseWriter, r *http.Request, code int, id string) {
	t, err := s.store.GetTarget(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, t)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	s.respondTarget(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	t, err := s.store.GetTarget(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req targetRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.apply(&t)
	var tagIDs []string
	if req.TagIDs != nil {
		tagIDs = *req.TagIDs
		if tagIDs == nil {
			tagIDs = []string{}
		}
	}
	if err := s.validateTarget(ctx, orgID, t, tagIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateTarget(ctx, &t, tagIDs); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondTarget(w, r, http.StatusOK, t.ID)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTarget(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /targets/bulk-create accepts a multipart file or {"targets": [...]}.
func (s *Server) handleBulkCreateTargets(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.API.MaxUploadBytes
	if limit <= 0 {
		limit = importer.MaxBytes
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		rows     []importer.Row
		fileName string
		err      error
	)
	switch mt {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
		if err = r.ParseMultipartForm(32 << 20); err != nil {
			if _, ok := err.(*http.MaxBytesError); !ok {
				err = badRequest("Invalid multipart upload")
			}
			break
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			err = fieldErrors{"file": {"No file was submitted."}}
			break
		}
		defer func() { _ = file.Close() }()
		if header.Size > limit {
			err = importer.ErrTooLarge
			break
		}
		fileName = header.Filename
		rows, err = importer.ParseFile(header.Filename, file)
	case "application/json", "":
		var body struct {
			Targets []map[string]any `json:"targets"`
		}
		if err = decodeLimit(w, r, &body, limit); err != nil {
			break
		}
		fileName = "api.json"
		rows, err = importer.ParseJSON(body.Targets)
	default:
		err = ErrUnsupportedMedia
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	p := principal(r)
	res, err := s.importer.Run(r.Context(), p.OrgID(), p.UserID(), fileName, rows)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, res)
}

func (s *Server) handleTargetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TargetStatistics(r.Context(), principal(r).OrgID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, stats)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListImports(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

// Groups

type groupRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	TargetIDs   *[]string `json:"target_ids"`
}

func (s *Server) validateGroup(ctx context.Context, orgID string, g model.TargetGroup, targetIDs []string) error {
	v := validate.New()
	if v.Required("name", g.Name) {
		v.MaxLen("name", g.Name, 100)
		exists, err := s.store.GroupNameExists(ctx, orgID, g.Name, g.ID)
		if err != nil {
			return err
		}
		if exists {
			v.AddError("name", "A group with this name already exists.", g.Name)
		}
	}
	missing, err := s.store.ForeignIDs(ctx, "targets", orgID, targetIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		v.AddError("target_ids", invalidIDs("target", missing), missing)
	}
	return v.Err()
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListGroups(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := principal(r)
	g := model.TargetGroup{OrganizationID: p.OrgID(), CreatedBy: p.UserID()}
	setString(&g.Name, req.Name)
	setString(&g.Description, req.Description)
	g.Name = strings.TrimSpace(g.Name)
	var ids []string
	if req.TargetIDs != nil {
		ids = *req.TargetIDs
	}
	if err := s.validateGroup(r.Context(), p.OrgID(), g, ids); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.CreateGroup(r.Context(), &g, ids); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondGroup(w, r, http.StatusCreated, g.ID)
}

func (s *Server) respondGroup(w http.ResponseWriter, r *http.Request, code int, id string) {
	g, err := s.store.GetGroup(r.Context(), principal(r).OrgID(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, code, g)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	s.respondGroup(w, r, http.StatusOK, pathID(r))
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	g, err := s.store.GetGroup(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req groupRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	setString(&g.Name, req.Name)
	setString(&g.Description, req.Description)
	g.Name = strings.TrimSpace(g.Name)
	var ids []string
	if req.TargetIDs != nil {
		ids = append([]string{}, *req.TargetIDs...)
	}
	if err := s.validateGroup(ctx, orgID, g, ids); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateGroup(ctx, &g, ids); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.respondGroup(w, r, http.StatusOK, g.ID)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteGroup(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tags

type tagRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

func (s *Server) validateTag(ctx context.Context, orgID string, t model.TargetTag) error {
	v := validate.New()
	if v.Required("name", t.Name) {
		v.MaxLen("name", t.Name, 50)
		exists, err := s.store.TagNameExists(ctx, orgID, t.Name, t.ID)
		if err != nil {
			return err
		}
		if exists {
			v.AddError("name", "A tag with this name already exists.", t.Name)
		}
	}
	v.HexColor("color", t.Color)
	return v.Err()
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.ListTags(r.Context(), principal(r).OrgID(), listParams(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, page)
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	orgID := principal(r).OrgID()
	t := model.TargetTag{OrganizationID: orgID, Color: model.DefaultTagColor}
	setString(&t.Name, req.Name)
	setString(&t.Color, req.Color)
	t.Name = strings.TrimSpace(t.Name)
	if err := s.validateTag(r.Context(), orgID, t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.CreateTag(r.Context(), &t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, t)
}

func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTag(r.Context(), principal(r).OrgID(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTag(w http.ResponseWriter, r *http.Request) {
	ctx, orgID := r.Context(), principal(r).OrgID()
	t, err := s.store.GetTag(ctx, orgID, pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req tagRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	setString(&t.Name, req.Name)
	setString(&t.Color, req.Color)
	t.Name = strings.TrimSpace(t.Name)
	if err := s.validateTag(ctx, orgID, t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.store.UpdateTag(ctx, &t); err != nil {
		writeServiceError(w, r, err)
		return
	}
	fresh, err := s.store.GetTag(ctx, orgID, t.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond(w, http.StatusOK, fresh)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTag(r.Context(), principal(r).OrgID(), pathID(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
