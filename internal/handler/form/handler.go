package form

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-forms/internal/handler"
	"github.com/jwalitptl/clinic-forms/internal/middleware"
	formService "github.com/jwalitptl/clinic-forms/internal/service/form"
	apperrors "github.com/jwalitptl/clinic-forms/pkg/errors"
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

type Handler struct {
	service formService.FormServicer
}

func NewHandler(service formService.FormServicer) *Handler {
	middleware.RegisterValidators()
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	forms := r.Group("/forms")
	{
		forms.GET("/templates", h.ListTemplates)
		forms.POST("/templates", h.SaveTemplate)
		forms.POST("/templates/publish", h.Publish)
		forms.POST("/templates/unpublish", h.Unpublish)
		forms.POST("/templates/duplicate", h.Duplicate)
		forms.POST("/templates/delete", h.Delete)
		forms.POST("/templates/favorite", h.SetFavorite)
		forms.GET("/templates/export", h.Export)

		forms.GET("/submissions", h.ListSubmissions)
		forms.POST("/submissions", h.CreateSubmission)

		forms.GET("/versions", h.ListVersions)
	}
}

func (h *Handler) ListTemplates(c *gin.Context) {
	var clinicID *uuid.UUID
	if raw := c.Query("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = c.Error(apperrors.BadRequest("invalid clinic_id", err))
			return
		}
		clinicID = &id
	}

	templates, err := h.service.ListTemplates(c.Request.Context(), clinicID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, schema.TemplateList{Templates: templates})
}

func (h *Handler) SaveTemplate(c *gin.Context) {
	var req schema.SaveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	tmpl, err := h.service.SaveTemplate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if req.ID == nil {
		status = http.StatusCreated
	}
	c.JSON(status, tmpl)
}

func (h *Handler) Publish(c *gin.Context) {
	var req schema.TemplateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Publish(c.Request.Context(), req.TemplateID, req.PublishedBy); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.StatusSuccess)
}

func (h *Handler) Unpublish(c *gin.Context) {
	var req schema.TemplateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Unpublish(c.Request.Context(), req.TemplateID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.StatusSuccess)
}

func (h *Handler) Duplicate(c *gin.Context) {
	var req schema.DuplicateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	tmpl, err := h.service.Duplicate(c.Request.Context(), req.TemplateID, req.NewName)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (h *Handler) Delete(c *gin.Context) {
	var req schema.TemplateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), req.TemplateID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.StatusSuccess)
}

func (h *Handler) SetFavorite(c *gin.Context) {
	var req schema.FavoriteTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.service.SetFavorite(c.Request.Context(), req.TemplateID, req.Favorite); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, handler.StatusSuccess)
}

func (h *Handler) Export(c *gin.Context) {
	id, ok := queryID(c, "template_id")
	if !ok {
		return
	}
	exp, filename, err := h.service.Export(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	body, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		_ = c.Error(fmt.Errorf("failed to encode export: %w", err))
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	id, ok := queryID(c, "form_template_id")
	if !ok {
		return
	}
	subs, err := h.service.ListSubmissions(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, schema.SubmissionList{Submissions: subs})
}

func (h *Handler) CreateSubmission(c *gin.Context) {
	var req schema.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	sub, err := h.service.CreateSubmission(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) ListVersions(c *gin.Context) {
	id, ok := queryID(c, "form_template_id")
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, schema.VersionList{Versions: versions})
}

func queryID(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		_ = c.Error(apperrors.BadRequest(name+" is required", nil))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = c.Error(apperrors.BadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}
