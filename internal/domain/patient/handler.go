package patient

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/scribe/scribe/internal/apperr"
	"github.com/scribe/scribe/internal/platform/httpapi"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient endpoints on g (typically /api/patients).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/with-stats", h.ListWithStats)
	g.GET("/recent", h.ListRecent)
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

var notFound = httpapi.Messages{apperr.KindPatientNotFound: "Patient not found"}

// createRequest accepts dateOfBirth as an alias of enrollmentDate.
type createRequest struct {
	Name           string `json:"name" validate:"required,max=255"`
	EnrollmentDate string `json:"enrollmentDate" validate:"required,datetime=2006-01-02"`
	DateOfBirth    string `json:"dateOfBirth" validate:"-"`
}

func (r *createRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.EnrollmentDate = strings.TrimSpace(r.EnrollmentDate)
	if r.EnrollmentDate == "" {
		r.EnrollmentDate = strings.TrimSpace(r.DateOfBirth)
	}
}

type updateRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=255"`
	EnrollmentDate *string `json:"enrollmentDate" validate:"omitempty,datetime=2006-01-02"`
	DateOfBirth    *string `json:"dateOfBirth" validate:"-"`
}

// Normalize drops blank fields; only provided, non-empty values update.
func (r *updateRequest) Normalize() {
	if r.EnrollmentDate == nil {
		r.EnrollmentDate = r.DateOfBirth
	}
	r.Name = nonBlank(r.Name)
	r.EnrollmentDate = nonBlank(r.EnrollmentDate)
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return httpapi.Error(err, nil, "Failed to fetch patients")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListWithStats(c echo.Context) error {
	items, err := h.svc.ListWithStats(c.Request().Context())
	if err != nil {
		return httpapi.Error(err, nil, "Failed to fetch patients")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListRecent(c echo.Context) error {
	items, err := h.svc.ListRecent(c.Request().Context())
	if err != nil {
		return httpapi.Error(err, nil, "Failed to fetch recent patients")
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpapi.Error(err, notFound, "Failed to fetch patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpapi.BindAndValidate(c, &req); err != nil {
		return err
	}
	date, err := ParseDate(req.EnrollmentDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: enrollmentDate must be a date in YYYY-MM-DD format")
	}
	p, err := h.svc.Create(c.Request().Context(), CreateInput{Name: req.Name, EnrollmentDate: date})
	if err != nil {
		return httpapi.Error(err, nil, "Failed to create patient")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Update(c echo.Context) error {
	var req updateRequest
	if err := httpapi.BindAndValidate(c, &req); err != nil {
		return err
	}
	ch := Changes{Name: req.Name}
	if req.EnrollmentDate != nil {
		date, err := ParseDate(*req.EnrollmentDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request: enrollmentDate must be a date in YYYY-MM-DD format")
		}
		ch.EnrollmentDate = &date
	}
	p, err := h.svc.Update(c.Request().Context(), c.Param("id"), ch)
	if err != nil {
		return httpapi.Error(err, notFound, "Failed to update patient")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpapi.Error(err, notFound, "Failed to delete patient")
	}
	return c.NoContent(http.StatusNoContent)
}
