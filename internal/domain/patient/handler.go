package patient

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/stats", h.Stats)
	api.GET("/patients/sort", h.SortPatients)
	api.GET("/patients/export", h.ExportPatients)
	api.GET("/patients/city/:city", h.SearchByCity)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	// Raw stored document, kept for older clients.
	api.GET("/view", h.View)

	fhirGroup.GET("/Patient/:id", h.GetPatientFHIR)
}

type listResponse struct {
	City          string     `json:"city,omitempty"`
	TotalPatients int        `json:"total_patients"`
	Patients      []*Patient `json:"patients"`
}

type mutationResponse struct {
	Message string   `json:"message"`
	Patient *Patient `json:"patient"`
}

func (h *Handler) ListPatients(c echo.Context) error {
	patients, err := h.svc.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, listResponse{TotalPatients: len(patients), Patients: patients})
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, mutationResponse{Message: "patient created", Patient: p})
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var u Update
	if err := c.Bind(&u); err != nil {
		return bindError(err)
	}
	p, err := h.svc.Update(c.Request().Context(), c.Param("id"), u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mutationResponse{Message: "patient updated", Patient: p})
}

func (h *Handler) DeletePatient(c echo.Context) error {
	p, err := h.svc.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, mutationResponse{Message: "patient deleted", Patient: p})
}

func (h *Handler) SearchByCity(c echo.Context) error {
	city := c.Param("city")
	patients, err := h.svc.SearchByCity(c.Request().Context(), city)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, listResponse{City: city, TotalPatients: len(patients), Patients: patients})
}

func (h *Handler) SortPatients(c echo.Context) error {
	by, order, err := ParseSort(c.QueryParam("sort_by"), c.QueryParam("order"))
	if err != nil {
		return httpError(err)
	}
	patients, err := h.svc.Sort(c.Request().Context(), by, order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sort_by":  by,
		"order":    order,
		"patients": patients,
	})
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ExportPatients(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), &buf); err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="patients.xlsx"`)
	return c.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}

func (h *Handler) View(c echo.Context) error {
	doc, err := h.svc.Store().Load(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) GetPatientFHIR(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"resourceType": "OperationOutcome",
				"issue": []map[string]string{{
					"severity":    "error",
					"code":        "not-found",
					"diagnostics": "Patient/" + c.Param("id") + " not found",
				}},
			})
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p.ToFHIR())
}

// bindError keeps statuses raised while reading the body, such as 413 from
// the body limit, and reports anything else as a malformed body.
func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code != http.StatusBadRequest {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// httpError maps service error kinds onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusInternalServerError, "error reading patient data").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
