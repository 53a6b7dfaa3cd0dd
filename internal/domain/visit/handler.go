package visit

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/opdcare/opd/internal/platform/auth"
	"github.com/opdcare/opd/pkg/pagination"
)

type Handler struct {
	svc       *Service
	projector *Projector
}

func NewHandler(svc *Service, projector *Projector) *Handler {
	return &Handler{svc: svc, projector: projector}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(RoleAdmin, RoleReceptionist, RoleNurse, RoleDoctor))
	read.GET("/visits/:id", h.GetVisit)
	read.GET("/visits", h.ListVisits)
	read.GET("/visits/:id/blood-investigations", h.GetBloodInvestigations)
	read.GET("/queues/nurse", h.NurseQueue)
	read.GET("/queues/doctor", h.DoctorQueue)

	api.POST("/visits", h.CreateVisit, auth.RequireRole(RoleReceptionist, RoleNurse, RoleDoctor))

	nurse := api.Group("", auth.RequireRole(RoleNurse))
	nurse.POST("/visits/:id/pre-consultation/start", h.StartPreConsultation)
	nurse.PATCH("/visits/:id/pre-consultation", h.UpdatePreConsultation)
	nurse.POST("/visits/:id/pre-consultation/complete", h.CompletePreConsultation)

	doctor := api.Group("", auth.RequireRole(RoleDoctor))
	doctor.POST("/visits/:id/consultation/start", h.StartConsultation)
	doctor.PATCH("/visits/:id/consultation", h.UpdateConsultation)
	doctor.POST("/visits/:id/finalize", h.FinalizeVisit)

	api.POST("/visits/:id/cancel", h.CancelVisit, auth.RequireRole(RoleNurse, RoleDoctor, RoleAdmin))
}

type createVisitRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	HospitalID    uuid.UUID  `json:"hospital_id"`
	VisitDate     *time.Time `json:"visit_date,omitempty"`
	NurseAssisted *bool      `json:"nurse_assisted,omitempty"`
}

func (h *Handler) CreateVisit(c echo.Context) error {
	var req createVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}

	in := CreateVisitInput{
		PatientID:     req.PatientID,
		HospitalID:    req.HospitalID,
		CreatorID:     caller,
		CreatorRole:   role,
		NurseAssisted: true,
	}
	if req.VisitDate != nil {
		in.VisitDate = *req.VisitDate
	}
	if req.NurseAssisted != nil {
		in.NurseAssisted = *req.NurseAssisted
	}

	v, err := h.svc.CreateVisit(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	pg := pagination.FromContext(c)
	visits, total, err := h.svc.ListPatientVisits(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetBloodInvestigations(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	invs, err := h.svc.GetBloodInvestigations(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, invs)
}

func (h *Handler) StartPreConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.StartPreConsultation(c.Request().Context(), id, caller,
		auth.UserNameFromContext(c.Request().Context()), role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdatePreConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p PreConsultationPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.UpdatePreConsultation(c.Request().Context(), id, caller, role, &p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CompletePreConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.CompletePreConsultation(c.Request().Context(), id, caller, role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) StartConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.StartConsultation(c.Request().Context(), id, caller,
		auth.UserNameFromContext(c.Request().Context()), role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateConsultation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p ConsultationPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.UpdateConsultation(c.Request().Context(), id, caller, role, &p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) FinalizeVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.FinalizeVisit(c.Request().Context(), id, caller, role)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelVisit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	caller, role, err := callerIdentity(c)
	if err != nil {
		return err
	}
	v, err := h.svc.CancelVisit(c.Request().Context(), id, caller, role, body.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) NurseQueue(c echo.Context) error {
	hospitalID, err := uuid.Parse(c.QueryParam("hospital_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "hospital_id is required")
	}
	entries, err := h.projector.NurseQueue(c.Request().Context(), hospitalID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) DoctorQueue(c echo.Context) error {
	hospitalID, err := uuid.Parse(c.QueryParam("hospital_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "hospital_id is required")
	}
	entries, err := h.projector.DoctorQueue(c.Request().Context(), hospitalID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// callerIdentity resolves the authenticated caller's id and primary workflow
// role from the request context.
func callerIdentity(c echo.Context) (uuid.UUID, string, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", echo.NewHTTPError(http.StatusUnauthorized, "caller identity missing")
	}
	for _, role := range []string{RoleDoctor, RoleNurse, RoleReceptionist, RoleAdmin} {
		for _, r := range auth.RolesFromContext(ctx) {
			if r == role {
				return id, role, nil
			}
		}
	}
	return uuid.Nil, "", echo.NewHTTPError(http.StatusForbidden, "no workflow role")
}

// mapError converts engine errors into HTTP responses.
func mapError(err error) error {
	var (
		invalid   *InvalidTransitionError
		ownership *OwnershipError
		valid     *ValidationError
		store     *StoreError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case errors.As(err, &ownership):
		return echo.NewHTTPError(http.StatusForbidden, ownership.Error())
	case errors.As(err, &valid):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, valid.Error())
	case errors.As(err, &store):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
