// Package shipments_api is the JSON HTTP surface of the shipment service.
// Authentication is terminated upstream; this package only enforces roles.
package shipments_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/export"
	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/services/shipments"
	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/waybill"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	svc      *shipments.Service
	validate *validator.Validate

	rl                 RateLimiter
	trackRatePerMinute int64
}

func New(svc *shipments.Service, rl RateLimiter, trackRatePerMinute int64) *API {
	return &API{
		svc:                svc,
		validate:           validator.New(),
		rl:                 rl,
		trackRatePerMinute: trackRatePerMinute,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(IdentityMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/shipments", a.createShipment)
		r.Get("/shipments", a.listShipments)
		r.Get("/shipments/{id}", a.getShipment)
		r.Patch("/shipments/{id}/progress", a.updateProgress)
		r.Delete("/shipments/{id}", a.deleteShipment)

		r.Get("/track/{trackingNumber}", a.track)

		r.Get("/locations", a.listLocations)
		r.Post("/locations", a.createLocation)
		r.Patch("/locations/{id}", a.setLocationActive)

		r.Get("/admin/stats", a.stats)
		r.Get("/admin/export/deliveries", a.exportDeliveries)
	})
	return r
}

type createShipmentRequest struct {
	TrackingNumber   string  `json:"trackingNumber"`
	SenderName       string  `json:"senderName" validate:"required"`
	SenderContact    string  `json:"senderContact"`
	ReceiverName     string  `json:"receiverName" validate:"required"`
	ReceiverContact  string  `json:"receiverContact"`
	ItemsDescription string  `json:"itemsDescription"`
	Weight           float64 `json:"weight" validate:"required,gt=0"`
	PackageQuantity  int32   `json:"packageQuantity" validate:"gte=0"`
	OriginLocation   string  `json:"originLocation"`
	Destination      string  `json:"destination"`
	ShipmentDate     string  `json:"shipmentDate" validate:"required,datetime=2006-01-02"`
}

func (a *API) createShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		apiError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	shipmentDate, err := time.Parse("2006-01-02", req.ShipmentDate)
	if err != nil {
		apiError(w, http.StatusBadRequest, "shipmentDate must be YYYY-MM-DD")
		return
	}

	in := models.ShipmentCreateInput{
		SenderName:       req.SenderName,
		SenderContact:    req.SenderContact,
		ReceiverName:     req.ReceiverName,
		ReceiverContact:  req.ReceiverContact,
		ItemsDescription: req.ItemsDescription,
		Weight:           req.Weight,
		PackageQuantity:  req.PackageQuantity,
		OriginLocation:   req.OriginLocation,
		Destination:      req.Destination,
		ShipmentDate:     shipmentDate,
		UserID:           id.UserID,
	}
	if req.TrackingNumber != "" {
		asn, err := waybill.Assign(req.TrackingNumber)
		if err != nil {
			a.writeError(w, err)
			return
		}
		in.TrackingNumber = asn
	}

	sh, err := a.svc.Create(r.Context(), in)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentJSON(sh))
}

func (a *API) listShipments(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	q := shipments.ListQuery{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	if id.Role.AtLeast(RoleStaff) {
		// Staff may scope to one owner; regular users always see their own.
		q.UserID = r.URL.Query().Get("userId")
	} else {
		q.UserID = id.UserID
	}

	res, err := a.svc.List(r.Context(), q)
	if err != nil {
		a.writeError(w, err)
		return
	}

	items := make([]shipmentJSON, 0, len(res.Shipments))
	for _, sh := range res.Shipments {
		items = append(items, toShipmentJSON(sh))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Shipments:  items,
		TotalCount: res.TotalCount,
		Page:       res.Page,
		TotalPages: res.TotalPages,
	})
}

func (a *API) getShipment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sh, evs, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	// Owners see their own shipments; anything else reads as absent.
	if !ident.Role.AtLeast(RoleStaff) && sh.UserID != ident.UserID {
		apiError(w, http.StatusNotFound, "shipment not found")
		return
	}

	events := make([]eventJSON, 0, len(evs))
	for _, e := range evs {
		events = append(events, toEventJSON(e))
	}
	writeJSON(w, http.StatusOK, shipmentDetailResponse{
		Shipment: toShipmentJSON(sh),
		Events:   events,
	})
}

type updateProgressRequest struct {
	Step          string `json:"step" validate:"required"`
	Location      string `json:"location"`
	Destination   string `json:"destination"`
	WaybillNumber string `json:"waybillNumber"`

	ReceiverName string   `json:"receiverName"`
	Weight       *float64 `json:"weight" validate:"omitempty,gt=0"`

	PackageImageURL    *string `json:"packageImageUrl"`
	PackageImageBucket *string `json:"packageImageBucket"`
	PackageImagePath   *string `json:"packageImagePath"`
}

func (a *API) updateProgress(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleStaff) {
		apiError(w, http.StatusForbidden, "staff role required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		apiError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	// Shipment record corrections go beyond progress tracking.
	if (req.ReceiverName != "" || req.Weight != nil) && !ident.Role.AtLeast(RoleSuperadmin) {
		apiError(w, http.StatusForbidden, "superadmin role required for record corrections")
		return
	}

	sh, err := a.svc.UpdateProgress(r.Context(), id, shipments.UpdateProgressInput{
		Step:               req.Step,
		Location:           req.Location,
		Destination:        req.Destination,
		WaybillNumber:      req.WaybillNumber,
		ReceiverName:       req.ReceiverName,
		Weight:             req.Weight,
		PackageImageURL:    req.PackageImageURL,
		PackageImageBucket: req.PackageImageBucket,
		PackageImagePath:   req.PackageImagePath,
		ActorID:            ident.UserID,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *API) deleteShipment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleSuperadmin) {
		apiError(w, http.StatusForbidden, "superadmin role required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.svc.Delete(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) track(w http.ResponseWriter, r *http.Request) {
	if a.rl != nil && a.trackRatePerMinute > 0 {
		key := "rl:track:" + clientIP(r)
		allowed, _, err := a.rl.Allow(r.Context(), key, a.trackRatePerMinute, time.Minute)
		if err != nil {
			slog.Warn("track rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			apiError(w, http.StatusTooManyRequests, "too many tracking requests, try again later")
			return
		}
	}

	snap, err := a.svc.Track(r.Context(), chi.URLParam(r, "trackingNumber"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) listLocations(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())
	// Only staff see deactivated locations.
	activeOnly := !ident.Role.AtLeast(RoleStaff) || r.URL.Query().Get("activeOnly") == "true"

	ls, err := a.svc.ListLocations(r.Context(), activeOnly)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]locationJSON, 0, len(ls))
	for _, l := range ls {
		out = append(out, locationJSON{ID: l.ID, Name: l.Name, Active: l.Active, CreatedAt: l.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": out})
}

type createLocationRequest struct {
	Name string `json:"name" validate:"required"`
}

func (a *API) createLocation(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleStaff) {
		apiError(w, http.StatusForbidden, "staff role required")
		return
	}

	var req createLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		apiError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	l, err := a.svc.CreateLocation(r.Context(), req.Name)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, locationJSON{ID: l.ID, Name: l.Name, Active: l.Active, CreatedAt: l.CreatedAt})
}

type setLocationActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (a *API) setLocationActive(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleStaff) {
		apiError(w, http.StatusForbidden, "staff role required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req setLocationActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "malformed json body")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		apiError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := a.svc.SetLocationActive(r.Context(), id, *req.Active); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleStaff) {
		apiError(w, http.StatusForbidden, "staff role required")
		return
	}

	counts, err := a.svc.CountByStatus(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	trend, err := a.svc.CreationTrend(r.Context(), 7)
	if err != nil {
		a.writeError(w, err)
		return
	}

	out := make([]statusCountJSON, 0, len(counts))
	var total int64
	for st, n := range counts {
		out = append(out, statusCountJSON{
			Status: string(st),
			Label:  status.Label(string(st)),
			Style:  status.StyleFor(string(st)),
			Count:  n,
		})
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"byStatus":     out,
		"dailyCreated": trend,
	})
}

func (a *API) exportDeliveries(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r.Context())
	if !ok {
		apiError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !ident.Role.AtLeast(RoleStaff) {
		apiError(w, http.StatusForbidden, "staff role required")
		return
	}

	rows, err := a.svc.ExportDeliveries(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="deliveries.csv"`)
	if err := export.WriteDeliveries(w, rows); err != nil {
		slog.Error("stream deliveries csv", "error", err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		apiError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, waybill.ErrInvalidFormat):
		apiError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shipments.ErrInvalidStep):
		apiError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, shipments.ErrNotFound):
		apiError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err.Error())
		apiError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		switch f.Tag() {
		case "required":
			return f.Field() + " is required"
		case "gt", "gte":
			return f.Field() + " must be positive"
		case "datetime":
			return f.Field() + " must be YYYY-MM-DD"
		}
		return f.Field() + " is invalid"
	}
	return "invalid request"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func apiError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
