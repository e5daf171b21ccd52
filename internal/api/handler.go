package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kosumphisai/koshare/backend/internal/auth"
	"github.com/kosumphisai/koshare/backend/internal/checkin"
	appctx "github.com/kosumphisai/koshare/backend/internal/context"
	"github.com/kosumphisai/koshare/backend/internal/logger"
	"github.com/kosumphisai/koshare/backend/internal/metrics"
	"github.com/kosumphisai/koshare/backend/internal/middleware"
)

// Action names
const (
	ActionLogin           = "login"
	ActionVerifyToken     = "verifyToken"
	ActionLogout          = "logout"
	ActionGetCheckIns     = "getCheckIns"
	ActionGetThumbnail    = "getThumbnail"
	ActionGetStats        = "getStats"
	ActionIncrementVisit  = "incrementVisit"
	ActionSaveCheckIn     = "saveCheckIn"
	ActionSaveWithImage   = "saveWithImage"
	ActionAttachThumbnail = "attachThumbnail"
	ActionDeleteCheckIn   = "deleteCheckIn"
	ActionSetPin          = "setPin"
	ActionChangePin       = "changePin"
)

// Authority is the session authority used by the handler
type Authority interface {
	Login(ctx context.Context, pin string) (*auth.LoginResult, error)
	Verify(ctx context.Context, token string) bool
	Logout(ctx context.Context, token string) error
	SetCredentialAsAdmin(ctx context.Context, adminSecret, pin string) error
	ChangeCredential(ctx context.Context, newPin, token string) error
}

// CheckInService is the record store used by the handler
type CheckInService interface {
	Append(ctx context.Context, in checkin.NewCheckIn) (*checkin.SaveResult, error)
	AppendWithThumbnail(ctx context.Context, in checkin.NewCheckIn, thumbnail string) (*checkin.SaveResult, error)
	AttachThumbnail(ctx context.Context, id, thumbnail string) (*checkin.AttachResult, error)
	List(ctx context.Context, page, limit int) (*checkin.Page, error)
	Delete(ctx context.Context, id string) (*checkin.DeleteResult, error)
	GetThumbnail(ctx context.Context, id string) (string, error)
	Stats(ctx context.Context) (*checkin.Stats, error)
	IncrementVisit(ctx context.Context) (int64, error)
}

type actionFunc func(r *http.Request, p appctx.Params) (any, error)

type action struct {
	run       actionFunc
	protected bool
}

// Handler dispatches the `action` parameter to the matching operation.
// Parameters must already be merged by middleware.Params.
type Handler struct {
	authority Authority
	checkins  CheckInService
	authMW    *middleware.AuthMiddleware
	actions   map[string]action
	logger    *slog.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(authority Authority, checkins CheckInService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		authority: authority,
		checkins:  checkins,
		authMW:    middleware.NewAuthMiddleware(authority),
		logger:    log,
	}

	h.actions = map[string]action{
		ActionLogin:           {run: h.login},
		ActionVerifyToken:     {run: h.verifyToken},
		ActionLogout:          {run: h.logout, protected: true},
		ActionGetCheckIns:     {run: h.getCheckIns},
		ActionGetThumbnail:    {run: h.getThumbnail},
		ActionGetStats:        {run: h.getStats},
		ActionIncrementVisit:  {run: h.incrementVisit},
		ActionSaveCheckIn:     {run: h.saveCheckIn, protected: true},
		ActionSaveWithImage:   {run: h.saveWithImage, protected: true},
		ActionAttachThumbnail: {run: h.attachThumbnail, protected: true},
		ActionDeleteCheckIn:   {run: h.deleteCheckIn, protected: true},
		ActionSetPin:          {run: h.setPin},
		ActionChangePin:       {run: h.changePin, protected: true},
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := appctx.ExtractRequestInfo(r.Context())
	if info == nil {
		info = &appctx.RequestInfo{}
		r = r.WithContext(appctx.WithRequestInfo(r.Context(), info))
	}

	params := appctx.ExtractParams(r.Context())
	name := params.Get("action")
	info.Action = name

	a, ok := h.actions[name]
	if !ok {
		writeResult(w, r, Err(CodeUnknownAction, "Unknown action"))
		metrics.RecordAction("unknown", CodeUnknownAction)
		return
	}

	var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := a.run(r, params)
		if err != nil {
			result := errorResult(err)
			if result.Code == CodeInternalError {
				logger.WithCorrelationID(r.Context(), h.logger).Error("Action failed",
					"action", name,
					"error", err)
			}
			writeResult(w, r, result)
			return
		}
		writeResult(w, r, Ok(data))
	})
	if a.protected {
		next = h.authMW.Authenticate(next)
	}

	next.ServeHTTP(w, r)
	metrics.RecordAction(name, info.Code)
}

func (h *Handler) login(r *http.Request, p appctx.Params) (any, error) {
	result, err := h.authority.Login(r.Context(), p.Raw("pin"))
	switch {
	case err == nil:
		metrics.RecordLogin("success")
	case errors.Is(err, auth.ErrWrongCredential):
		metrics.RecordLogin("wrong_pin")
	case errors.Is(err, auth.ErrRateLimited):
		metrics.RecordLogin("rate_limited")
	default:
		metrics.RecordLogin("error")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *Handler) verifyToken(r *http.Request, _ appctx.Params) (any, error) {
	token := middleware.TokenFromRequest(r)
	return map[string]bool{"valid": token != "" && h.authority.Verify(r.Context(), token)}, nil
}

func (h *Handler) logout(r *http.Request, _ appctx.Params) (any, error) {
	token, _ := appctx.ExtractToken(r.Context())
	if err := h.authority.Logout(r.Context(), token); err != nil {
		return nil, err
	}
	return map[string]bool{"loggedOut": true}, nil
}

func (h *Handler) getCheckIns(r *http.Request, p appctx.Params) (any, error) {
	return h.checkins.List(r.Context(), p.Int("page", checkin.DefaultPage), p.Int("limit", checkin.DefaultLimit))
}

func (h *Handler) getThumbnail(r *http.Request, p appctx.Params) (any, error) {
	id := p.Get("id")
	thumbnail, err := h.checkins.GetThumbnail(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id, "thumbnail": thumbnail}, nil
}

func (h *Handler) getStats(r *http.Request, _ appctx.Params) (any, error) {
	return h.checkins.Stats(r.Context())
}

func (h *Handler) incrementVisit(r *http.Request, _ appctx.Params) (any, error) {
	n, err := h.checkins.IncrementVisit(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"visitCount": n}, nil
}

func (h *Handler) saveCheckIn(r *http.Request, p appctx.Params) (any, error) {
	in, err := parseCheckIn(p)
	if err != nil {
		return nil, err
	}
	return h.checkins.Append(r.Context(), in)
}

func (h *Handler) saveWithImage(r *http.Request, p appctx.Params) (any, error) {
	in, err := parseCheckIn(p)
	if err != nil {
		return nil, err
	}
	return h.checkins.AppendWithThumbnail(r.Context(), in, thumbnailParam(p))
}

func (h *Handler) attachThumbnail(r *http.Request, p appctx.Params) (any, error) {
	return h.checkins.AttachThumbnail(r.Context(), p.Get("id"), thumbnailParam(p))
}

func (h *Handler) deleteCheckIn(r *http.Request, p appctx.Params) (any, error) {
	result, err := h.checkins.Delete(r.Context(), p.Get("id"))
	if err != nil {
		return nil, err
	}
	if !result.Deleted {
		return nil, checkin.ErrNotFound
	}
	return result, nil
}

func (h *Handler) setPin(r *http.Request, p appctx.Params) (any, error) {
	if err := h.authority.SetCredentialAsAdmin(r.Context(), p.Raw("adminSecret"), p.Raw("pin")); err != nil {
		return nil, err
	}
	return map[string]bool{"pinSet": true}, nil
}

func (h *Handler) changePin(r *http.Request, p appctx.Params) (any, error) {
	token, _ := appctx.ExtractToken(r.Context())
	newPin := p.Raw("newPin")
	if newPin == "" {
		newPin = p.Raw("pin")
	}
	if err := h.authority.ChangeCredential(r.Context(), newPin, token); err != nil {
		return nil, err
	}
	return map[string]bool{"pinChanged": true}, nil
}

// parseCheckIn reads the record fields. Coordinates must be present and
// numeric; range checks happen in the service.
func parseCheckIn(p appctx.Params) (checkin.NewCheckIn, error) {
	in := checkin.NewCheckIn{
		LocationName: p.Raw("locationName"),
		Description:  p.Raw("description"),
		Category:     p.Raw("category"),
	}

	var fields []checkin.FieldError
	lat, ok := p.Float("latitude")
	if !ok {
		fields = append(fields, checkin.FieldError{Field: "latitude", Message: "must be a number"})
	}
	lng, ok := p.Float("longitude")
	if !ok {
		fields = append(fields, checkin.FieldError{Field: "longitude", Message: "must be a number"})
	}
	if len(fields) > 0 {
		return in, &checkin.ValidationError{Fields: fields}
	}

	in.Latitude = lat
	in.Longitude = lng
	return in, nil
}

// thumbnailParam accepts `thumbnail` or the older `image` name
func thumbnailParam(p appctx.Params) string {
	if t := p.Get("thumbnail"); t != "" {
		return t
	}
	return p.Get("image")
}
