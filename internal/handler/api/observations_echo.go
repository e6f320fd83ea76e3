package api

import (
	"net/http"
	"strconv"

	models "OptionPull/internal/domain/models"
	domrepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/usecase"
	xhttp "OptionPull/pkg/http"
	xlogger "OptionPull/pkg/logger"
	"OptionPull/pkg/util"

	"github.com/labstack/echo/v4"
)

// LoopStatus is the part of the ingestion loop exposed on /healthz. Nil when the
// process serves the API only.
type LoopStatus interface {
	State() usecase.State
	LastReport() *usecase.CycleReport
}

// ObservationsEchoHandler serves the read API over the snapshot store.
type ObservationsEchoHandler struct {
	logger *xlogger.Logger
	svc    *usecase.ObservationService
	loop   LoopStatus
}

func NewObservationsEchoHandler(logger *xlogger.Logger, svc *usecase.ObservationService, loop LoopStatus) *ObservationsEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &ObservationsEchoHandler{logger: logger, svc: svc, loop: loop}
}

func (h *ObservationsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/observations", h.Observations)
	g.GET("/contracts/history", h.History)
	g.GET("/chain/latest", h.Latest)
	e.GET("/healthz", h.Health)
}

func (h *ObservationsEchoHandler) Observations(c echo.Context) error {
	req := &models.ObservationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, appErr := observationsFilter(req)
	if appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	rows, err := h.svc.Query(c.Request().Context(), f)
	if err != nil {
		h.logger.Error("observations query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ObservationsEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	strike, err := strconv.ParseFloat(req.Strike, 64)
	if err != nil || strike <= 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("strike", "strike must be a positive number"))
	}
	expiry, err := util.ParseDate(req.Expiry)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("expiry", err.Error()))
	}
	typ, _ := models.ParseOptionType(req.OptionType)

	rows, err := h.svc.History(c.Request().Context(), domrepo.ObservationFilter{
		Strike:     &strike,
		OptionType: typ,
		Expiry:     &expiry,
		Limit:      req.Limit,
	})
	if err != nil {
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *ObservationsEchoHandler) Latest(c echo.Context) error {
	chain, err := h.svc.LatestChain(c.Request().Context())
	if err != nil {
		h.logger.Error("latest chain failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if len(chain.Rows) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no observations stored for %s", chain.Symbol))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=15")
	return xhttp.SuccessResponse(c, chain)
}

type healthBody struct {
	Store     string               `json:"store"`
	Loop      string               `json:"loop,omitempty"`
	LastCycle *usecase.CycleReport `json:"last_cycle,omitempty"`
}

// Health reports 503 when the store is unreachable. Failing cycles alone do not
// make the process unhealthy; the last report is included for inspection.
func (h *ObservationsEchoHandler) Health(c echo.Context) error {
	body := healthBody{Store: "ok"}
	if h.loop != nil {
		body.Loop = string(h.loop.State())
		body.LastCycle = h.loop.LastReport()
	}
	if err := h.svc.Health(c.Request().Context()); err != nil {
		h.logger.Warn("health: store unreachable", xlogger.Error(err))
		body.Store = "unreachable"
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, body)
	}
	return xhttp.SuccessResponse(c, body)
}

func observationsFilter(req *models.ObservationsRequest) (domrepo.ObservationFilter, *xhttp.AppError) {
	f := domrepo.ObservationFilter{MinVolume: req.MinVolume, Limit: req.Limit}
	if req.Expiry != "" {
		expiry, err := util.ParseDate(req.Expiry)
		if err != nil {
			return f, xhttp.BadRequestError("expiry", err.Error())
		}
		f.Expiry = &expiry
	}
	if req.OptionType != "" {
		typ, err := models.ParseOptionType(req.OptionType)
		if err != nil {
			return f, xhttp.BadRequestError("option_type", err.Error())
		}
		f.OptionType = typ
	}
	if req.StrikeMin > 0 {
		f.StrikeMin = &req.StrikeMin
	}
	if req.StrikeMax > 0 {
		f.StrikeMax = &req.StrikeMax
	}
	if f.StrikeMin != nil && f.StrikeMax != nil && *f.StrikeMin > *f.StrikeMax {
		return f, xhttp.BadRequestError("strike_min", "strike_min must not exceed strike_max")
	}
	var ok bool
	if req.From != "" {
		if f.From, ok = util.ParseTime(req.From); !ok {
			return f, xhttp.BadRequestError("from", "from must be RFC3339 or unix seconds")
		}
	}
	if req.To != "" {
		if f.To, ok = util.ParseTime(req.To); !ok {
			return f, xhttp.BadRequestError("to", "to must be RFC3339 or unix seconds")
		}
	}
	return f, nil
}

var _ xhttp.Handler = (*ObservationsEchoHandler)(nil)
