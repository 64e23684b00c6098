package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"pricemesh/internal/gossip"
	"pricemesh/internal/store"
	xhttp "pricemesh/pkg/http"
	xlogger "pricemesh/pkg/logger"
)

// StatusHandler exposes node status and read/write access to the price
// cache for operators.
type StatusHandler struct {
	logger *xlogger.Logger
	mgr    *gossip.Manager
	store  *store.SeqlockStore
}

func NewStatusHandler(logger *xlogger.Logger, mgr *gossip.Manager, s *store.SeqlockStore) *StatusHandler {
	return &StatusHandler{logger: logger, mgr: mgr, store: s}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/v1")
	g.GET("/status", h.Status)
	g.GET("/price/:key", h.Price)
	g.POST("/price", h.SetPrice)
}

func (h *StatusHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatusHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.mgr.Status())
}

type priceResponse struct {
	Key       string `json:"key"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
	Version   uint64 `json:"version"`
}

func (h *StatusHandler) Price(c echo.Context) error {
	key := c.Param("key")
	e, err := h.store.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return xhttp.NotFoundResponse(c, key)
		}
		h.logger.Error("price read failed", xlogger.String("key", key), xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, priceResponse{
		Key:       e.Key,
		Price:     store.FormatPrice(e.Price),
		Timestamp: e.Timestamp,
		Version:   e.Version,
	})
}

type setPriceRequest struct {
	Key       string `json:"key"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (h *StatusHandler) SetPrice(c echo.Context) error {
	req := &setPriceRequest{}
	if err := c.Bind(req); err != nil {
		return xhttp.BadRequestResponse(c, "invalid request body")
	}
	if req.Key == "" || req.Price == "" {
		return xhttp.BadRequestResponse(c, "key and price are required")
	}

	price, err := store.ParsePrice(req.Price)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	if err := h.mgr.Set(req.Key, price, req.Timestamp); err != nil {
		switch {
		case errors.Is(err, store.ErrStaleWrite), errors.Is(err, store.ErrNonFinite):
			return xhttp.BadRequestResponse(c, err.Error())
		case errors.Is(err, store.ErrCapacityExceeded):
			return xhttp.DataResponse(c, http.StatusInsufficientStorage, err.Error())
		default:
			h.logger.Error("price write failed", xlogger.String("key", req.Key), xlogger.Error(err))
			return xhttp.InternalServerErrorResponse(c)
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"key": req.Key})
}
