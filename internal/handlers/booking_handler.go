package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/settlement-backend/internal/middleware"
	"github.com/tripmarket/settlement-backend/internal/models"
	"github.com/tripmarket/settlement-backend/internal/services"
	"github.com/tripmarket/settlement-backend/internal/utils"
)

// BookingAPI is the part of the booking service the HTTP layer uses
type BookingAPI interface {
	CreateHotelBooking(ctx context.Context, rc services.RequestContext, req *models.HotelBookingRequest) (*models.CreateBookingResponse, error)
	CreateCarBooking(ctx context.Context, rc services.RequestContext, req *models.CarBookingRequest) (*models.CreateBookingResponse, error)
	CreateTourBooking(ctx context.Context, rc services.RequestContext, req *models.TourBookingRequest) (*models.CreateBookingResponse, error)
	CreateTransferBooking(ctx context.Context, rc services.RequestContext, req *models.TransferBookingRequest) (*models.CreateBookingResponse, error)
	GetBooking(ctx context.Context, id, userID uuid.UUID) (*models.Booking, error)
	ListUserBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error)
}

// BookingHandler handles booking creation and reads for all verticals
type BookingHandler struct {
	bookings BookingAPI
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// RegisterRoutes mounts the booking routes on an authenticated group
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/hotel", h.CreateHotelBooking)
	rg.POST("/car", h.CreateCarBooking)
	rg.POST("/tour", h.CreateTourBooking)
	rg.POST("/transfer", h.CreateTransferBooking)
	rg.GET("", h.ListMyBookings)
	rg.GET("/:id", h.GetBooking)
}

func requestContext(c *gin.Context, user middleware.UserContext) services.RequestContext {
	return services.RequestContext{
		UserID:       user.UserID,
		ClientDevice: utils.ClientDevice(utils.GetUserAgent(c)),
	}
}

// createBooking binds the vertical request and runs create. The four
// endpoints differ only in the request type.
func createBooking[R any](h *BookingHandler, c *gin.Context, create func(context.Context, services.RequestContext, *R) (*models.CreateBookingResponse, error)) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Unauthorized", Code: "MISSING_USER_CONTEXT"})
		return
	}

	req := new(R)
	if err := c.ShouldBindJSON(req); err != nil {
		if verr := bindingError(err); verr != nil {
			respondError(c, h.logger, verr)
			return
		}
		badRequest(c, "Invalid request body", nil)
		return
	}

	resp, err := create(c.Request.Context(), requestContext(c, userCtx), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// CreateHotelBooking books a room for a stay
// @Summary Create a hotel booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param request body models.HotelBookingRequest true "Stay request"
// @Success 201 {object} models.CreateBookingResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Room already booked"
// @Failure 502 {object} ErrorResponse "Payment provider unavailable"
// @Security BearerAuth
// @Router /api/v1/bookings/hotel [post]
func (h *BookingHandler) CreateHotelBooking(c *gin.Context) {
	createBooking(h, c, h.bookings.CreateHotelBooking)
}

// CreateCarBooking books a rental vehicle
// @Router /api/v1/bookings/car [post]
func (h *BookingHandler) CreateCarBooking(c *gin.Context) {
	createBooking(h, c, h.bookings.CreateCarBooking)
}

// CreateTourBooking books a tour departure
// @Router /api/v1/bookings/tour [post]
func (h *BookingHandler) CreateTourBooking(c *gin.Context) {
	createBooking(h, c, h.bookings.CreateTourBooking)
}

// CreateTransferBooking books a point-to-point transfer
// @Router /api/v1/bookings/transfer [post]
func (h *BookingHandler) CreateTransferBooking(c *gin.Context) {
	createBooking(h, c, h.bookings.CreateTransferBooking)
}

// GetBooking returns one of the caller's bookings
// @Router /api/v1/bookings/{id} [get]
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid booking ID", nil)
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), id, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListMyBookings returns the caller's bookings, newest first
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Router /api/v1/bookings [get]
func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, err := h.bookings.ListUserBookings(c.Request.Context(), userCtx.UserID, limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"limit":    limit,
		"offset":   offset,
	})
}
