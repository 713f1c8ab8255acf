package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"stock_reservation/internal/config"
	"stock_reservation/internal/engine"
	"stock_reservation/internal/ledger"
	"stock_reservation/internal/middleware"
	"stock_reservation/internal/model"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service 是路由层依赖的引擎能力。
type Service interface {
	CreateProduct(ctx context.Context, spec ledger.ProductSpec) (*model.Product, error)
	Status(ctx context.Context, productID uint) (engine.Status, error)
	Reserve(ctx context.Context, productID uint, userID string, quantity int64) (bool, error)
	Cancel(ctx context.Context, productID uint, userID string) (bool, error)
	CheckoutOrder(ctx context.Context, productID uint, userID string) (*model.Order, error)
}

// Setup 注册全部 HTTP 路由，/api 下统一限流。
func Setup(r *gin.Engine, svc Service, rdb *rd.Client, cfg config.AppConfig, log *zap.Logger) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/api", middleware.RedisRateLimit(rdb, cfg.RateLimitMax, cfg.RateLimitWindow, log))
	api.POST("/products", createProduct(svc, log))
	api.GET("/products/:productId/status", getStatus(svc, log))
	api.POST("/products/:productId/reserve", reserve(svc, log))
	api.DELETE("/products/:productId/reserve", cancelReservation(svc, log))
	api.POST("/products/:productId/checkout", checkout(svc, log))
}

type userRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// createProduct 创建商品。
func createProduct(svc Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name        string           `json:"name" binding:"required"`
			Description string           `json:"description" binding:"required"`
			Price       *decimal.Decimal `json:"price" binding:"required"`
			TotalStock  *int64           `json:"totalStock" binding:"required,min=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Description) == "" {
			badRequest(c, "name and description must not be blank")
			return
		}
		if req.Price.IsNegative() {
			badRequest(c, "price must be >= 0")
			return
		}

		p, err := svc.CreateProduct(c.Request.Context(), ledger.ProductSpec{
			Name:        req.Name,
			Description: req.Description,
			Price:       *req.Price,
			TotalStock:  *req.TotalStock,
		})
		if err != nil {
			writeError(c, log, "create product", err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

// getStatus 查询总库存、占位量与可用量。
func getStatus(svc Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		st, err := svc.Status(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, "get status", err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// reserve 为用户占位。
func reserve(svc Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		var req struct {
			UserID   string `json:"userId" binding:"required"`
			Quantity int64  `json:"quantity" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		reserved, err := svc.Reserve(c.Request.Context(), id, req.UserID, req.Quantity)
		if err != nil {
			writeError(c, log, "reserve", err)
			return
		}
		if !reserved {
			badRequest(c, "Not enough stock available")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Product reserved successfully"})
	}
}

// cancelReservation 取消用户占位。
func cancelReservation(svc Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		removed, err := svc.Cancel(c.Request.Context(), id, req.UserID)
		if err != nil {
			writeError(c, log, "cancel reservation", err)
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, gin.H{"message": "Reservation not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Reservation cancelled successfully"})
	}
}

// checkout 结算用户占位。
func checkout(svc Service, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := productIDParam(c)
		if !ok {
			return
		}
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		order, err := svc.CheckoutOrder(c.Request.Context(), id, req.UserID)
		if err != nil {
			writeError(c, log, "checkout", err)
			return
		}
		if order == nil {
			badRequest(c, "Checkout failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Checkout completed successfully",
			"order":   order,
		})
	}
}

func productIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("productId"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid productId")
		return 0, false
	}
	return uint(id), true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}

// writeError 将引擎错误映射为 HTTP 状态码。
func writeError(c *gin.Context, log *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		badRequest(c, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Product not found"})
	default:
		log.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}
