package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agromind-map/internal/domain/model"
	"agromind-map/internal/usecase"
)

// FarmMapHandler ファームと地図のHTTPハンドラー
type FarmMapHandler struct {
	farmMapUseCase usecase.FarmMapUseCase
}

// NewFarmMapHandler FarmMapHandlerの新しいインスタンスを作成
func NewFarmMapHandler(farmMapUseCase usecase.FarmMapUseCase) *FarmMapHandler {
	return &FarmMapHandler{
		farmMapUseCase: farmMapUseCase,
	}
}

// ListFarms GET /api/farms - ファーム一覧
func (h *FarmMapHandler) ListFarms(c *gin.Context) {
	farms, err := h.farmMapUseCase.ListFarms(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, farms)
}

// CreateFarm POST /api/farms - ファームの作成
func (h *FarmMapHandler) CreateFarm(c *gin.Context) {
	var req model.CreateFarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON format: " + err.Error(),
		})
		return
	}

	farm, err := h.farmMapUseCase.CreateFarm(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, farm)
}

// GetMap GET /api/farms/:id/map - 地図の取得
func (h *FarmMapHandler) GetMap(c *gin.Context) {
	farmID := c.Param("id")
	if farmID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_parameter",
			"message": "Farm ID is required",
		})
		return
	}

	m, err := h.farmMapUseCase.GetMap(c.Request.Context(), farmID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// SaveMap PUT /api/farms/:id/map - 地図の全置換
func (h *FarmMapHandler) SaveMap(c *gin.Context) {
	farmID := c.Param("id")
	if farmID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_parameter",
			"message": "Farm ID is required",
		})
		return
	}

	var req model.SaveMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid JSON format: " + err.Error(),
		})
		return
	}

	m, err := h.farmMapUseCase.SaveMap(c.Request.Context(), farmID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// respondError ドメインエラーをステータスコードに対応づける
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrFarmNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, model.ErrInvalidMapPayload):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
