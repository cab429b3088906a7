package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yashrajoria/webhook-service/errors"
	"github.com/yashrajoria/webhook-service/repository"
)

type OrderController struct {
	Repo repository.OrderRepository
}

func NewOrderController(repo repository.OrderRepository) *OrderController {
	return &OrderController{Repo: repo}
}

// GetOrderByReference returns the order created for a payment reference.
func (oc *OrderController) GetOrderByReference(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		_ = c.Error(apperrors.Client("payment reference is required", nil))
		return
	}

	order, err := oc.Repo.FindByPaymentReference(c.Request.Context(), reference)
	if errors.Is(err, repository.ErrOrderNotFound) {
		_ = c.Error(apperrors.New(http.StatusNotFound, apperrors.KindClient, "order not found", err))
		return
	}
	if err != nil {
		_ = c.Error(apperrors.Transient("failed to fetch order", err))
		return
	}

	c.JSON(http.StatusOK, order)
}

// Health reports liveness only; it touches no dependency.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
