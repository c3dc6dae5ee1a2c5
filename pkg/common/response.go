package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Meta carries pagination/summary metadata alongside a successful payload.
type Meta struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"perPage,omitempty"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"totalPages,omitempty"`
}

// SuccessResponse writes a 200 with the given payload under "data".
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// SuccessResponseWithStatus writes the payload with a caller-chosen status
// code (e.g. 202 Accepted for an enqueued dispatch).
func SuccessResponseWithStatus(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

// CreatedResponse writes a 201 with the given payload.
func CreatedResponse(c *gin.Context, data interface{}) {
	SuccessResponseWithStatus(c, http.StatusCreated, data)
}

// SuccessResponseWithMeta writes a 200 with both payload and Meta, for
// list endpoints.
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta Meta) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
		"meta":    meta,
	})
}
