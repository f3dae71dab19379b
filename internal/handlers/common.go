package handlers

import (
	"encoding/json"

	"fitcrm/internal/models"
)

// ErrorResponse is the error body shape shared by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse wraps list endpoints.
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// SuccessResponse wraps simple mutations.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// clientDocument converts a client into the generic map form the
// automation engine's templates traverse.
func clientDocument(client *models.Client) models.JSONMap {
	b, err := json.Marshal(client)
	if err != nil {
		return nil
	}
	var doc models.JSONMap
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil
	}
	return doc
}
