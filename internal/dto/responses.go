package dto

// ErrorResponse represents an error returned to the client
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse represents a generic success payload
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ListResponse wraps a page of items with pagination info
type ListResponse struct {
	Items  any `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewListResponse creates a ListResponse from components
func NewListResponse(items any, limit, offset int) *ListResponse {
	return &ListResponse{Items: items, Limit: limit, Offset: offset}
}
