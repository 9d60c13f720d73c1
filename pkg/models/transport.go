package models

// ErrorResponse is the failure body of the analysis service.
// FastAPI-style services put the message in Detail; others use Error.
type ErrorResponse struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Message returns the most specific message present
func (e ErrorResponse) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error
}

// HealthStatus is returned by the service health endpoint
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeleteResponse acknowledges a removed analysis
type DeleteResponse struct {
	Message      string `json:"message"`
	FileID       string `json:"file_id"`
	DeletedFiles int    `json:"deleted_files"`
}
