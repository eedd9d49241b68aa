package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// requestIDKey is where the logging middleware stores the request id.
const requestIDKey = "request_id"

// Response is the envelope every API call answers with. Code is 0 on success
// and mirrors the HTTP status on failure.
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Reason    string      `json:"reason,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// AppError is a failure that knows how it should be rendered.
type AppError struct {
	HTTPStatus int
	Code       int
	Reason     string // stable machine-readable reason, e.g. "project_full"
	Message    string
	Data       interface{}
}

func (e *AppError) Error() string {
	return e.Message
}

// WithReason sets the machine-readable reason and returns the error.
func (e *AppError) WithReason(reason string) *AppError {
	e.Reason = reason
	return e
}

// WithData attaches client-facing details and returns the error.
func (e *AppError) WithData(data interface{}) *AppError {
	e.Data = data
	return e
}

func newAppError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError   { return newAppError(http.StatusBadRequest, msg) }
func NewUnauthorized(msg string) *AppError { return newAppError(http.StatusUnauthorized, msg) }
func NewForbidden(msg string) *AppError    { return newAppError(http.StatusForbidden, msg) }
func NewNotFound(msg string) *AppError     { return newAppError(http.StatusNotFound, msg) }
func NewConflict(msg string) *AppError     { return newAppError(http.StatusConflict, msg) }
func NewServerError(msg string) *AppError  { return newAppError(http.StatusInternalServerError, msg) }

// Success sends 200 with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// Created sends 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// Page is the data shape of paginated list endpoints.
type Page struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// Paged sends 200 with a Page.
func Paged(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, Page{Total: total, Page: page, PageSize: pageSize, Items: items})
}

// Error renders err. Anything that is not an *AppError becomes a bare 500 so
// internal messages never reach the client.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewServerError("internal server error")
	}
	c.JSON(appErr.HTTPStatus, Response{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Reason:    appErr.Reason,
		Data:      appErr.Data,
		RequestID: c.GetString(requestIDKey),
	})
}

func BadRequest(c *gin.Context, msg string)   { Error(c, NewBadRequest(msg)) }
func Unauthorized(c *gin.Context, msg string) { Error(c, NewUnauthorized(msg)) }
func Forbidden(c *gin.Context, msg string)    { Error(c, NewForbidden(msg)) }
func NotFound(c *gin.Context, msg string)     { Error(c, NewNotFound(msg)) }
func Conflict(c *gin.Context, msg string)     { Error(c, NewConflict(msg)) }
func ServerError(c *gin.Context, msg string)  { Error(c, NewServerError(msg)) }
