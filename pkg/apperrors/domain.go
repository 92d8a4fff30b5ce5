package apperrors

import (
	"net/http"
)

// ErrNotFound wraps a repository miss.
func ErrNotFound(err error) *AppError {
	return Wrap(err, CodeNotFound, "resource", "Resource not found", http.StatusNotFound)
}

// ErrConflict is returned when a unique-key race could not be recovered.
func ErrConflict(err error, domain, message string) *AppError {
	return Wrap(err, CodeConflict, domain, message, http.StatusConflict)
}

// ErrInvalidOperation is a 400 for requests that are well-formed but not allowed.
func ErrInvalidOperation(domain, message string) *AppError {
	return New(CodeInvalidOperation, domain, message, http.StatusBadRequest)
}

// --- Profiles ---

var ErrProfileNotFound = New(
	CodeNotFound,
	"profile",
	"Profile not found",
	http.StatusNotFound,
)

// --- Chat ---

var ErrChatNotFound = New(
	CodeNotFound,
	"chat",
	"Chat not found",
	http.StatusNotFound,
)

var ErrGroupChatNotFound = New(
	CodeNotFound,
	"chat",
	"Group chat not found",
	http.StatusNotFound,
)

var ErrMessageNotFound = New(
	CodeNotFound,
	"chat",
	"Message not found",
	http.StatusNotFound,
)

var ErrReplyTargetNotFound = New(
	CodeNotFound,
	"chat",
	"Replied message not found",
	http.StatusNotFound,
)

var ErrNotParticipant = New(
	CodeForbidden,
	"chat",
	"Not a participant of this chat",
	http.StatusForbidden,
)

var ErrNotMessageOwner = New(
	CodeForbidden,
	"chat",
	"You can only modify your own messages",
	http.StatusForbidden,
)

var ErrNotChatAdmin = New(
	CodeForbidden,
	"chat",
	"Only chat admins can perform this action",
	http.StatusForbidden,
)

var ErrDirectChatCardinality = New(
	CodeValidationFailed,
	"chat",
	"Direct chat requires exactly one target profile",
	http.StatusBadRequest,
)

var ErrDirectChatWithSelf = New(
	CodeValidationFailed,
	"chat",
	"Cannot create a direct chat with yourself",
	http.StatusBadRequest,
)

var ErrGroupChatTooSmall = New(
	CodeValidationFailed,
	"chat",
	"Group chat requires at least one other member",
	http.StatusBadRequest,
)

var ErrEmptyMessage = New(
	CodeValidationFailed,
	"chat",
	"Message must contain text or media",
	http.StatusBadRequest,
)

var ErrMessageDeleted = New(
	CodeInvalidOperation,
	"chat",
	"Cannot edit a deleted message",
	http.StatusBadRequest,
)

var ErrLeaveDirectChat = New(
	CodeInvalidOperation,
	"chat",
	"Cannot leave a direct chat",
	http.StatusBadRequest,
)

var ErrInvalidMediaType = New(
	CodeValidationFailed,
	"validation",
	"Invalid media type",
	http.StatusBadRequest,
)

// --- Uploads ---

var ErrFileTooLarge = New(
	CodeLimitExceeded,
	"validation",
	"File size exceeds the allowed limit",
	http.StatusRequestEntityTooLarge,
)

var ErrInvalidFileType = New(
	CodeValidationFailed,
	"validation",
	"The provided file type is not allowed",
	http.StatusUnsupportedMediaType,
)

// --- Auth ---

var ErrInvalidToken = New(
	CodeInvalidToken,
	"auth",
	"Invalid or expired token",
	http.StatusUnauthorized,
)
