package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrProctorAccessOnly ErrCode = "PROCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Attempt flow ──────────────────────────────────────────────────
	ErrExamLoadFailed     ErrCode = "EXAM_LOAD_FAILED"
	ErrAttemptStartFailed ErrCode = "ATTEMPT_START_FAILED"
	ErrAttemptLoadFailed  ErrCode = "ATTEMPT_LOAD_FAILED"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrSubmitRetrying     ErrCode = "SUBMIT_RETRYING"
	ErrSubmitFailed       ErrCode = "SUBMIT_FAILED"
	ErrViolationWarning   ErrCode = "VIOLATION_WARNING"
	ErrViolationEscalated ErrCode = "VIOLATION_ESCALATED"
	ErrTimeUp             ErrCode = "TIME_UP"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to learners."
	case ErrProctorAccessOnly:
		return "This resource is restricted to proctors."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Attempt flow ──────────────────────────────────────────────────
	case ErrExamLoadFailed:
		return "The exam could not be loaded. Returning to the dashboard."
	case ErrAttemptStartFailed:
		return "The exam could not be started. Please try again."
	case ErrAttemptLoadFailed:
		return "Your exam session could not be loaded. Returning to the dashboard."
	case ErrNoQuestions:
		return "This exam has no questions."
	case ErrSubmitRetrying:
		return "Submitting your answers failed. Retrying..."
	case ErrSubmitFailed:
		return "Your answers could not be submitted. They are kept safe; please retry."
	case ErrViolationWarning:
		return "Leaving the exam window was detected. Repeated violations may have consequences."
	case ErrViolationEscalated:
		return "Too many violations were detected. Your exam is being submitted."
	case ErrTimeUp:
		return "Time is up. Your answers are being submitted."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
