// Package errors provides structured error handling for FrameFind.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (index, metadata)
//   - 3XX: Network and channel errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates index and metadata store errors.
	CategoryStore Category = "STORE"
	// CategoryNetwork indicates network and channel transport errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates request validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeSceneNotFound = "ERR_201_SCENE_NOT_FOUND"
	ErrCodeCorruptIndex  = "ERR_202_CORRUPT_INDEX"
	ErrCodeStoreFailed   = "ERR_203_STORE_FAILED"

	// Network and channel errors (300-399)
	ErrCodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	ErrCodeChannelTimeout       = "ERR_302_CHANNEL_TIMEOUT"
	ErrCodeChannelUnavailable   = "ERR_303_CHANNEL_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidRequest = "ERR_401_INVALID_REQUEST"
	ErrCodeInvalidWeights = "ERR_402_INVALID_WEIGHTS"
	ErrCodeQueryEmpty     = "ERR_403_QUERY_EMPTY"
	ErrCodeUnknownChannel = "ERR_404_UNKNOWN_CHANNEL"
	ErrCodeUnknownFusion  = "ERR_405_UNKNOWN_FUSION"

	// Internal errors (500-599)
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeRetrievalUnavailable = "ERR_502_RETRIEVAL_UNAVAILABLE"
	ErrCodeHydrationFailed      = "ERR_503_HYDRATION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "401" from "ERR_401_INVALID_REQUEST")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeCorruptIndex {
		return SeverityFatal
	}

	// Retryable channel errors degrade the response instead of failing it.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingUnavailable, ErrCodeChannelTimeout, ErrCodeChannelUnavailable:
		return true
	default:
		return false
	}
}
