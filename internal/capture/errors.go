package capture

import "strings"

// ErrorCategory classifies camera pipeline errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates the device is missing, busy or unplugged
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat indicates caps negotiation or format failures
	ErrCategoryFormat
	// ErrCategoryPermission indicates the process may not open the device
	ErrCategoryPermission
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryPermission:
		return "permission"
	default:
		return "unknown"
	}
}

var (
	permissionKeywords = []string{"permission denied", "not permitted", "access denied", "eacces"}
	formatKeywords     = []string{"not-negotiated", "not negotiated", "caps", "format", "could not negotiate", "unsupported"}
	deviceKeywords     = []string{"no such device", "no such file", "cannot identify device", "busy", "resource", "disconnected", "could not open", "failed to open", "no device"}
)

// ClassifyError categorizes a pipeline error from its message and debug text.
// Permission is checked first, then format, then device.
func ClassifyError(message, debug string) ErrorCategory {
	msg := strings.ToLower(message)
	dbg := strings.ToLower(debug)

	switch {
	case containsAny(msg, dbg, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(msg, dbg, formatKeywords):
		return ErrCategoryFormat
	case containsAny(msg, dbg, deviceKeywords):
		return ErrCategoryDevice
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(msg, dbg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) || strings.Contains(dbg, kw) {
			return true
		}
	}
	return false
}
