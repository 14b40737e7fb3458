package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/render"
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens the extensions next to the standard members
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// HTTPStatus maps a status code to the HTTP status a daemon client sees.
func HTTPStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK

	case CodeItemNotFound, CodeFeatureNotFound, CodePersistentIDNotFound,
		CodeStopParse, CodeSkipElementData:
		return http.StatusNotFound

	case CodeFingerprintMismatch, CodeFeatureExpired, CodeFeatureInactive,
		CodeInvalidSignature, CodeRequirementNotSupported:
		return http.StatusForbidden

	case CodeUpdateCountMismatch, CodeContainerMismatch:
		return http.StatusConflict

	case CodeInvalidParameter, CodeInvalidFeatureContext, CodeScopeNotInitialized:
		return http.StatusBadRequest

	case CodeBufferTooSmall:
		return http.StatusRequestEntityTooLarge

	case CodeNotInitialized, CodeNoClock, CodeDeviceIDUnavailable,
		CodeStorageFull, CodeStorageIO:
		return http.StatusServiceUnavailable

	case CodeNodeLockNotSupported:
		return http.StatusNotImplemented
	}

	switch code.Kind() {
	case KindFormat, KindLicense:
		return http.StatusUnprocessableEntity
	case KindCrypto:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ProblemType is the stable problem type URI for a code, e.g.
// /errors/license/update-count-mismatch.
func ProblemType(code Code) string {
	kind := strings.ToLower(strings.ReplaceAll(code.Kind().String(), "_", "-"))
	name := strings.ToLower(strings.ReplaceAll(code.String(), "_", "-"))
	return "/errors/" + kind + "/" + name
}

// MapStatusError converts a core status error into problem details. The
// detail is the code message; operation context stays in the logs.
func MapStatusError(err *Error, instance, traceID string) *ProblemDetails {
	status := HTTPStatus(err.Code)
	detail := codeTable[err.Code].msg
	if detail == "" {
		detail = err.Code.String()
	}
	return NewProblemDetails(status, ProblemType(err.Code), http.StatusText(status), detail, instance).
		WithExtension("error_code", err.Code.String()).
		WithExtension("kind", strings.ToLower(err.Code.Kind().String())).
		WithExtension("trace_id", traceID)
}
