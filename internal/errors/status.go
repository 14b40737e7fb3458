package errors

import (
	"errors"
	"fmt"
)

// Kind groups status codes by how a caller is expected to react.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindFormat covers malformed or adversarial license bytes.
	KindFormat
	// KindCrypto covers key, signature and capability failures.
	KindCrypto
	// KindNotFound is an expected outcome callers branch on.
	KindNotFound
	// KindResource covers buffers, memory and persistent storage.
	KindResource
	// KindState covers call-order and contract violations.
	KindState
	// KindLicense covers license semantics (counters, dates, containers).
	KindLicense
	// KindPlatform covers missing device support (clock, device id).
	KindPlatform
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "FORMAT"
	case KindCrypto:
		return "CRYPTO"
	case KindNotFound:
		return "NOT_FOUND"
	case KindResource:
		return "RESOURCE"
	case KindState:
		return "STATE"
	case KindLicense:
		return "LICENSE"
	case KindPlatform:
		return "PLATFORM"
	default:
		return "UNKNOWN"
	}
}

// Code identifies one distinct failure.
type Code uint16

const (
	CodeOK Code = iota

	CodeInvalidFormat
	CodeInvalidVersion
	CodeMaxLevelExceeded
	CodeInvalidWireType
	CodeInvalidTagID
	CodeWireTypeMismatch

	CodeKeyNotPresent
	CodeInvalidSigningKey
	CodeInvalidSignature
	CodeUnknownAlgorithm
	CodeRSANotSupported
	CodeAESNotSupported
	CodeRequirementNotSupported
	CodeFingerprintMismatch
	CodeInvalidKeyScope

	CodeItemNotFound
	CodeFeatureNotFound
	CodePersistentIDNotFound
	CodeStopParse
	CodeSkipElementData

	CodeInsufficientMemory
	CodeBufferOverrun
	CodeBufferTooSmall
	CodeStorageFull
	CodeStorageCorrupt
	CodeStorageIO

	CodeNotInitialized
	CodeLockError
	CodeScopeNotInitialized
	CodeInvalidFeatureContext
	CodeInvalidParameter

	CodeUpdateCountMismatch
	CodeContainerMismatch
	CodeFeatureExpired
	CodeFeatureInactive
	CodeNotSupported

	CodeNoClock
	CodeDeviceIDUnavailable
	CodeNodeLockNotSupported
)

type codeInfo struct {
	name string
	kind Kind
	msg  string
}

var codeTable = map[Code]codeInfo{
	CodeOK: {"OK", KindUnknown, "ok"},

	CodeInvalidFormat:    {"INVALID_FORMAT", KindFormat, "invalid license format"},
	CodeInvalidVersion:   {"INVALID_VERSION", KindFormat, "license requires a newer core version"},
	CodeMaxLevelExceeded: {"MAX_LEVEL_EXCEEDED", KindFormat, "license nesting exceeds maximum depth"},
	CodeInvalidWireType:  {"INVALID_WIRE_TYPE", KindFormat, "invalid wire type"},
	CodeInvalidTagID:     {"INVALID_TAG_ID", KindFormat, "invalid tag id"},
	CodeWireTypeMismatch: {"WIRE_TYPE_MISMATCH", KindFormat, "wire type does not match schema"},

	CodeKeyNotPresent:           {"KEY_NOT_PRESENT", KindCrypto, "no key for signing algorithm"},
	CodeInvalidSigningKey:       {"INVALID_SIGNING_KEY", KindCrypto, "invalid signing key"},
	CodeInvalidSignature:        {"INVALID_SIGNATURE", KindCrypto, "signature verification failed"},
	CodeUnknownAlgorithm:        {"UNKNOWN_ALGORITHM", KindCrypto, "unknown signing algorithm"},
	CodeRSANotSupported:         {"RSA_NOT_SUPPORTED", KindCrypto, "RSA support not enabled"},
	CodeAESNotSupported:         {"AES_NOT_SUPPORTED", KindCrypto, "AES support not enabled"},
	CodeRequirementNotSupported: {"LICENSE_REQUIREMENT_NOT_SUPPORTED", KindCrypto, "license requires a capability this core lacks"},
	CodeFingerprintMismatch:     {"FINGERPRINT_MISMATCH", KindCrypto, "license is locked to a different device"},
	CodeInvalidKeyScope:         {"INVALID_KEY_SCOPE", KindCrypto, "key is not usable for this operation"},

	CodeItemNotFound:         {"ITEM_NOT_FOUND", KindNotFound, "item not found"},
	CodeFeatureNotFound:      {"FEATURE_NOT_FOUND", KindNotFound, "feature not found"},
	CodePersistentIDNotFound: {"PERSISTENT_ID_NOT_FOUND", KindNotFound, "persistent record not found"},
	CodeStopParse:            {"STOP_PARSE", KindNotFound, "search left the reference scope"},
	CodeSkipElementData:      {"SKIP_ELEMENT_DATA", KindNotFound, "element outside schema"},

	CodeInsufficientMemory: {"INSUFFICIENT_MEMORY", KindResource, "insufficient memory"},
	CodeBufferOverrun:      {"BUFFER_OVERRUN", KindResource, "read outside license buffer"},
	CodeBufferTooSmall:     {"BUFFER_TOO_SMALL", KindResource, "buffer too small"},
	CodeStorageFull:        {"STORAGE_FULL", KindResource, "persistent storage full"},
	CodeStorageCorrupt:     {"STORAGE_CORRUPT", KindResource, "persistent storage corrupt"},
	CodeStorageIO:          {"STORAGE_IO", KindResource, "persistent storage i/o failure"},

	CodeNotInitialized:        {"NOT_INITIALIZED", KindState, "core not initialized"},
	CodeLockError:             {"LOCK_ERROR", KindState, "lock acquisition failed"},
	CodeScopeNotInitialized:   {"SCOPE_NOT_INITIALIZED", KindState, "scope not initialized"},
	CodeInvalidFeatureContext: {"INVALID_FEATURE_CONTEXT", KindState, "invalid feature context"},
	CodeInvalidParameter:      {"INVALID_PARAMETER", KindState, "invalid parameter"},

	CodeUpdateCountMismatch: {"UPDATE_COUNT_MISMATCH", KindLicense, "license update counter mismatch"},
	CodeContainerMismatch:   {"CONTAINER_MISMATCH", KindLicense, "license container ids differ"},
	CodeFeatureExpired:      {"FEATURE_EXPIRED", KindLicense, "feature expired"},
	CodeFeatureInactive:     {"FEATURE_INACTIVE", KindLicense, "feature not yet active"},
	CodeNotSupported:        {"NOT_SUPPORTED", KindLicense, "license model not supported by this core"},

	CodeNoClock:              {"NO_CLOCK", KindPlatform, "no clock source"},
	CodeDeviceIDUnavailable:  {"DEVICE_ID_UNAVAILABLE", KindPlatform, "device id unavailable"},
	CodeNodeLockNotSupported: {"NODE_LOCK_NOT_SUPPORTED", KindPlatform, "node locking not enabled"},
}

// String returns the stable upper-case name of the code.
func (c Code) String() string {
	if info, ok := codeTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("CODE_%d", uint16(c))
}

// Kind returns the kind the code belongs to.
func (c Code) Kind() Kind {
	return codeTable[c].kind
}

// Error is the status value returned by every core layer.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := codeTable[e.Code].msg
	if msg == "" {
		msg = e.Code.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns a status error for code raised by op.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap returns a status error for code raised by op with cause err.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code carried by err, or CodeOK for nil. Errors that
// do not carry a code report CodeInvalidParameter.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var small *BufferTooSmallError
	if errors.As(err, &small) {
		return CodeBufferTooSmall
	}
	return CodeInvalidParameter
}

// KindOf classifies err; errors without a code are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	code := CodeOf(err)
	if code == CodeInvalidParameter {
		var e *Error
		if !errors.As(err, &e) {
			return KindUnknown
		}
	}
	return code.Kind()
}

// IsNotFound reports whether err is an expected not-found outcome.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidFormat    = &Error{Code: CodeInvalidFormat}
	ErrInvalidVersion   = &Error{Code: CodeInvalidVersion}
	ErrMaxLevelExceeded = &Error{Code: CodeMaxLevelExceeded}
	ErrInvalidWireType  = &Error{Code: CodeInvalidWireType}
	ErrInvalidTagID     = &Error{Code: CodeInvalidTagID}
	ErrWireTypeMismatch = &Error{Code: CodeWireTypeMismatch}

	ErrKeyNotPresent           = &Error{Code: CodeKeyNotPresent}
	ErrInvalidSigningKey       = &Error{Code: CodeInvalidSigningKey}
	ErrInvalidSignature        = &Error{Code: CodeInvalidSignature}
	ErrUnknownAlgorithm        = &Error{Code: CodeUnknownAlgorithm}
	ErrRSANotSupported         = &Error{Code: CodeRSANotSupported}
	ErrAESNotSupported         = &Error{Code: CodeAESNotSupported}
	ErrRequirementNotSupported = &Error{Code: CodeRequirementNotSupported}
	ErrFingerprintMismatch     = &Error{Code: CodeFingerprintMismatch}
	ErrInvalidKeyScope         = &Error{Code: CodeInvalidKeyScope}

	ErrItemNotFound         = &Error{Code: CodeItemNotFound}
	ErrFeatureNotFound      = &Error{Code: CodeFeatureNotFound}
	ErrPersistentIDNotFound = &Error{Code: CodePersistentIDNotFound}
	ErrStopParse            = &Error{Code: CodeStopParse}
	ErrSkipElementData      = &Error{Code: CodeSkipElementData}

	ErrInsufficientMemory = &Error{Code: CodeInsufficientMemory}
	ErrBufferOverrun      = &Error{Code: CodeBufferOverrun}
	ErrBufferTooSmall     = &Error{Code: CodeBufferTooSmall}
	ErrStorageFull        = &Error{Code: CodeStorageFull}
	ErrStorageCorrupt     = &Error{Code: CodeStorageCorrupt}
	ErrStorageIO          = &Error{Code: CodeStorageIO}

	ErrNotInitialized        = &Error{Code: CodeNotInitialized}
	ErrLockError             = &Error{Code: CodeLockError}
	ErrScopeNotInitialized   = &Error{Code: CodeScopeNotInitialized}
	ErrInvalidFeatureContext = &Error{Code: CodeInvalidFeatureContext}
	ErrInvalidParameter      = &Error{Code: CodeInvalidParameter}

	ErrUpdateCountMismatch = &Error{Code: CodeUpdateCountMismatch}
	ErrContainerMismatch   = &Error{Code: CodeContainerMismatch}
	ErrFeatureExpired      = &Error{Code: CodeFeatureExpired}
	ErrFeatureInactive     = &Error{Code: CodeFeatureInactive}
	ErrNotSupported        = &Error{Code: CodeNotSupported}

	ErrNoClock              = &Error{Code: CodeNoClock}
	ErrDeviceIDUnavailable  = &Error{Code: CodeDeviceIDUnavailable}
	ErrNodeLockNotSupported = &Error{Code: CodeNodeLockNotSupported}
)

// BufferTooSmallError reports how many bytes the caller must provide.
type BufferTooSmallError struct {
	Required int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: %d bytes required", e.Required)
}

// Is lets errors.Is(err, ErrBufferTooSmall) match.
func (e *BufferTooSmallError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeBufferTooSmall
}
