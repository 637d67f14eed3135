package result

import "fmt"

// Code is a registry entry of module 123.
type Code int

// CodeSuccess is never wrapped in an *Error; CodeOf(nil) reports it.
const CodeSuccess Code = 0

// fatal
const (
	CodeInternalLogicError Code = 1
	CodeInvalidReference   Code = 2
	CodeErrorLower         Code = 3
)

// input
const (
	CodeInvalidArgument          Code = 100
	CodeInvalidPointer           Code = 101
	CodeInvalidIoMode            Code = 102
	CodeBufferTooShort           Code = 103
	CodeResourceMax              Code = 104
	CodeResourceBusy             Code = 105
	CodeInsufficientMemory       Code = 106
	CodeInvalidSessionCacheMode  Code = 107
	CodeInvalidRenegotiationMode Code = 108
	CodeInvalidOptionType        Code = 109
	CodeInvalidIndex             Code = 110
	CodeInvalidContext           Code = 111
	CodeInvalidConnectionContext Code = 112
	CodeInvalidSocketDescriptor  Code = 113
	CodeSocketAlreadyRegistered  Code = 114
	CodeSocketNotRegistered      Code = 115
	CodeNoTcpConnection          Code = 116
	CodeInvalidVerifyOption      Code = 117
	CodeInvalidHostName          Code = 118
	CodeInvalidPollEvent         Code = 119
	CodeLibraryNotInitialized    Code = 120
	CodeInvalidCertBuffer        Code = 121
	CodeHandshakeIncomplete      Code = 122
	CodeInvalidState             Code = 123
	CodeInvalidVersion           Code = 124
	CodeInvalidCertificate       Code = 125
)

// report
const (
	CodeIoWouldBlock                 Code = 201
	CodeIoTimeout                    Code = 202
	CodeInsufficientServerCertBuffer Code = 203
	CodeConnectionClosed             Code = 204
	CodeLibraryAlreadyInitialized    Code = 205
	CodeConnectionReset              Code = 210
	CodeConnectionAborted            Code = 211
	CodeNetworkDown                  Code = 212
	CodeSocketShutdown               Code = 213
)

// protocol
const (
	CodeVerifyCertFailed        Code = 301
	CodeHandshakeFailed         Code = 302
	CodeUnsupportedVersion      Code = 303
	CodeNoCipher                Code = 304
	CodeRenegotiationRefused    Code = 305
	CodeBadRecord               Code = 306
	CodeVerifyUnknownCA         Code = 310
	CodeVerifyHostNameMismatch  Code = 311
	CodeVerifyCertExpired       Code = 312
	CodeVerifyCertNotYetValid   Code = 313
	CodeVerifyEVPolicyFailed    Code = 314
	CodeVerifyCertParseFailed   Code = 315
	CodeVerifyInvalidChain      Code = 316
	CodeVerifyNoPeerCertificate Code = 317
)

// AlertBase is the code of TLS alert 0; alert n maps to AlertBase+n.
const (
	AlertBase Code = 1500
	AlertMax  Code = AlertBase + 120
)

var codeNames = map[Code]string{
	CodeSuccess: "success",

	CodeInternalLogicError: "internal logic error",
	CodeInvalidReference:   "invalid reference",
	CodeErrorLower:         "error from lower layer",

	CodeInvalidArgument:          "invalid argument",
	CodeInvalidPointer:           "invalid pointer",
	CodeInvalidIoMode:            "invalid io mode",
	CodeBufferTooShort:           "buffer too short",
	CodeResourceMax:              "resource max",
	CodeResourceBusy:             "resource busy",
	CodeInsufficientMemory:       "insufficient memory",
	CodeInvalidSessionCacheMode:  "invalid session cache mode",
	CodeInvalidRenegotiationMode: "invalid renegotiation mode",
	CodeInvalidOptionType:        "invalid option type",
	CodeInvalidIndex:             "invalid index",
	CodeInvalidContext:           "invalid context",
	CodeInvalidConnectionContext: "invalid connection context",
	CodeInvalidSocketDescriptor:  "invalid socket descriptor",
	CodeSocketAlreadyRegistered:  "socket already registered",
	CodeSocketNotRegistered:      "socket not registered",
	CodeNoTcpConnection:          "no tcp connection",
	CodeInvalidVerifyOption:      "invalid verify option",
	CodeInvalidHostName:          "invalid host name",
	CodeInvalidPollEvent:         "invalid poll event",
	CodeLibraryNotInitialized:    "library not initialized",
	CodeInvalidCertBuffer:        "invalid cert buffer",
	CodeHandshakeIncomplete:      "handshake incomplete",
	CodeInvalidState:             "invalid state",
	CodeInvalidVersion:           "invalid version",
	CodeInvalidCertificate:       "invalid certificate",

	CodeIoWouldBlock:                 "io would block",
	CodeIoTimeout:                    "io timeout",
	CodeInsufficientServerCertBuffer: "insufficient server cert buffer",
	CodeConnectionClosed:             "connection closed",
	CodeLibraryAlreadyInitialized:    "library already initialized",
	CodeConnectionReset:              "connection reset",
	CodeConnectionAborted:            "connection aborted",
	CodeNetworkDown:                  "network down",
	CodeSocketShutdown:               "socket shutdown",

	CodeVerifyCertFailed:        "verify cert failed",
	CodeHandshakeFailed:         "handshake failed",
	CodeUnsupportedVersion:      "unsupported version",
	CodeNoCipher:                "no cipher",
	CodeRenegotiationRefused:    "renegotiation refused",
	CodeBadRecord:               "bad record",
	CodeVerifyUnknownCA:         "unknown ca",
	CodeVerifyHostNameMismatch:  "host name mismatch",
	CodeVerifyCertExpired:       "certificate expired",
	CodeVerifyCertNotYetValid:   "certificate not yet valid",
	CodeVerifyEVPolicyFailed:    "ev policy check failed",
	CodeVerifyCertParseFailed:   "certificate parse failed",
	CodeVerifyInvalidChain:      "invalid certificate chain",
	CodeVerifyNoPeerCertificate: "no peer certificate",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c.IsAlert() {
		alert := uint8(c - AlertBase)
		if text, ok := alertText[alert]; ok {
			return "alert: " + text
		}
		return fmt.Sprintf("alert(%d)", alert)
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// IsAlert reports whether c mirrors a TLS alert.
func (c Code) IsAlert() bool {
	return c >= AlertBase && c <= AlertMax
}

// Category maps c onto its registry range.
func (c Code) Category() Category {
	switch {
	case c >= 0 && c < 100:
		return CategoryFatal
	case c >= 100 && c < 200:
		return CategoryInput
	case c >= 200 && c < 300:
		return CategoryReport
	case c >= 300 && c < 400:
		return CategoryProtocol
	case c.IsAlert():
		return CategoryAlert
	default:
		return CategoryUnknown
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInternalLogicError = New(CodeInternalLogicError)
	ErrInvalidReference   = New(CodeInvalidReference)

	ErrInvalidArgument          = New(CodeInvalidArgument)
	ErrInvalidPointer           = New(CodeInvalidPointer)
	ErrInvalidIoMode            = New(CodeInvalidIoMode)
	ErrBufferTooShort           = New(CodeBufferTooShort)
	ErrResourceMax              = New(CodeResourceMax)
	ErrResourceBusy             = New(CodeResourceBusy)
	ErrInsufficientMemory       = New(CodeInsufficientMemory)
	ErrInvalidSessionCacheMode  = New(CodeInvalidSessionCacheMode)
	ErrInvalidRenegotiationMode = New(CodeInvalidRenegotiationMode)
	ErrInvalidOptionType        = New(CodeInvalidOptionType)
	ErrInvalidIndex             = New(CodeInvalidIndex)
	ErrInvalidContext           = New(CodeInvalidContext)
	ErrInvalidConnectionContext = New(CodeInvalidConnectionContext)
	ErrInvalidSocketDescriptor  = New(CodeInvalidSocketDescriptor)
	ErrSocketAlreadyRegistered  = New(CodeSocketAlreadyRegistered)
	ErrSocketNotRegistered      = New(CodeSocketNotRegistered)
	ErrNoTcpConnection          = New(CodeNoTcpConnection)
	ErrInvalidVerifyOption      = New(CodeInvalidVerifyOption)
	ErrInvalidHostName          = New(CodeInvalidHostName)
	ErrInvalidPollEvent         = New(CodeInvalidPollEvent)
	ErrLibraryNotInitialized    = New(CodeLibraryNotInitialized)
	ErrInvalidCertBuffer        = New(CodeInvalidCertBuffer)
	ErrHandshakeIncomplete      = New(CodeHandshakeIncomplete)
	ErrInvalidState             = New(CodeInvalidState)
	ErrInvalidVersion           = New(CodeInvalidVersion)
	ErrInvalidCertificate       = New(CodeInvalidCertificate)

	ErrIoWouldBlock                 = New(CodeIoWouldBlock)
	ErrIoTimeout                    = New(CodeIoTimeout)
	ErrInsufficientServerCertBuffer = New(CodeInsufficientServerCertBuffer)
	ErrConnectionClosed             = New(CodeConnectionClosed)
	ErrLibraryAlreadyInitialized    = New(CodeLibraryAlreadyInitialized)
	ErrConnectionReset              = New(CodeConnectionReset)
	ErrConnectionAborted            = New(CodeConnectionAborted)
	ErrNetworkDown                  = New(CodeNetworkDown)
	ErrSocketShutdown               = New(CodeSocketShutdown)

	ErrVerifyCertFailed     = New(CodeVerifyCertFailed)
	ErrHandshakeFailed      = New(CodeHandshakeFailed)
	ErrRenegotiationRefused = New(CodeRenegotiationRefused)
)
