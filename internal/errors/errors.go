package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示钱包客户端内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与审计分级。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
//
// UserMessage 是可以直接展示给终端用户的非技术性描述；Message 面向日志。
type Attributes struct {
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
}

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeNotConnected        Code = "NOT_CONNECTED"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeProviderError       Code = "PROVIDER_ERROR"
	CodeAlreadyConnecting   Code = "ALREADY_CONNECTING"
	CodeTxInProgress        Code = "TRANSACTION_IN_PROGRESS"
	CodeTxFailed            Code = "TRANSACTION_FAILED"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeInitialization      Code = "INITIALIZATION_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:     "unknown error",
			UserMessage: "Something went wrong. Please try again.",
			Severity:    SeverityCritical,
		},
		CodeInvalidArgument: {
			Message:     "invalid argument",
			UserMessage: "The request contains an invalid value.",
			Severity:    SeverityInfo,
		},
		CodeInvalidAmount: {
			Message:     "invalid amount",
			UserMessage: "Enter a positive numeric amount.",
			Severity:    SeverityInfo,
		},
		CodeNotConnected: {
			Message:     "wallet not connected",
			UserMessage: "Connect a wallet first.",
			Severity:    SeverityInfo,
		},
		CodeProviderUnavailable: {
			Message:     "wallet provider unavailable",
			UserMessage: "No wallet found. Install a wallet extension such as MetaMask to continue.",
			Severity:    SeverityWarning,
		},
		CodeProviderError: {
			Message:     "wallet provider error",
			UserMessage: "The wallet rejected the request.",
			Severity:    SeverityWarning,
		},
		CodeAlreadyConnecting: {
			Message:     "connection already in progress",
			UserMessage: "A wallet connection is already in progress.",
			Severity:    SeverityInfo,
		},
		CodeTxInProgress: {
			Message:     "transaction already in progress",
			UserMessage: "Finish the pending transaction before starting a new one.",
			Severity:    SeverityInfo,
		},
		CodeTxFailed: {
			Message:     "transaction failed",
			UserMessage: "The transaction failed. Please try again.",
			Severity:    SeverityWarning,
		},
		CodeConfirmationTimeout: {
			Message:     "confirmation wait timed out",
			UserMessage: "The transaction was submitted but is not confirmed yet. Check its status before retrying.",
			Severity:    SeverityWarning,
		},
		CodeInitialization: {
			Message:     "component not initialized",
			UserMessage: "The service is not ready yet.",
			Severity:    SeverityCritical,
			Retryable:   true,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中最外层的统一错误是否为指定错误码。
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// UserMessage 返回可以展示给用户的描述。
//
// PROVIDER_ERROR 原样透传钱包返回的信息，其余错误码使用注册表中的描述。
func UserMessage(err error) string {
	e, ok := From(err)
	if !ok {
		return AttributesOf(CodeUnknown).UserMessage
	}
	if e.code == CodeProviderError && e.message != "" {
		return e.message
	}
	return AttributesOf(e.code).UserMessage
}
