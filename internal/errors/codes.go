package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig    ErrorCode = "invalid_configuration"
	ErrMissingConfig    ErrorCode = "missing_configuration"
	ErrBindFlags        ErrorCode = "bind_flags_failed"
	ErrReadConfig       ErrorCode = "read_config_failed"
	ErrInvalidThreshold ErrorCode = "invalid_threshold"
	ErrInvalidPoolSize  ErrorCode = "invalid_pool_size"
	ErrMissingQueueName ErrorCode = "missing_queue_name"
	ErrInvalidBaudRate  ErrorCode = "invalid_baud_rate"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrCanceled        ErrorCode = "operation_canceled"

	// Telemetry errors
	ErrInitTelemetry  ErrorCode = "init_telemetry_failed"
	ErrCloseTelemetry ErrorCode = "close_telemetry_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidThreshold: "Invalid CO start threshold",
	ErrInvalidPoolSize:  "Publisher pool size must be positive",
	ErrMissingQueueName: "Queue name must not be empty",
	ErrInvalidBaudRate:  "Invalid serial baud rate",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrInitApp:          "Failed to initialize application",
	ErrMainLoop:         "Error in main loop",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrCanceled:         "Operation canceled",
	ErrInitTelemetry:    "Failed to initialize telemetry",
	ErrCloseTelemetry:   "Failed to close telemetry",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
