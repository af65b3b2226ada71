package device

import "codeberg.org/gec/sensord/internal/errors"

const (
	// Discovery Errors
	ErrPortNotFound = errors.ErrorCode("device_port_not_found")
	ErrListPorts    = errors.ErrorCode("device_list_ports_failed")

	// Port Errors
	ErrOpenFailed      = errors.ErrorCode("device_open_failed")
	ErrConfigureFailed = errors.ErrorCode("device_configure_failed")
	ErrReadFailed      = errors.ErrorCode("device_read_failed")
	ErrWriteFailed     = errors.ErrorCode("device_write_failed")
	ErrCloseFailed     = errors.ErrorCode("device_close_failed")
)
