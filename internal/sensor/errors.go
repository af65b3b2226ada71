package sensor

import "codeberg.org/gec/sensord/internal/errors"

const (
	ErrReadFailed     = errors.ErrorCode("sensor_read_failed")
	ErrPublishDropped = errors.ErrorCode("sensor_publish_dropped")
)
