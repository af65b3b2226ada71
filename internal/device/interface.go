package device

// Port is the byte stream of one analyzer. Read returns 0, nil when the read
// timeout passes without data.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Finder locates the analyzer's serial port when none is configured.
type Finder interface {
	Find() (string, error)
}
