package journal

// Scanner consumes the frames of a journal in file order. A non-nil error
// aborts the scan; frames delivered before it are not replayed again.
//
// payload is owned by the scanner once Process is called.
type Scanner interface {
	Process(length int, offset int64, payload []byte) error
}

// ScannerFunc adapts an ordinary function to the Scanner interface.
type ScannerFunc func(length int, offset int64, payload []byte) error

func (f ScannerFunc) Process(length int, offset int64, payload []byte) error {
	return f(length, offset, payload)
}

// FrameScanner is implemented by scanners that also need the ledger and
// entry ids of each frame. When a Scanner implements it, ProcessFrame is
// called instead of Process.
type FrameScanner interface {
	Scanner
	ProcessFrame(offset int64, frame Frame) error
}

func deliver(s Scanner, offset int64, frame Frame) error {
	if frameScanner, ok := s.(FrameScanner); ok {
		return frameScanner.ProcessFrame(offset, frame)
	}
	return s.Process(int(frame.Length), offset, frame.Payload)
}
