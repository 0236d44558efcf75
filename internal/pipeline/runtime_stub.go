//go:build !govips

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newTranscoder() (Transcoder, error) {
	return stdlibTranscoder{}, nil
}
