//go:build !linux

package transport

// Socket is unavailable off Linux; use the worker engine there.
type Socket struct{}

func Listen(addr string) (*Socket, error) {
	return nil, ErrUnsupported
}

func (s *Socket) Kind() Kind                  { return KindListener }
func (s *Socket) Fd() int                     { return -1 }
func (s *Socket) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (s *Socket) Accept() (Endpoint, error)   { return nil, ErrUnsupported }
func (s *Socket) RemoteAddr() string          { return "" }
func (s *Socket) LocalAddr() string           { return "" }
func (s *Socket) Close() error                { return nil }
