package session

import (
	"github.com/lcx/gamenet/net"
)

// typedMessage is a pointer to a message struct, so a fresh value can be
// decoded for every container.
type typedMessage[M any] interface {
	*M
	net.TypedMessage
}

// bind decodes c on the calling I/O goroutine and returns the executor
// that hands the message to fn on the main loop. A container that does not
// decode is a *net.ProtocolError.
func bind[M any, PM typedMessage[M]](c *net.MessageContainer, fn func(PM)) (Executor, error) {
	m := PM(new(M))
	if err := c.Parse(m); err != nil {
		return nil, err
	}
	return func() { fn(m) }, nil
}
