package net

// Delivery is one inbound container on its way to the session layer.
type Delivery struct {
	Channel   Channel
	Container *MessageContainer
	// Source is the reliable channel the message belongs to: the one it
	// arrived on, or the one its datagram endpoint is bound to.
	Source *ReliableChannel
	From   NetEndPoint
}

// FilterHandleFunc handles a delivery.
type FilterHandleFunc func(d *Delivery) error

// Filter may inspect, drop, or pass a delivery on to next.
type Filter func(d *Delivery, next FilterHandleFunc) error

// FilterChain runs filters in order, then the final handler.
type FilterChain []Filter

// Handle processes a delivery through the entire chain.
func (fc FilterChain) Handle(d *Delivery, f FilterHandleFunc) error {
	if len(fc) == 0 {
		return f(d)
	}
	return fc[0](d, func(d *Delivery) error {
		return fc[1:].Handle(d, f)
	})
}
