package domain

// MessageBus routes turns from channels to the orchestrator and
// responses back to the originating channel.
type MessageBus interface {
	Publish(turn Turn)
	Subscribe() <-chan Turn
	SendOutbound(resp Response)
	OnOutbound(channelName string, handler func(Response))
	Close()
}
