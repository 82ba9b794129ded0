package session

// Run is the room goroutine. Every room state change happens here.
func (r *room) Run() {
	for {
		select {
		case cmd := <-r.inbox:
			if err := r.handleCommand(cmd); err != nil && cmd.from != nil {
				cmd.from.Send(encodeError(err))
			}

		case gen := <-r.ticks:
			r.handleTick(gen)

		case ack := <-r.closeReqs:
			r.handleClose()
			close(r.done)
			close(ack)
			return
		}
	}
}

func (r *room) Send(cmd Command) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.inbox <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *room) Close() {
	ack := make(chan struct{})
	select {
	case r.closeReqs <- ack:
		<-ack
	case <-r.done:
	}
}
