package gateway

import (
	"github.com/gorilla/websocket"
)

// outboundMessage is a single queued write: the serialized frame plus a
// single-use sink for the write result.
type outboundMessage struct {
	payload []byte
	result  chan error
}

func newOutboundMessage(payload []byte) *outboundMessage {
	return &outboundMessage{payload: payload, result: make(chan error, 1)}
}

// writerTask consumes queued outbound frames and serializes them onto the
// socket. Its inbound queue has depth 1: callers always await their result
// sink before sending the next message, so no more buffering is needed.
type writerTask struct {
	conn  *websocket.Conn
	queue chan *outboundMessage
	done  chan struct{}
}

func startWriterTask(conn *websocket.Conn) *writerTask {
	w := &writerTask{
		conn:  conn,
		queue: make(chan *outboundMessage, 1),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writerTask) run() {
	defer close(w.done)
	for msg := range w.queue {
		err := w.conn.WriteMessage(websocket.TextMessage, msg.payload)
		msg.result <- wrapTransport(err)
	}
}

// send enqueues a frame and returns its result channel. The queue is
// closed by the supervisor on teardown, at which point send returns
// ErrReceiverHungUp instead of blocking forever.
func (w *writerTask) send(payload []byte) (result <-chan error) {
	msg := newOutboundMessage(payload)
	defer func() {
		// A send on the closed queue panics; report it as a hung-up writer.
		if recover() != nil {
			msg.result <- ErrReceiverHungUp
			result = msg.result
		}
	}()
	select {
	case w.queue <- msg:
	case <-w.done:
		msg.result <- ErrReceiverHungUp
	}
	return msg.result
}

func (w *writerTask) stop() {
	close(w.queue)
	<-w.done
}
