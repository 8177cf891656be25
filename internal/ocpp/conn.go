package ocpp

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// outboundBuffer bounds the per-connection write queue; a station that
// stops reading its responses eventually has its connection dropped
// rather than growing this queue forever.
const outboundBuffer = 32

const writeWait = 10 * time.Second

// conn wraps one station's WebSocket with a single writer goroutine, so
// concurrent Send calls from the handler and from liveness/command code
// never race on the underlying connection (gorilla/websocket connections
// support one concurrent reader and one concurrent writer, not many).
type conn struct {
	stationID string
	ws        *websocket.Conn
	logger    *zap.Logger

	out       chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(stationID string, ws *websocket.Conn, logger *zap.Logger) *conn {
	c := &conn{
		stationID: stationID,
		ws:        ws,
		logger:    logger,
		out:       make(chan []byte, outboundBuffer),
		closed:    make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send enqueues frame for delivery. It returns false if the connection
// has been closed or the outbound queue is full, in which case the
// caller should treat the station as unreachable (station.Sender).
func (c *conn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		c.logger.Warn("ocpp: outbound queue full, dropping connection",
			zap.String("station_id", c.stationID))
		c.Close()
		return false
	}
}

// Close tears down the connection and stops its writer goroutine. Safe
// to call more than once and from any goroutine.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("ocpp: write failed, closing connection",
					zap.String("station_id", c.stationID), zap.Error(err))
				c.Close()
				return
			}
		}
	}
}
