package linkhub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is how often we ping an open link.
	wsPingInterval = 25 * time.Second
	// wsPongWait bounds how long a link may stay silent before the read
	// loop fails and the link is torn down.
	wsPongWait = 75 * time.Second
	// wsControlTimeout bounds a single control-frame write.
	wsControlTimeout = 10 * time.Second
)

// startWSKeepalive installs ping/pong liveness on a link connection: a pong
// handler that extends the read deadline and a goroutine sending periodic
// pings. The mutex must be the one guarding all data writes to conn. The
// returned cancel func stops the ping goroutine.
func startWSKeepalive(conn *websocket.Conn, mu *sync.Mutex) (cancel func()) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlTimeout))
				mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
