package nfs

import (
	"net"
	"sync"

	"github.com/marmos91/plevy/internal/logger"
)

// trackingListener counts the connections go-nfs accepts so the adapter can
// wait for them on shutdown, enforce MaxConnections and force-close
// stragglers.
type trackingListener struct {
	net.Listener
	adapter *NFSAdapter
}

func (l *trackingListener) Accept() (net.Conn, error) {
	a := l.adapter

	// Acquire connection semaphore if connection limiting is enabled.
	// This blocks if we're at MaxConnections until a connection closes.
	if a.connSemaphore != nil {
		select {
		case a.connSemaphore <- struct{}{}:
		case <-a.shutdown:
			return nil, net.ErrClosed
		}
	}

	conn, err := l.Listener.Accept()
	if err != nil {
		if a.connSemaphore != nil {
			<-a.connSemaphore
		}
		return nil, err
	}

	a.activeConns.Add(1)
	count := a.connCount.Add(1)

	tc := &trackedConn{Conn: conn, adapter: a, addr: conn.RemoteAddr().String()}
	a.activeConnections.Store(tc.addr, tc)

	logger.Debug("NFS connection accepted from %s (active: %d)", tc.addr, count)
	return tc, nil
}

// trackedConn releases its bookkeeping exactly once when go-nfs closes it.
type trackedConn struct {
	net.Conn
	adapter   *NFSAdapter
	addr      string
	closeOnce sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		a := c.adapter
		a.activeConnections.Delete(c.addr)
		if a.registry != nil {
			a.registry.RemoveMount(protocolName, c.addr)
		}
		if a.connSemaphore != nil {
			<-a.connSemaphore
		}
		count := a.connCount.Add(-1)
		a.activeConns.Done()

		logger.Debug("NFS connection closed from %s (active: %d)", c.addr, count)
	})
	return err
}
