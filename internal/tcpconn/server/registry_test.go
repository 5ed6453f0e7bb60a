package server

import (
	"net"
	"testing"

	"github.com/alxayo/tcpconn/internal/tcpconn/conn"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/queue"
)

func newTestConn(t *testing.T, id uint32) *conn.Conn[msg.Framed] {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })
	inbound := queue.New[conn.Incoming[msg.Framed]]()
	c := conn.New(id, conn.RoleServer, server, conn.FramedCodec{}, inbound, nil)
	return c
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry[msg.Framed]()
	c := newTestConn(t, 10042)

	r.Add(c)
	if got := r.Get(10042); got != c {
		t.Fatalf("Get returned %v, want the added connection", got)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}

	r.Remove(10042)
	if r.Get(10042) != nil {
		t.Fatalf("expected nil after Remove")
	}
	if r.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after Remove", r.Count())
	}
}

func TestRegistrySnapshotIsStableCopy(t *testing.T) {
	r := NewRegistry[msg.Framed]()
	r.Add(newTestConn(t, 10001))
	r.Add(newTestConn(t, 10002))

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected snapshot of 2, got %d", len(snap))
	}
	r.Remove(10001)
	if len(snap) != 2 {
		t.Fatalf("snapshot must not be affected by later mutation")
	}
}

func TestRegistryPruneDeadRemovesClosedConnections(t *testing.T) {
	r := NewRegistry[msg.Framed]()
	live := newTestConn(t, 20001)
	dead := newTestConn(t, 20002)
	r.Add(live)
	r.Add(dead)

	if err := dead.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	prunedIDs := r.PruneDead()
	if len(prunedIDs) != 1 || prunedIDs[0] != 20002 {
		t.Fatalf("expected only 20002 pruned, got %v", prunedIDs)
	}
	if r.Get(20002) != nil {
		t.Fatalf("dead connection should have been removed from the active set")
	}
	if r.Get(20001) == nil {
		t.Fatalf("live connection must survive the prune sweep")
	}
}

func TestRegistryCloseAllEmptiesTheSet(t *testing.T) {
	r := NewRegistry[msg.Framed]()
	r.Add(newTestConn(t, 30001))
	r.Add(newTestConn(t, 30002))

	if err := r.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}

	if r.Count() != 0 {
		t.Fatalf("expected empty active set after CloseAll, got %d", r.Count())
	}
}

func TestIDCyclerWrapsWithinRange(t *testing.T) {
	var ids idCycler
	seen := make(map[uint32]bool)
	for i := 0; i < idRangeSize+5; i++ {
		id := ids.next()
		if id < idRangeStart || id >= idRangeStart+idRangeSize {
			t.Fatalf("id %d out of [%d,%d) range", id, idRangeStart, idRangeStart+idRangeSize)
		}
		seen[id] = true
	}
	if len(seen) != idRangeSize {
		t.Fatalf("expected %d distinct ids before wrap, got %d", idRangeSize, len(seen))
	}
}
