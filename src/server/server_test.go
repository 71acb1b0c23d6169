package server

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/replication/src/admission"
	"github.com/orchestra-mcp/replication/src/docstore"
	"github.com/orchestra-mcp/replication/src/replicator/replicatortest"
	"github.com/orchestra-mcp/replication/src/socket"
	"github.com/orchestra-mcp/replication/src/transport"
	"github.com/orchestra-mcp/replication/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"golang.org/x/sync/errgroup"
)

// recordingPublisher counts published events by kind.
type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ReplicationEvent
}

func (p *recordingPublisher) Publish(ev types.ReplicationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	server    *Server
	engine    *replicatortest.Engine
	bridge    *socket.Bridge
	publisher *recordingPublisher
	ln        *fasthttputil.InmemoryListener
}

func newFixture(t *testing.T, max int, resolve StoreResolver) *fixture {
	t.Helper()
	cfg := transport.DefaultConfig()
	cfg.PingInterval = 0
	cfg.CloseTimeout = time.Second

	store, err := docstore.Open(docstore.InMemoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	if resolve == nil {
		resolve = func(*fasthttp.RequestCtx) (docstore.Store, error) { return store, nil }
	}

	b := socket.NewBridge(transport.NewDialer(cfg, zerolog.Nop()), zerolog.Nop())
	e := replicatortest.New()
	e.Attach(b)
	pub := &recordingPublisher{}
	srv := New(admission.New(max, zerolog.Nop()), b, e, resolve, cfg, zerolog.Nop(), WithPublisher(pub))

	ln := fasthttputil.NewInmemoryListener()
	httpSrv := &fasthttp.Server{Handler: srv.Handler()}
	go func() { _ = httpSrv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return &fixture{server: srv, engine: e, bridge: b, publisher: pub, ln: ln}
}

func (f *fixture) dial(path string) (*websocket.Conn, *http.Response, error) {
	d := websocket.Dialer{
		NetDial:          func(string, string) (net.Conn, error) { return f.ln.Dial() },
		HandshakeTimeout: 5 * time.Second,
	}
	return d.Dial("ws://replication.test"+path, nil)
}

func TestAdmissionUnderConcurrentRequests(t *testing.T) {
	const requests, max = 100, 10
	f := newFixture(t, max, nil)

	var mu sync.Mutex
	var conns []*websocket.Conn
	accepted, rejected := 0, 0

	var g errgroup.Group
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			ws, resp, err := f.dial("/db")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
				conns = append(conns, ws)
			case errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == http.StatusServiceUnavailable:
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	t.Cleanup(func() {
		for _, ws := range conns {
			_ = ws.Close()
		}
	})

	assert.Equal(t, max, accepted)
	assert.Equal(t, requests-max, rejected)
	assert.Len(t, f.server.Admission().Active(), max)
	assert.Equal(t, max, f.publisher.count(types.EventStarted))
	assert.Equal(t, requests-max, f.publisher.count(types.EventRejected))
}

func TestClosedReplicationFreesCapacity(t *testing.T) {
	f := newFixture(t, 1, nil)

	ws, _, err := f.dial("/db")
	require.NoError(t, err)

	_, resp, err := f.dial("/db")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	_ = ws.Close()

	require.Eventually(t, func() bool {
		return len(f.server.Admission().Active()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.bridge.SessionCount())

	ws2, _, err := f.dial("/db")
	require.NoError(t, err)
	_ = ws2.Close()
}

func TestMessagesReachEngine(t *testing.T) {
	f := newFixture(t, 4, nil)

	ws, _, err := f.dial("/db")
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("changes")))

	var h types.Handle
	require.Eventually(t, func() bool {
		handles := f.bridge.Handles()
		if len(handles) != 1 {
			return false
		}
		h = handles[0]
		return len(f.engine.ReceivedOn(h)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.engine.Write(h, []byte("ack"))
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte("ack"), data)
}

func TestNonUpgradeRequestIsRejected(t *testing.T) {
	f := newFixture(t, 1, nil)

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/db")
	err := f.server.Handle(&ctx)

	require.Error(t, err)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Empty(t, f.server.Admission().Active())
}

func TestUnknownDatabaseIsNotFound(t *testing.T) {
	f := newFixture(t, 1, func(*fasthttp.RequestCtx) (docstore.Store, error) {
		return nil, types.ErrDocumentNotFound
	})

	_, resp, err := f.dial("/missing")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, f.bridge.SessionCount())
}

func TestDatabaseFromPath(t *testing.T) {
	for path, want := range map[string]string{
		"/db":                   "db",
		"/db/":                  "db",
		"/prefix/db/_replicate": "_replicate",
		"/":                     "",
	} {
		var ctx fasthttp.RequestCtx
		ctx.Request.SetRequestURI(path)
		assert.Equal(t, want, DatabaseFromPath(&ctx), path)
	}
}
