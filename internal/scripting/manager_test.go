package scripting_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
	"github.com/cory-johannsen/manaserv/internal/scripting"
)

// fakeHost records registrations and broadcasts.
type fakeHost struct {
	mu        sync.Mutex
	handlers  map[protocol.Opcode]network.Handler
	clients   int
	broadcast []*message.Out
}

func newFakeHost() *fakeHost {
	return &fakeHost{handlers: make(map[protocol.Opcode]network.Handler)}
}

func (h *fakeHost) Register(op protocol.Opcode, handler network.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[op] = handler
}

func (h *fakeHost) handler(op protocol.Opcode) network.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handlers[op]
}

func (h *fakeHost) ClientCount() int { return h.clients }

func (h *fakeHost) SendToEveryone(msg *message.Out) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, msg)
	return h.clients
}

func newTestManager(t testing.TB) (*scripting.Manager, *fakeHost, *observer.ObservedLogs, prometheus.Counter) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	host := newFakeHost()
	errs := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_script_errors_total"})
	mgr := scripting.NewManager(host, zap.New(core), errs, 0)
	t.Cleanup(mgr.Close)
	return mgr, host, logs, errs
}

func writeTempLua(t testing.TB, filename, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(src), 0644))
	return dir
}

// pipeConn returns a network.Conn whose peer end is returned for reading.
func pipeConn(t testing.TB) (*network.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return network.NewConn(server, time.Second, 0), client
}

// readReply reads one frame from peer in the background while fn runs.
func readReply(t testing.TB, peer net.Conn, fn func()) *message.In {
	t.Helper()
	type result struct {
		body []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		var header [2]byte
		if _, err := io.ReadFull(peer, header[:]); err != nil {
			ch <- result{err: err}
			return
		}
		body := make([]byte, int(header[0])<<8|int(header[1]))
		_, err := io.ReadFull(peer, body)
		ch <- result{body: body, err: err}
	}()
	fn()
	r := <-ch
	require.NoError(t, r.err)
	in, err := message.NewIn(r.body)
	require.NoError(t, err)
	return in
}

func dispatch(t testing.TB, host *fakeHost, op protocol.Opcode, conn *network.Conn, out *message.Out) {
	t.Helper()
	h := host.handler(op)
	require.NotNil(t, h, "no handler registered for %s", op)
	in, err := message.NewIn(out.Bytes())
	require.NoError(t, err)
	h.ReceiveMessage(context.Background(), conn, in)
}

func TestManager_LoadDir_RegistersHandlers(t *testing.T) {
	mgr, host, _, _ := newTestManager(t)
	dir := writeTempLua(t, "equip.lua", `
		mana.register_handler(mana.PGMSG_EQUIP, function(conn, msg) end)
	`)
	n, err := mgr.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, host.handler(protocol.PGMsgEquip))
	assert.Equal(t, []protocol.Opcode{protocol.PGMsgEquip}, mgr.Handlers())
}

func TestManager_LoadDir_MultipleFiles_OrderedByName(t *testing.T) {
	mgr, host, _, _ := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.lua"), []byte(`greeting = "hi"`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.lua"), []byte(`
		local text = greeting
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg)
			local out = mana.message_out(mana.GPMSG_SAY)
			out:write_short(0)
			out:write_string(text)
			conn:send(out)
		end)
	`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`not lua`), 0644))

	n, err := mgr.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	conn, peer := pipeConn(t)
	reply := readReply(t, peer, func() {
		dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))
	})
	reply.ReadInt16()
	assert.Equal(t, "hi", reply.ReadString(-1))
}

func TestManager_LoadDir_EmptyDir_NoError(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	n, err := mgr.LoadDir(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mgr.Handlers())
}

func TestManager_LoadDir_MissingDir_ReturnsError(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	_, err := mgr.LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestManager_LoadDir_InvalidLua_ReturnsError(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	dir := writeTempLua(t, "bad.lua", `this is not valid lua @@@@`)
	_, err := mgr.LoadDir(dir)
	assert.Error(t, err)
}

func TestManager_LoadString_RunawayScriptIsStopped(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	assert.Error(t, mgr.LoadString("spin", `while true do end`))
	// A fresh budget is armed for the next load.
	assert.NoError(t, mgr.LoadString("ok", `local x = 1`))
}

func TestManager_Close_HandlersBecomeNoOps(t *testing.T) {
	mgr, host, logs, _ := newTestManager(t)
	require.NoError(t, mgr.LoadString("say", `
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg) mana.log("info", "ran") end)
	`))
	mgr.Close()
	mgr.Close()

	conn, _ := pipeConn(t)
	dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))
	assert.Zero(t, logs.FilterMessage("ran").Len())
	assert.Error(t, mgr.LoadString("late", `local x = 1`))
}

func TestNewManager_PanicsOnNilHost(t *testing.T) {
	assert.Panics(t, func() {
		scripting.NewManager(nil, zap.NewNop(), nil, 0)
	})
}

func TestNewManager_PanicsOnNilLogger(t *testing.T) {
	assert.Panics(t, func() {
		scripting.NewManager(newFakeHost(), nil, nil, 0)
	})
}

func TestHandler_RuntimeError_WarnLogNoPanic(t *testing.T) {
	mgr, host, logs, errs := newTestManager(t)
	require.NoError(t, mgr.LoadString("bad", `
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg)
			error("intentional error")
		end)
	`))

	conn, _ := pipeConn(t)
	assert.NotPanics(t, func() {
		dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))
	})
	entries := logs.FilterMessage("scripting: Lua runtime error").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(errs))
	assert.False(t, conn.Closed())
}

func TestHandler_BudgetIsPerCall(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	host := newFakeHost()
	mgr := scripting.NewManager(host, zap.New(core), nil, 200)
	defer mgr.Close()

	require.NoError(t, mgr.LoadString("loop", `
		mana.register_handler(mana.PGMSG_USE_ITEM, function(conn, msg)
			local n = msg:read_byte()
			if n < 0 then
				while true do end
			end
			for i = 1, n do end
		end)
	`))

	conn, _ := pipeConn(t)
	small := message.NewOut(protocol.PGMsgUseItem)
	small.WriteInt8(10)
	spin := message.NewOut(protocol.PGMsgUseItem)
	spin.WriteInt8(-1)

	// Many cheap calls together exceed 200 opcodes; each must still succeed.
	for i := 0; i < 20; i++ {
		dispatch(t, host, protocol.PGMsgUseItem, conn, small)
	}
	assert.Zero(t, logs.FilterMessage("scripting: Lua runtime error").Len())

	dispatch(t, host, protocol.PGMsgUseItem, conn, spin)
	assert.Equal(t, 1, logs.FilterMessage("scripting: Lua runtime error").Len())

	dispatch(t, host, protocol.PGMsgUseItem, conn, small)
	assert.Equal(t, 1, logs.FilterMessage("scripting: Lua runtime error").Len())
}

func TestProperty_HandlerNeverPanicsOnArbitraryPayload(t *testing.T) {
	mgr, host, _, _ := newTestManager(t)
	require.NoError(t, mgr.LoadString("equip", `
		mana.register_handler(mana.PGMSG_EQUIP, function(conn, msg)
			local item = msg:read_long()
			local slot = msg:read_byte()
			local rest = msg:read_string()
			print("equip", item, slot, rest)
		end)
	`))
	conn, _ := pipeConn(t)
	h := host.handler(protocol.PGMsgEquip)
	require.NotNil(t, h)

	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 32).Draw(rt, "payload")
		body := append([]byte{0x01, 0x12}, payload...)
		in, err := message.NewIn(body)
		if err != nil {
			rt.Fatalf("NewIn: %v", err)
		}
		h.ReceiveMessage(context.Background(), conn, in)
	})
}

func TestHandler_ConcurrentCalls_NoRace(t *testing.T) {
	mgr, host, logs, _ := newTestManager(t)
	require.NoError(t, mgr.LoadString("count", `
		calls = 0
		mana.register_handler(mana.PGMSG_DROP, function(conn, msg)
			calls = calls + 1
		end)
		mana.register_handler(mana.PGMSG_MOVE_ITEM, function(conn, msg)
			mana.log("info", "calls=" .. calls)
		end)
	`))

	const goroutines = 10
	const callsEach = 5
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			conn, _ := pipeConn(t)
			for j := 0; j < callsEach; j++ {
				dispatch(t, host, protocol.PGMsgDrop, conn, message.NewOut(protocol.PGMsgDrop))
			}
		}()
	}
	wg.Wait()

	conn, _ := pipeConn(t)
	dispatch(t, host, protocol.PGMsgMoveItem, conn, message.NewOut(protocol.PGMsgMoveItem))
	assert.Equal(t, 1, logs.FilterMessage("calls=50").Len())
}
