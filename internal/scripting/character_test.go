package scripting_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

type boundChar struct {
	id   int64
	name string
}

// fakeCharacters maps connection IDs to selected characters.
type fakeCharacters struct {
	mu    sync.Mutex
	bound map[uuid.UUID]boundChar
}

func newFakeCharacters() *fakeCharacters {
	return &fakeCharacters{bound: make(map[uuid.UUID]boundChar)}
}

func (f *fakeCharacters) bind(connID uuid.UUID, id int64, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[connID] = boundChar{id: id, name: name}
}

func (f *fakeCharacters) CharacterOf(connID uuid.UUID) (int64, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.bound[connID]
	return c.id, c.name, ok
}

func TestHandler_DropsMessagesBeforeCharacterSelection(t *testing.T) {
	mgr, host, logs, errs := newTestManager(t)
	mgr.SetCharacterLookup(newFakeCharacters())
	require.NoError(t, mgr.LoadString("say", `
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg) mana.log("info", "ran") end)
	`))

	conn, _ := pipeConn(t)
	dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))

	assert.Zero(t, logs.FilterMessage("ran").Len())
	dropped := logs.FilterMessage("dropping message before character selection").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, protocol.PGMsgSay.String(), dropped[0].ContextMap()["opcode"])
	assert.Zero(t, testutil.ToFloat64(errs))
}

func TestHandler_ConnectRunsWithoutCharacter(t *testing.T) {
	mgr, host, logs, _ := newTestManager(t)
	mgr.SetCharacterLookup(newFakeCharacters())
	require.NoError(t, mgr.LoadString("connect", `
		mana.register_handler(mana.PGMSG_CONNECT, function(conn, msg) mana.log("info", "ran") end)
	`))

	conn, _ := pipeConn(t)
	dispatch(t, host, protocol.PGMsgConnect, conn, message.NewOut(protocol.PGMsgConnect))

	assert.Equal(t, 1, logs.FilterMessage("ran").Len())
}

func TestConnCharacter_BoundConnection(t *testing.T) {
	mgr, host, logs, _ := newTestManager(t)
	chars := newFakeCharacters()
	mgr.SetCharacterLookup(chars)
	require.NoError(t, mgr.LoadString("say", `
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg)
			local id, name = conn:character()
			mana.log("info", name .. "#" .. id)
		end)
	`))

	conn, _ := pipeConn(t)
	chars.bind(conn.ID(), 42, "Alice")
	dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))

	assert.Equal(t, 1, logs.FilterMessage("Alice#42").Len())
}

func TestConnCharacter_NilWithoutLookup(t *testing.T) {
	mgr, host, logs, errs := newTestManager(t)
	require.NoError(t, mgr.LoadString("say", `
		mana.register_handler(mana.PGMSG_SAY, function(conn, msg)
			if conn:character() == nil then mana.log("info", "anonymous") end
		end)
	`))

	conn, _ := pipeConn(t)
	dispatch(t, host, protocol.PGMsgSay, conn, message.NewOut(protocol.PGMsgSay))

	assert.Equal(t, 1, logs.FilterMessage("anonymous").Len())
	assert.Zero(t, testutil.ToFloat64(errs))
}
