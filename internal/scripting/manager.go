package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/manaserv/internal/message"
	"github.com/cory-johannsen/manaserv/internal/network"
	"github.com/cory-johannsen/manaserv/internal/protocol"
)

// Host is the part of the connection handler scripts can reach.
type Host interface {
	network.Registrar
	ClientCount() int
	SendToEveryone(msg *message.Out) int
}

// CharacterLookup reports the character bound to a connection.
type CharacterLookup interface {
	CharacterOf(connID uuid.UUID) (id int64, name string, ok bool)
}

// Manager owns the single sandboxed LState shared by all handler scripts.
//
// Every call into the VM (loading a file, running a handler) holds mu, so
// handlers for different connections run one at a time.
type Manager struct {
	mu       sync.Mutex
	L        *lua.LState
	limit    int
	host     Host
	logger   *zap.Logger
	errors   prometheus.Counter
	handlers map[protocol.Opcode]*Handler
	closed   bool

	characters CharacterLookup
}

// NewManager creates a Manager with the mana module installed.
//
// Precondition: host and logger must be non-nil; scriptErrors may be nil.
// Postcondition: Returns a Manager ready for LoadDir or LoadString.
func NewManager(host Host, logger *zap.Logger, scriptErrors prometheus.Counter, instLimit int) *Manager {
	if host == nil {
		panic("scripting.NewManager: host must not be nil")
	}
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	m := &Manager{
		L:        NewSandboxedState(instLimit),
		limit:    instLimit,
		host:     host,
		logger:   logger,
		errors:   scriptErrors,
		handlers: make(map[protocol.Opcode]*Handler),
	}
	m.RegisterModules(m.L)
	return m
}

// SetCharacterLookup gives scripts conn:character() and restricts script
// handlers to connections with a bound character; PGMSG_CONNECT is exempt.
// Without a lookup every message reaches its script handler.
//
// Precondition: call before any message is dispatched.
func (m *Manager) SetCharacterLookup(l CharacterLookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters = l
}

// LoadDir executes every *.lua file in dir in lexicographic order.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns the number of files run, or the first load error.
// Handlers registered by files run before the failure stay registered.
func (m *Manager) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scripting: reading script dir %q: %w", dir, err)
	}

	luaFiles := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return filepath.Join(dir, e.Name()), !e.IsDir() && filepath.Ext(e.Name()) == ".lua"
	})
	sort.Strings(luaFiles)

	for i, path := range luaFiles {
		if err := m.run(path, func(L *lua.LState) error { return L.DoFile(path) }); err != nil {
			return i, err
		}
		m.logger.Debug("loaded script", zap.String("path", path))
	}
	return len(luaFiles), nil
}

// LoadString executes src as a chunk called name.
func (m *Manager) LoadString(name, src string) error {
	return m.run(name, func(L *lua.LState) error {
		fn, err := L.Load(strings.NewReader(src), name)
		if err != nil {
			return err
		}
		L.Push(fn)
		return L.PCall(0, lua.MultRet, nil)
	})
}

func (m *Manager) run(name string, load func(*lua.LState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("scripting: loading %q: manager closed", name)
	}
	cancel := ArmInstructionLimit(context.Background(), m.L, m.limit)
	defer cancel()
	if err := load(m.L); err != nil {
		return fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	return nil
}

// Handlers returns the opcodes scripts have registered, ascending.
func (m *Manager) Handlers() []protocol.Opcode {
	m.mu.Lock()
	ops := lo.Keys(m.handlers)
	m.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Close releases the VM. Handlers still registered on the host become no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.L.Close()
}

func (m *Manager) scriptError(op protocol.Opcode, handler string, err error) {
	if m.errors != nil {
		m.errors.Inc()
	}
	m.logger.Warn("scripting: Lua runtime error",
		zap.Stringer("opcode", op),
		zap.String("handler", handler),
		zap.Error(err),
	)
}
