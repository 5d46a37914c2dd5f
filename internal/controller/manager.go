// ABOUTME: Manages connected agents, accepts registrations, and dispatches commands.
// ABOUTME: Central coordinator for the controller's registry and command fan-out.

package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/liaoxmichael/botnet/internal/store"
	"github.com/liaoxmichael/botnet/internal/zomp"
)

// ErrNoAgents indicates a dispatch was attempted with an empty registry.
var ErrNoAgents = errors.New("no agents connected")

// ErrBadTarget indicates the target selector does not resolve to a
// registered agent.
var ErrBadTarget = errors.New("invalid target")

// TargetAll is the selector meaning "every registered agent".
const TargetAll = 0

// commandCodes maps console commands to their request codes.
var commandCodes = map[string]string{
	"RUN":    zomp.CodeRun,
	"STOP":   zomp.CodeStop,
	"REPORT": zomp.CodeReport,
}

// AgentEntry is one registry slot. Entries are appended on accept and never
// removed, so console indexes stay stable for the controller's lifetime; a
// disconnect only marks the entry closed.
type AgentEntry struct {
	ID   string
	Addr string

	conn   net.Conn
	closed atomic.Bool
}

// Closed reports whether the agent's connection has been lost.
func (e *AgentEntry) Closed() bool {
	return e.closed.Load()
}

// send encodes and writes one message. Fire-and-forget: the caller never
// waits for the agent's answer, which arrives through the receiver task.
func (e *AgentEntry) send(msg *zomp.Message) error {
	_, err := e.conn.Write(msg.Encode())
	return err
}

// AgentInfo is the console-facing view of a registry entry.
type AgentInfo struct {
	Index  int // 1-based display/addressing index
	ID     string
	Addr   string
	Online bool
}

// Params bundles the manager's collaborators.
type Params struct {
	Sink    ReportSink
	History store.Store // optional; nil disables report history
	Metrics *Metrics
	Logger  *slog.Logger
}

// Manager owns the listening endpoint and the ordered registry of agent
// connections. The accept path appends entries, the dispatch path reads
// snapshots, and one receiver goroutine per agent drains responses.
type Manager struct {
	sink    ReportSink
	history store.Store
	metrics *Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	agents []*AgentEntry

	listener     net.Listener
	wg           sync.WaitGroup
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewManager creates a manager. Call Start to begin accepting agents.
func NewManager(p Params) *Manager {
	return &Manager{
		sink:    p.Sink,
		history: p.History,
		metrics: p.Metrics,
		logger:  p.Logger.With("component", "controller"),
		done:    make(chan struct{}),
	}
}

// Start binds the listening socket and launches the accept loop. It does
// not block; agent traffic is handled on background goroutines so the
// console loop stays free.
func (m *Manager) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	m.listener = listener
	m.logger.Info("listening for agents", "addr", listener.Addr().String())

	m.wg.Add(1)
	go m.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (m *Manager) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					m.logger.Error("accept failed", "error", err)
				}
			}
			return
		}

		entry := &AgentEntry{
			ID:   uuid.New().String(),
			Addr: conn.RemoteAddr().String(),
			conn: conn,
		}

		m.mu.Lock()
		m.agents = append(m.agents, entry)
		index := len(m.agents)
		m.mu.Unlock()

		m.metrics.ConnectedAgents.Inc()
		m.logger.Info("agent connected",
			"index", index,
			"agent_id", entry.ID,
			"addr", entry.Addr,
		)

		m.wg.Add(1)
		go m.receive(entry)
	}
}

// snapshot returns the registry in insertion order. Entries are immutable
// once appended, so the copy is safe to walk without the lock.
func (m *Manager) snapshot() []*AgentEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agents := make([]*AgentEntry, len(m.agents))
	copy(agents, m.agents)
	return agents
}

// Agents returns the console-facing registry listing.
func (m *Manager) Agents() []AgentInfo {
	agents := m.snapshot()
	infos := make([]AgentInfo, len(agents))
	for i, a := range agents {
		infos[i] = AgentInfo{Index: i + 1, ID: a.ID, Addr: a.Addr, Online: !a.Closed()}
	}
	return infos
}

// Dispatch encodes one RUN/STOP/REPORT request and sends it to the selected
// target: TargetAll fans out to every registered agent, 1..N addresses one.
// The selector is validated before any socket write. Writes are
// fire-and-forget; responses come back through the receiver tasks.
func (m *Manager) Dispatch(command string, target int, invocation string) error {
	command = strings.ToUpper(command)
	code, ok := commandCodes[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	if strings.TrimSpace(invocation) == "" {
		return fmt.Errorf("%w: invocation is required", ErrBadTarget)
	}

	agents := m.snapshot()
	if len(agents) == 0 {
		return ErrNoAgents
	}
	if target < TargetAll || target > len(agents) {
		return fmt.Errorf("%w: index %d out of range 0..%d", ErrBadTarget, target, len(agents))
	}
	if target != TargetAll {
		agents = agents[target-1 : target]
	}

	msg := &zomp.Message{Code: code, Text: command, Invocation: invocation}
	payload := msg.Encode()

	for _, a := range agents {
		if a.Closed() {
			m.logger.Warn("skipping disconnected agent", "agent_id", a.ID, "addr", a.Addr)
			continue
		}
		if _, err := a.conn.Write(payload); err != nil {
			m.logger.Warn("dispatch failed", "agent_id", a.ID, "addr", a.Addr, "error", err)
			continue
		}
		m.metrics.Dispatches.WithLabelValues(command).Inc()
		m.logger.Debug("command dispatched",
			"command", command,
			"agent_id", a.ID,
			"invocation", invocation,
		)
	}
	return nil
}

// Shutdown broadcasts CLOSE to every registered agent, closes all
// connections and the listener, and waits for the receiver tasks to drain.
// Safe to call more than once.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(m.shutdown)
}

func (m *Manager) shutdown() {
	close(m.done)

	closeMsg := &zomp.Message{Code: zomp.CodeClose, Text: "CLOSE"}
	for _, a := range m.snapshot() {
		if !a.Closed() {
			if err := a.send(closeMsg); err != nil {
				m.logger.Warn("sending CLOSE", "agent_id", a.ID, "error", err)
			}
		}
		a.conn.Close()
	}

	if m.listener != nil {
		m.listener.Close()
	}
	m.wg.Wait()
	m.logger.Info("controller shut down")
}
