package crew

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"devcrew/internal/agent"
)

type assignment struct {
	ctx    context.Context
	prompt string
	reply  chan<- reply
}

type reply struct {
	output string
	err    error
}

type worker struct {
	exec    *agent.Executor
	mailbox chan assignment
}

// pool runs one goroutine per coworker. Each coworker handles its
// assignments one at a time, in arrival order.
type pool struct {
	workers map[string]*worker // by normalized role
	roles   []string
	emit    func(agent.Event)
	usage   *usageMeter
	fail    context.CancelCauseFunc
	wg      sync.WaitGroup
}

func startPool(execs []*agent.Executor, emit func(agent.Event), usage *usageMeter, fail context.CancelCauseFunc) *pool {
	p := &pool{
		workers: make(map[string]*worker, len(execs)),
		emit:    emit,
		usage:   usage,
		fail:    fail,
	}
	for _, e := range execs {
		w := &worker{exec: e, mailbox: make(chan assignment)}
		p.workers[normalizeRole(e.Profile().Role)] = w
		p.roles = append(p.roles, e.Profile().Role)

		p.wg.Add(1)
		go p.run(w)
	}
	return p
}

func (p *pool) run(w *worker) {
	defer p.wg.Done()
	role := w.exec.Profile().Role

	for a := range w.mailbox {
		slog.Debug("crew: assignment received", "role", role)
		res, err := w.exec.Execute(a.ctx, a.prompt, p.emit)
		if err != nil {
			if a.ctx.Err() == nil {
				p.fail(fmt.Errorf("coworker %w", err))
			}
			a.reply <- reply{err: err}
			continue
		}
		p.usage.add(res.Usage)
		a.reply <- reply{output: res.Output}
	}
}

// Delegate implements tools.Coworkers.
func (p *pool) Delegate(ctx context.Context, role, task, taskContext string) (string, error) {
	w, ok := p.workers[normalizeRole(role)]
	if !ok {
		return "", fmt.Errorf("%w: %q", agent.ErrUnknownAgent, role)
	}

	to := w.exec.Profile().Role
	slog.Info("crew: delegating", "from", agent.AgentRoleFromContext(ctx), "to", to)
	p.emit(agent.Event{Type: agent.EventDelegation, Data: map[string]string{
		"from": agent.AgentRoleFromContext(ctx),
		"to":   to,
		"task": task,
	}})

	replies := make(chan reply, 1)
	select {
	case w.mailbox <- assignment{ctx: ctx, prompt: delegationPrompt(task, taskContext), reply: replies}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-replies:
		return r.output, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *pool) Roles() []string {
	return append([]string(nil), p.roles...)
}

// stop closes every mailbox and waits for the workers to exit. No Delegate
// call may be in flight.
func (p *pool) stop() {
	for _, w := range p.workers {
		close(w.mailbox)
	}
	p.wg.Wait()
}

type usageMeter struct {
	mu    sync.Mutex
	total agent.Usage
}

func (m *usageMeter) add(u agent.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total.Add(u)
}

func (m *usageMeter) snapshot() agent.Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
