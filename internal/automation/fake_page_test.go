package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

type sentCall struct {
	method string
	params any
}

// fakePage records protocol calls and answers scripts through evalFn.
type fakePage struct {
	id string

	mu          sync.Mutex
	sends       []sentCall
	scripts     []string
	evalArgs    map[string][]any
	navigated   []string
	attachCalls int

	attachErr error
	sendErr   error
	sendLimit int // when positive, sends after this many fail with sendErr
	navErr    error
	evalFn    func(script string, args []any) (json.RawMessage, error)
	onSend    func(method string) // may panic or block
}

func newFakePage(id string) *fakePage {
	return &fakePage{id: id}
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return p.navErr
	}
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	if p.evalArgs == nil {
		p.evalArgs = map[string][]any{}
	}
	p.evalArgs[script] = args
	fn := p.evalFn
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(script, args)
	}
	return json.RawMessage(`{}`), nil
}

func (p *fakePage) CaptureImage(ctx context.Context) ([]byte, error) {
	return nil, errors.New("not supported")
}

func (p *fakePage) Attach(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachCalls++
	return p.attachErr
}

func (p *fakePage) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if p.onSend != nil {
		p.onSend(method)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil && (p.sendLimit == 0 || len(p.sends) >= p.sendLimit) {
		return nil, p.sendErr
	}
	p.sends = append(p.sends, sentCall{method: method, params: params})
	return json.RawMessage(`{}`), nil
}

func (p *fakePage) ranScript(script string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.scripts {
		if s == script {
			return true
		}
	}
	return false
}

// argsFor returns the arguments of the last evaluation of script.
func (p *fakePage) argsFor(script string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evalArgs[script]
}

func (p *fakePage) sent() []sentCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentCall(nil), p.sends...)
}
