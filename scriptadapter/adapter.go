// Package scriptadapter implements pubsub.Adapter by evaluating small
// JavaScript snippets in a pooled otto VM, so an embedding application can
// supply validate/authorize/init policy as data (a script) instead of
// recompiling Go code — the same niche the host repo used otto for
// (evaluating small, untrusted snippets without a headless browser), here
// repurposed from challenge-solving to node policy.
package scriptadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robertkrimen/otto"

	"github.com/torrox/siouxgo/pubsub"
)

// Scripts holds the JavaScript source for each adapter hook. Each script
// runs with a `node` global bound to the subscription's key/value pairs (and
// `clientId`, for Authorize, bound to an opaque per-subscriber identifier);
// its final expression value is the hook's result.
//
// Validate and Authorize scripts must evaluate to a boolean. Init must
// evaluate to a JSON-serializable value, becoming the node's initial data.
// An empty script always succeeds (Validate/Authorize) or returns `{}`
// (Init).
type Scripts struct {
	Validate  string
	Authorize string
	Init      string
}

// Adapter implements pubsub.Adapter by running Scripts against a pool of
// vmPoolSize otto VMs, one borrowed per call and returned afterward.
type Adapter struct {
	scripts Scripts
	pool    chan *otto.Otto
}

// New builds an Adapter with vmPoolSize VMs available for concurrent
// script evaluation; calls beyond that count block until a VM is returned.
func New(vmPoolSize int, scripts Scripts) *Adapter {
	if vmPoolSize <= 0 {
		vmPoolSize = 1
	}
	a := &Adapter{scripts: scripts, pool: make(chan *otto.Otto, vmPoolSize)}
	for i := 0; i < vmPoolSize; i++ {
		a.pool <- otto.New()
	}
	return a
}

func (a *Adapter) borrow() *otto.Otto {
	return <-a.pool
}

func (a *Adapter) release(vm *otto.Otto) {
	a.pool <- vm
}

func nodeObject(name pubsub.NodeName) map[string]string {
	obj := make(map[string]string, name.Len())
	for _, k := range name.Keys() {
		obj[string(k.Domain)] = k.Value
	}
	return obj
}

// ValidateNode implements pubsub.Adapter.
func (a *Adapter) ValidateNode(ctx context.Context, name pubsub.NodeName) (bool, error) {
	if a.scripts.Validate == "" {
		return true, nil
	}
	vm := a.borrow()
	defer a.release(vm)

	if err := vm.Set("node", nodeObject(name)); err != nil {
		return false, fmt.Errorf("scriptadapter: bind node: %w", err)
	}
	val, err := vm.Run(a.scripts.Validate)
	if err != nil {
		return false, fmt.Errorf("scriptadapter: validate: %w", err)
	}
	ok, err := val.ToBoolean()
	if err != nil {
		return false, fmt.Errorf("scriptadapter: validate result: %w", err)
	}
	return ok, nil
}

// Authorize implements pubsub.Adapter. sub is identified to the script only
// by its pointer value rendered as a string, since pubsub.Subscriber has no
// other stable identity a script could usefully compare against.
func (a *Adapter) Authorize(ctx context.Context, sub pubsub.Subscriber, name pubsub.NodeName) (bool, error) {
	if a.scripts.Authorize == "" {
		return true, nil
	}
	vm := a.borrow()
	defer a.release(vm)

	if err := vm.Set("node", nodeObject(name)); err != nil {
		return false, fmt.Errorf("scriptadapter: bind node: %w", err)
	}
	if err := vm.Set("clientId", fmt.Sprintf("%p", sub)); err != nil {
		return false, fmt.Errorf("scriptadapter: bind clientId: %w", err)
	}
	val, err := vm.Run(a.scripts.Authorize)
	if err != nil {
		return false, fmt.Errorf("scriptadapter: authorize: %w", err)
	}
	ok, err := val.ToBoolean()
	if err != nil {
		return false, fmt.Errorf("scriptadapter: authorize result: %w", err)
	}
	return ok, nil
}

// NodeInit implements pubsub.Adapter.
func (a *Adapter) NodeInit(ctx context.Context, name pubsub.NodeName) (json.RawMessage, error) {
	if a.scripts.Init == "" {
		return json.RawMessage(`{}`), nil
	}
	vm := a.borrow()
	defer a.release(vm)

	if err := vm.Set("node", nodeObject(name)); err != nil {
		return nil, fmt.Errorf("scriptadapter: bind node: %w", err)
	}
	val, err := vm.Run(a.scripts.Init)
	if err != nil {
		return nil, fmt.Errorf("scriptadapter: init: %w", err)
	}
	exported, err := val.Export()
	if err != nil {
		return nil, fmt.Errorf("scriptadapter: init result: %w", err)
	}
	raw, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("scriptadapter: marshal init result: %w", err)
	}
	return raw, nil
}

var _ pubsub.Adapter = (*Adapter)(nil)
