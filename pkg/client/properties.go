package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

// LocalProperty is a KV value this process owns and stores. If Send is set,
// every local write is also broadcast to the broker via SET_KV(self, self,
// key, val), which both caches it broker-side and fans it out to
// subscribers.
type LocalProperty struct {
	sys *RegisteredSubsystem

	mu        sync.Mutex
	key       string
	typ       dds.TypeSpecifier
	readable  bool
	writable  bool
	published bool // Send

	hasValue bool
	value    []byte
	onSet    func([]byte)
}

// NewLocalProperty declares a property owned by sys.
func (s *RegisteredSubsystem) NewLocalProperty(key string, typ dds.TypeSpecifier, readable, writable, published bool) *LocalProperty {
	p := &LocalProperty{
		sys:       s,
		key:       key,
		typ:       typ,
		readable:  readable,
		writable:  writable,
		published: published,
	}
	s.AddProvider(p)
	return p
}

// OnSet registers a callback fired after a remote SET is accepted.
func (p *LocalProperty) OnSet(fn func([]byte)) { p.mu.Lock(); p.onSet = fn; p.mu.Unlock() }

func (p *LocalProperty) Key() string { return p.key }

func (p *LocalProperty) Descriptor() dds.KVDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dds.KVDescriptor{Type: p.typ, Key: p.key, Published: p.published, Readable: p.readable, Writable: p.writable}
}

// Write sets the local value and, if published, broadcasts it via SET_KV.
func (p *LocalProperty) Write(value []byte) error {
	p.mu.Lock()
	p.hasValue = true
	p.value = value
	published := p.published
	key := p.key
	p.mu.Unlock()

	if !published {
		return nil
	}
	session, err := p.sys.client.currentSession()
	if err != nil {
		return err
	}
	selfBytes, _ := p.sys.UUID().MarshalBinary()
	payload, err := dds.EncodeSegments(selfBytes, selfBytes, []byte(key), value)
	if err != nil {
		return err
	}
	_, err = session.Transactions().Send(append([]byte{dds.OpSetKV}, payload...)).Wait(context.Background())
	return err
}

// Read returns the last locally stored value, if any.
func (p *LocalProperty) Read() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.hasValue
}

func (p *LocalProperty) RemoteGet() (value []byte, ok bool, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.readable {
		return nil, false, dds.EWriteOnly
	}
	if !p.hasValue {
		return nil, false, dds.ENotSet
	}
	return p.value, true, ""
}

func (p *LocalProperty) RemoteSet(value []byte) (ok bool, reason string) {
	p.mu.Lock()
	if !p.writable {
		p.mu.Unlock()
		return false, dds.EReadOnly
	}
	p.hasValue = true
	p.value = value
	onSet := p.onSet
	p.mu.Unlock()
	if onSet != nil {
		onSet(value)
	}
	return true, ""
}

// KVHandler is a KV property with no stored value: get/set are forwarded to
// callbacks invoked synchronously in the transaction dispatch. Readability
// is defined by OnGet being set; writability by OnSet being set.
type KVHandler struct {
	sys *RegisteredSubsystem
	key string
	typ dds.TypeSpecifier

	mu        sync.Mutex
	published bool
	onGet     func() ([]byte, error)
	onSet     func([]byte) error
}

// NewKVHandler declares a callback-backed property owned by sys.
func (s *RegisteredSubsystem) NewKVHandler(key string, typ dds.TypeSpecifier) *KVHandler {
	h := &KVHandler{sys: s, key: key, typ: typ}
	s.AddProvider(h)
	return h
}

// OnGet registers the callback that answers GET_KV/RGET_KV.
func (h *KVHandler) OnGet(fn func() ([]byte, error)) {
	h.mu.Lock()
	h.onGet = fn
	h.mu.Unlock()
	h.sys.invalidate()
}

// OnSet registers the callback that answers SET_KV/RSET_KV.
func (h *KVHandler) OnSet(fn func([]byte) error) {
	h.mu.Lock()
	h.onSet = fn
	h.mu.Unlock()
	h.sys.invalidate()
}

func (h *KVHandler) Key() string { return h.key }

func (h *KVHandler) Descriptor() dds.KVDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return dds.KVDescriptor{
		Type:      h.typ,
		Key:       h.key,
		Published: h.published,
		Readable:  h.onGet != nil,
		Writable:  h.onSet != nil,
	}
}

func (h *KVHandler) RemoteGet() (value []byte, ok bool, reason string) {
	h.mu.Lock()
	onGet := h.onGet
	h.mu.Unlock()
	if onGet == nil {
		return nil, false, dds.EWriteOnly
	}
	v, err := onGet()
	if err != nil {
		return nil, false, err.Error()
	}
	return v, true, ""
}

func (h *KVHandler) RemoteSet(value []byte) (ok bool, reason string) {
	h.mu.Lock()
	onSet := h.onSet
	h.mu.Unlock()
	if onSet == nil {
		return false, dds.EReadOnly
	}
	if err := onSet(value); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// RemoteProperty is a proxy for a KV owned by another subsystem, built from
// a KVDescriptor obtained out of band (typically via GET_SUBSYSTEM or
// GET_KV_DESC). If the descriptor says Published, the proxy installs an
// active subscription and serves Read from the cache; otherwise Read issues
// an on-demand GET_KV bounded by DefaultRemoteReadTimeout.
type RemoteProperty struct {
	client *Client
	target uuid.UUID
	desc   dds.KVDescriptor

	mu       sync.Mutex
	hasValue bool
	value    []byte
}

// NewRemoteProperty builds a proxy and, if the descriptor is published,
// subscribes immediately.
func (c *Client) NewRemoteProperty(target uuid.UUID, desc dds.KVDescriptor) *RemoteProperty {
	rp := &RemoteProperty{client: c, target: target, desc: desc}
	if desc.Published {
		c.mu.Lock()
		c.remoteSubs = append(c.remoteSubs, remoteSubscription{
			target: target,
			key:    desc.Key,
			onUpd:  rp.onUpdate,
		})
		ready := c.ready
		session := c.session
		c.mu.Unlock()
		if ready && session != nil {
			targetBytes, _ := target.MarshalBinary()
			_ = session.SendSubscribe(targetBytes, desc.Key)
		}
	}
	return rp
}

func (rp *RemoteProperty) onUpdate(value []byte) {
	rp.mu.Lock()
	rp.hasValue = true
	rp.value = value
	rp.mu.Unlock()
}

// Read returns the cached value for a published property, or issues an
// on-demand GET_KV for a pull-only one, blocking up to
// DefaultRemoteReadTimeout.
func (rp *RemoteProperty) Read(ctx context.Context) ([]byte, error) {
	if rp.desc.Published {
		rp.mu.Lock()
		defer rp.mu.Unlock()
		if !rp.hasValue {
			return nil, nil
		}
		return rp.value, nil
	}

	session, err := rp.client.currentSession()
	if err != nil {
		return nil, err
	}
	readCtx, cancel := context.WithTimeout(ctx, DefaultRemoteReadTimeout)
	defer cancel()

	selfBytes, _ := rp.client.UUID().MarshalBinary()
	targetBytes, _ := rp.target.MarshalBinary()
	payload, err := dds.EncodeSegments(targetBytes, selfBytes, []byte(rp.desc.Key))
	if err != nil {
		return nil, err
	}
	result, err := session.Transactions().Send(append([]byte{dds.OpGetKV}, payload...)).Wait(readCtx)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || result[0] != dds.StateOK {
		reason := "remote rejected GET_KV"
		if len(result) > 1 {
			reason = string(result[1:])
		}
		return nil, fmt.Errorf("client: %s", reason)
	}
	return result[1:], nil
}

// Write issues a SET_KV if the descriptor says the property is writable.
func (rp *RemoteProperty) Write(ctx context.Context, value []byte) error {
	if !rp.desc.Writable {
		return fmt.Errorf("client: %s", dds.EReadOnly)
	}
	session, err := rp.client.currentSession()
	if err != nil {
		return err
	}
	selfBytes, _ := rp.client.UUID().MarshalBinary()
	targetBytes, _ := rp.target.MarshalBinary()
	payload, err := dds.EncodeSegments(targetBytes, selfBytes, []byte(rp.desc.Key), value)
	if err != nil {
		return err
	}
	result, err := session.Transactions().Send(append([]byte{dds.OpSetKV}, payload...)).Wait(ctx)
	if err != nil {
		return err
	}
	if len(result) == 0 || result[0] != dds.StateOK {
		reason := "remote rejected SET_KV"
		if len(result) > 1 {
			reason = string(result[1:])
		}
		return fmt.Errorf("client: %s", reason)
	}
	return nil
}
