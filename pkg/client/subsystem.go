package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/transaction"
)

// KVProvider is the capability set LocalProperty and KVHandler share: the
// broker and the dispatch loop only ever see a subsystem's properties
// through this interface, never the concrete type.
type KVProvider interface {
	Key() string
	Descriptor() dds.KVDescriptor
	// RemoteGet answers an RGET_KV forward; ok mirrors dds.StateOK/StateRej.
	RemoteGet() (value []byte, ok bool, reason string)
	// RemoteSet answers an RSET_KV forward.
	RemoteSet(value []byte) (ok bool, reason string)
}

// RegisteredSubsystem is one locally owned subsystem: a UUID, a name, and a
// mapping from key to KV provider, plus its declared events. Any mutation
// that changes the wire-visible descriptor set must call invalidate, which
// re-sends REG_SUBSYSTEM so the broker's and every peer's view stays
// current.
type RegisteredSubsystem struct {
	client *Client

	mu        sync.Mutex
	uuid      uuid.UUID
	name      string
	temporary bool
	providers map[string]KVProvider
	eventDefs []dds.EventDescriptor // handlers this subsystem serves
}

// NewSubsystem declares a new subsystem. It is not visible to the broker
// until the client is connected and ready (or becomes ready later — in
// which case it is sent automatically).
func (c *Client) NewSubsystem(name string, temporary bool) *RegisteredSubsystem {
	s := &RegisteredSubsystem{
		client:    c,
		uuid:      uuid.New(),
		name:      name,
		temporary: temporary,
		providers: make(map[string]KVProvider),
	}
	c.mu.Lock()
	c.subsystems[s.uuid] = s
	ready := c.ready
	session := c.session
	c.mu.Unlock()
	if ready && session != nil {
		s.register(session)
	}
	return s
}

// UUID returns this subsystem's identity.
func (s *RegisteredSubsystem) UUID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uuid
}

// AddProvider installs or replaces a KV provider under its own key and
// invalidates the subsystem's descriptor.
func (s *RegisteredSubsystem) AddProvider(p KVProvider) {
	s.mu.Lock()
	s.providers[p.Key()] = p
	s.mu.Unlock()
	s.invalidate()
}

// AddEventHandler declares that this subsystem serves the named event and
// registers the handler on the owning client. It invalidates the
// subsystem's descriptor so the new handler shows up in discovery.
func (s *RegisteredSubsystem) AddEventHandler(h *EventHandler) {
	s.mu.Lock()
	s.eventDefs = append(s.eventDefs, dds.EventDescriptor{
		ParamType:  h.paramType,
		ReturnType: h.returnType,
		Name:       h.name,
	})
	s.mu.Unlock()

	s.client.mu.Lock()
	s.client.handlers[h.name] = h
	s.client.mu.Unlock()

	s.invalidate()
}

func (s *RegisteredSubsystem) info() dds.SubsystemInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	kvs := make([]dds.KVDescriptor, 0, len(s.providers))
	for _, p := range s.providers {
		kvs = append(kvs, p.Descriptor())
	}
	return dds.SubsystemInfo{
		UUID:      s.uuid,
		Name:      s.name,
		Temporary: s.temporary,
		KVs:       kvs,
		Handlers:  append([]dds.EventDescriptor(nil), s.eventDefs...),
	}
}

// invalidate rebuilds this subsystem's SubsystemInfo and re-sends
// REG_SUBSYSTEM if currently connected; if not connected, the rebuilt info
// is simply what gets sent on the next ready transition.
func (s *RegisteredSubsystem) invalidate() {
	s.client.mu.Lock()
	session := s.client.session
	ready := s.client.ready
	s.client.mu.Unlock()
	if ready && session != nil {
		s.register(session)
	}
}

func (s *RegisteredSubsystem) register(session *dds.Session) {
	info := s.info()
	encoded, err := info.Encode()
	if err != nil {
		return
	}
	session.Transactions().Send(append([]byte{dds.OpRegSubsystem}, encoded...))
}

func (s *RegisteredSubsystem) provider(key string) (KVProvider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[key]
	return p, ok
}

func (c *Client) handleRSetKV(in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 4)
	if err != nil {
		in.Nak()
		return
	}
	target, err := uuid.FromBytes(parts[0])
	if err != nil {
		in.Nak()
		return
	}
	key, value := string(parts[2]), parts[3]

	c.mu.Lock()
	sys, ok := c.subsystems[target]
	c.mu.Unlock()
	if !ok {
		in.Ret(rejPayload(fmt.Sprintf("unknown local subsystem %s", target)))
		return
	}
	provider, ok := sys.provider(key)
	if !ok {
		in.Ret(rejPayload("Unknown key"))
		return
	}
	okSet, reason := provider.RemoteSet(value)
	if !okSet {
		in.Ret(rejPayload(reason))
		return
	}
	in.Ret(okPayload(nil))
}

func (c *Client) handleRGetKV(in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 3)
	if err != nil {
		in.Nak()
		return
	}
	target, err := uuid.FromBytes(parts[0])
	if err != nil {
		in.Nak()
		return
	}
	key := string(parts[2])

	c.mu.Lock()
	sys, ok := c.subsystems[target]
	c.mu.Unlock()
	if !ok {
		in.Ret(rejPayload(fmt.Sprintf("unknown local subsystem %s", target)))
		return
	}
	provider, ok := sys.provider(key)
	if !ok {
		in.Ret(rejPayload("Specified value not found."))
		return
	}
	value, okGet, reason := provider.RemoteGet()
	if !okGet {
		in.Ret(rejPayload(reason))
		return
	}
	in.Ret(okPayload(value))
}

func (c *Client) handleRGetKVDesc(in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 3)
	if err != nil {
		in.Nak()
		return
	}
	target, err := uuid.FromBytes(parts[0])
	if err != nil {
		in.Nak()
		return
	}
	key := string(parts[2])

	c.mu.Lock()
	sys, ok := c.subsystems[target]
	c.mu.Unlock()
	if !ok {
		in.Ret(rejPayload(fmt.Sprintf("unknown local subsystem %s", target)))
		return
	}
	provider, ok := sys.provider(key)
	if !ok {
		in.Ret(rejPayload("Unknown key"))
		return
	}
	encoded, err := provider.Descriptor().Encode()
	if err != nil {
		in.Ret(rejPayload("encode error"))
		return
	}
	in.Ret(okPayload(encoded))
}

func rejPayload(reason string) []byte {
	return append([]byte{dds.StateRej}, []byte(reason)...)
}

func okPayload(value []byte) []byte {
	return append([]byte{dds.StateOK}, value...)
}
