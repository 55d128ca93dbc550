package dds

import (
	"fmt"

	"github.com/google/uuid"
)

// KVDescriptor is the wire-visible shape of one key-value property,
// independent of whether it is a LocalProperty or a KVHandler on the owning
// side.
type KVDescriptor struct {
	Type      TypeSpecifier
	Key       string
	Published bool
	Readable  bool
	Writable  bool
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Encode serializes a KVDescriptor as seg([type_bytes, key_bytes,
// published:1, readable:1, writable:1]).
func (d KVDescriptor) Encode() ([]byte, error) {
	return EncodeSegments(
		EncodeTypeSpecifier(d.Type),
		[]byte(d.Key),
		[]byte{boolByte(d.Published)},
		[]byte{boolByte(d.Readable)},
		[]byte{boolByte(d.Writable)},
	)
}

// DecodeKVDescriptor parses the form Encode produces.
func DecodeKVDescriptor(data []byte) (KVDescriptor, error) {
	parts, err := DecodeSegmentsExactly(data, 5)
	if err != nil {
		return KVDescriptor{}, fmt.Errorf("dds: kv descriptor: %w", err)
	}
	typ, err := DecodeTypeSpecifier(parts[0])
	if err != nil {
		return KVDescriptor{}, fmt.Errorf("dds: kv descriptor: %w", err)
	}
	if len(parts[2]) != 1 || len(parts[3]) != 1 || len(parts[4]) != 1 {
		return KVDescriptor{}, fmt.Errorf("dds: kv descriptor: flag fields must be 1 byte")
	}
	return KVDescriptor{
		Type:      typ,
		Key:       string(parts[1]),
		Published: parts[2][0] != 0,
		Readable:  parts[3][0] != 0,
		Writable:  parts[4][0] != 0,
	}, nil
}

// EventDescriptor is the wire-visible shape of one named event, shared by
// providers (call sites) and handlers (servers).
type EventDescriptor struct {
	ParamType  TypeSpecifier
	ReturnType TypeSpecifier
	Name       string
}

// Encode serializes an EventDescriptor as seg([param_type_bytes,
// return_type_bytes, name_bytes]).
func (d EventDescriptor) Encode() ([]byte, error) {
	return EncodeSegments(
		EncodeTypeSpecifier(d.ParamType),
		EncodeTypeSpecifier(d.ReturnType),
		[]byte(d.Name),
	)
}

// DecodeEventDescriptor parses the form Encode produces.
func DecodeEventDescriptor(data []byte) (EventDescriptor, error) {
	parts, err := DecodeSegmentsExactly(data, 3)
	if err != nil {
		return EventDescriptor{}, fmt.Errorf("dds: event descriptor: %w", err)
	}
	paramType, err := DecodeTypeSpecifier(parts[0])
	if err != nil {
		return EventDescriptor{}, fmt.Errorf("dds: event descriptor: %w", err)
	}
	returnType, err := DecodeTypeSpecifier(parts[1])
	if err != nil {
		return EventDescriptor{}, fmt.Errorf("dds: event descriptor: %w", err)
	}
	return EventDescriptor{
		ParamType:  paramType,
		ReturnType: returnType,
		Name:       string(parts[2]),
	}, nil
}

// SubsystemInfo is the full, self-describing snapshot a subsystem registers
// with the broker and that the broker redistributes in SYSTEM_UPD.
type SubsystemInfo struct {
	UUID      uuid.UUID
	Name      string
	Temporary bool
	KVs       []KVDescriptor
	// Providers are events this subsystem can call on others (outbound
	// declarations, carried for discovery purposes only).
	Providers []EventDescriptor
	// Handlers are events this subsystem will serve when called.
	Handlers []EventDescriptor
}

// Encode serializes a SubsystemInfo as seg([uuid:16, name_utf8, temporary:1,
// kv_descriptor_list, events_blob]) where events_blob is
// seg([seg([provider_desc,...]), seg([handler_desc,...])]) and
// kv_descriptor_list is seg([kv_desc,...]).
func (s SubsystemInfo) Encode() ([]byte, error) {
	kvParts := make([][]byte, 0, len(s.KVs))
	for _, kv := range s.KVs {
		b, err := kv.Encode()
		if err != nil {
			return nil, err
		}
		kvParts = append(kvParts, b)
	}
	kvList, err := EncodeSegments(kvParts...)
	if err != nil {
		return nil, err
	}

	providerParts := make([][]byte, 0, len(s.Providers))
	for _, e := range s.Providers {
		b, err := e.Encode()
		if err != nil {
			return nil, err
		}
		providerParts = append(providerParts, b)
	}
	providerList, err := EncodeSegments(providerParts...)
	if err != nil {
		return nil, err
	}

	handlerParts := make([][]byte, 0, len(s.Handlers))
	for _, e := range s.Handlers {
		b, err := e.Encode()
		if err != nil {
			return nil, err
		}
		handlerParts = append(handlerParts, b)
	}
	handlerList, err := EncodeSegments(handlerParts...)
	if err != nil {
		return nil, err
	}

	eventsBlob, err := EncodeSegments(providerList, handlerList)
	if err != nil {
		return nil, err
	}

	idBytes, err := s.UUID.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return EncodeSegments(
		idBytes,
		[]byte(s.Name),
		[]byte{boolByte(s.Temporary)},
		kvList,
		eventsBlob,
	)
}

// DecodeSubsystemInfo parses the form Encode produces.
func DecodeSubsystemInfo(data []byte) (SubsystemInfo, error) {
	parts, err := DecodeSegmentsExactly(data, 5)
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: %w", err)
	}

	id, err := uuid.FromBytes(parts[0])
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: uuid: %w", err)
	}
	if len(parts[2]) != 1 {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: temporary flag must be 1 byte")
	}

	kvRaw, err := DecodeSegments(parts[3])
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: kv list: %w", err)
	}
	kvs := make([]KVDescriptor, 0, len(kvRaw))
	for _, raw := range kvRaw {
		kv, err := DecodeKVDescriptor(raw)
		if err != nil {
			return SubsystemInfo{}, err
		}
		kvs = append(kvs, kv)
	}

	eventsParts, err := DecodeSegmentsExactly(parts[4], 2)
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: events blob: %w", err)
	}
	providerRaw, err := DecodeSegments(eventsParts[0])
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: providers: %w", err)
	}
	providers := make([]EventDescriptor, 0, len(providerRaw))
	for _, raw := range providerRaw {
		e, err := DecodeEventDescriptor(raw)
		if err != nil {
			return SubsystemInfo{}, err
		}
		providers = append(providers, e)
	}
	handlerRaw, err := DecodeSegments(eventsParts[1])
	if err != nil {
		return SubsystemInfo{}, fmt.Errorf("dds: subsystem info: handlers: %w", err)
	}
	handlers := make([]EventDescriptor, 0, len(handlerRaw))
	for _, raw := range handlerRaw {
		e, err := DecodeEventDescriptor(raw)
		if err != nil {
			return SubsystemInfo{}, err
		}
		handlers = append(handlers, e)
	}

	return SubsystemInfo{
		UUID:      id,
		Name:      string(parts[1]),
		Temporary: parts[2][0] != 0,
		KVs:       kvs,
		Providers: providers,
		Handlers:  handlers,
	}, nil
}
