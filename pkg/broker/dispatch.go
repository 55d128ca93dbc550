package broker

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ipi-ecs/ecs/pkg/dds"
	"github.com/ipi-ecs/ecs/pkg/transaction"
)

// dispatchTransaction handles one transaction the client opened on this
// connection, keyed by its first payload byte (the DDS opcode).
func (b *Broker) dispatchTransaction(session *dds.Session, handle *connHandle, in *transaction.Incoming, log zerolog.Logger) {
	data := in.Data()
	if len(data) == 0 {
		in.Nak()
		return
	}
	op, payload := data[0], data[1:]

	switch op {
	case dds.OpRegSubsystem:
		b.handleRegSubsystem(handle, in, payload)
	case dds.OpSetKV:
		b.handleSetKV(in, payload, log)
	case dds.OpGetKV:
		b.handleGetKV(in, payload, log)
	case dds.OpGetKVDesc:
		b.handleGetKVDesc(in, payload, log)
	case dds.OpResolve:
		b.handleResolve(in, payload)
	case dds.OpGetSubsystem:
		b.handleGetSubsystem(in, payload)
	case dds.OpCallEvent:
		b.handleCallEvent(session, in, payload, log)
	default:
		log.Warn().Uint8("op", op).Msg("unknown transaction opcode from client")
		in.Nak()
	}
}

func rejPayload(reason string) []byte {
	return append([]byte{dds.StateRej}, []byte(reason)...)
}

func okPayload(value []byte) []byte {
	return append([]byte{dds.StateOK}, value...)
}

func (b *Broker) handleRegSubsystem(handle *connHandle, in *transaction.Incoming, payload []byte) {
	info, err := dds.DecodeSubsystemInfo(payload)
	if err != nil {
		in.Nak()
		return
	}
	result := b.registry.Register(handle, info)
	if !result.OK {
		in.Nak()
		return
	}
	in.Ret(nil)
	b.broadcastSystemUpd()
}

func (b *Broker) handleSetKV(in *transaction.Incoming, payload []byte, log zerolog.Logger) {
	parts, err := dds.DecodeSegmentsExactly(payload, 4)
	if err != nil {
		in.Nak()
		return
	}
	target, err1 := uuid.FromBytes(parts[0])
	origin, err2 := uuid.FromBytes(parts[1])
	if err1 != nil || err2 != nil {
		in.Nak()
		return
	}
	key, value := string(parts[2]), parts[3]

	if target == origin {
		notify, ok := b.registry.PutKV(target, key, value)
		if !ok {
			b.observeKVSet("rejected")
			in.Ret(rejPayload(dds.ETargetNotFound))
			return
		}
		for _, conn := range notify {
			_ = conn.session.SendSubscribedUpd(parts[0], key, value)
			b.observeSubscribedUpdate()
		}
		b.observeKVSet("ok")
		in.Ret(okPayload(nil))
		return
	}

	owner, bound := b.registry.BoundConn(target)
	if !bound {
		b.observeKVSet("rejected")
		in.Ret(rejPayload(dds.ESubsystemDisconnected))
		return
	}
	forward := owner.session.Transactions().Send(append([]byte{dds.OpRSetKV}, payload...))
	forward.Then(func(result []byte) {
		b.observeKVSet(resultState(result))
		in.Ret(result)
	})
	forward.Catch(func(error) {
		b.observeKVSet("rejected")
		in.Ret(rejPayload(dds.ESubsystemDisconnected))
	})
}

func resultState(result []byte) string {
	if len(result) > 0 && result[0] == dds.StateOK {
		return "ok"
	}
	return "rejected"
}

func (b *Broker) observeKVSet(state string) {
	if b.metrics != nil {
		b.metrics.KVSetTotal.WithLabelValues(state).Inc()
	}
}

func (b *Broker) observeKVGet(state string) {
	if b.metrics != nil {
		b.metrics.KVGetTotal.WithLabelValues(state).Inc()
	}
}

func (b *Broker) observeSubscribedUpdate() {
	if b.metrics != nil {
		b.metrics.SubscribedUpdates.Inc()
	}
}

func (b *Broker) handleGetKV(in *transaction.Incoming, payload []byte, log zerolog.Logger) {
	parts, err := dds.DecodeSegmentsExactly(payload, 3)
	if err != nil {
		in.Nak()
		return
	}
	target, err1 := uuid.FromBytes(parts[0])
	if err1 != nil {
		in.Nak()
		return
	}
	key := string(parts[2])

	if v, ok := b.registry.CachedKV(target, key); ok {
		b.observeKVGet("ok")
		in.Ret(okPayload(v))
		return
	}

	owner, bound := b.registry.BoundConn(target)
	if !bound {
		b.observeKVGet("rejected")
		in.Ret(rejPayload(dds.ETargetNotFound))
		return
	}
	forward := owner.session.Transactions().Send(append([]byte{dds.OpRGetKV}, payload...))
	forward.Then(func(result []byte) {
		b.observeKVGet(resultState(result))
		in.Ret(result)
	})
	forward.Catch(func(error) {
		b.observeKVGet("rejected")
		in.Ret(rejPayload(dds.ESubsystemDisconnected))
	})
}

func (b *Broker) handleGetKVDesc(in *transaction.Incoming, payload []byte, log zerolog.Logger) {
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
	owner, bound := b.registry.BoundConn(target)
	if !bound {
		in.Ret(rejPayload(dds.ETargetNotFound))
		return
	}
	forward := owner.session.Transactions().Send(append([]byte{dds.OpRGetKVDesc}, payload...))
	forward.Then(func(result []byte) { in.Ret(result) })
	forward.Catch(func(error) { in.Ret(rejPayload(dds.ESubsystemDisconnected)) })
}

func (b *Broker) handleResolve(in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 1)
	if err != nil {
		in.Nak()
		return
	}
	id, ok := b.registry.Resolve(string(parts[0]))
	if !ok {
		in.Ret(rejPayload(dds.ENameNotFound))
		return
	}
	idBytes, _ := id.MarshalBinary()
	in.Ret(okPayload(idBytes))
}

func (b *Broker) handleGetSubsystem(in *transaction.Incoming, payload []byte) {
	parts, err := dds.DecodeSegmentsExactly(payload, 1)
	if err != nil {
		in.Nak()
		return
	}
	target, err := uuid.FromBytes(parts[0])
	if err != nil {
		in.Nak()
		return
	}
	info, _, ok := b.registry.Get(target)
	if !ok {
		in.Ret(rejPayload(dds.ETargetNotFound))
		return
	}
	encoded, err := info.Encode()
	if err != nil {
		in.Ret(rejPayload(dds.ETargetNotFound))
		return
	}
	in.Ret(okPayload(encoded))
}

func (b *Broker) handleCallEvent(session *dds.Session, in *transaction.Incoming, payload []byte, log zerolog.Logger) {
	parts, err := dds.DecodeSegmentsExactly(payload, 4)
	if err != nil {
		in.Nak()
		return
	}
	targetsRaw, err := dds.DecodeSegments(parts[0])
	if err != nil {
		in.Nak()
		return
	}
	origin, err := uuid.FromBytes(parts[1])
	if err != nil {
		in.Nak()
		return
	}
	name, param := parts[2], parts[3]

	var targets []uuid.UUID
	if len(targetsRaw) == 0 {
		for _, entry := range b.registry.Snapshot() {
			targets = append(targets, entry.Info.UUID)
		}
	} else {
		for _, raw := range targetsRaw {
			t, err := uuid.FromBytes(raw)
			if err != nil {
				in.Nak()
				return
			}
			if _, _, ok := b.registry.Get(t); !ok {
				in.Ret(rejPayload(dds.EUnknownTarget))
				return
			}
			targets = append(targets, t)
		}
	}

	eventID := uuid.New()
	eventIDBytes, _ := eventID.MarshalBinary()
	originBytes, _ := origin.MarshalBinary()

	var dispatched []uuid.UUID
	reachability := make([][]byte, 0, len(targets))
	for _, t := range targets {
		tBytes, _ := t.MarshalBinary()
		conn, bound := b.registry.BoundConn(t)
		ok := bound
		if ok {
			forwardPayload, ferr := dds.EncodeSegments(tBytes, originBytes, eventIDBytes, name, param)
			if ferr != nil {
				ok = false
			} else {
				dispatched = append(dispatched, t)
				outgoing := conn.session.Transactions().Send(append([]byte{dds.OpRCallEvent}, forwardPayload...))
				targetCopy := t
				outgoing.Then(func(result []byte) {
					b.finishEventTarget(session, eventID, origin, targetCopy, result)
				})
				outgoing.Catch(func(error) {
					b.finishEventTargetRejected(session, eventID, origin, targetCopy)
				})
			}
		}
		row, _ := dds.EncodeSegments(tBytes, []byte{boolByte(ok)})
		reachability = append(reachability, row)
	}
	if len(dispatched) > 0 {
		b.registry.putEvent(eventID, newEventRecord(string(name), origin, dispatched))
	}

	rowsBlob, _ := dds.EncodeSegments(reachability...)
	reply, _ := dds.EncodeSegments(eventIDBytes, rowsBlob)
	if b.metrics != nil {
		b.metrics.EventsCalledTotal.Inc()
	}
	in.Ret(okPayload(reply))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// finishEventTarget handles a terminal RET from a target's RCALL_EVENT: the
// result payload is [state:1][value]. A StateOK state becomes EVENT_RET
// status EventOK and any other state (or an empty payload) EventRej; the
// value is passed through verbatim.
func (b *Broker) finishEventTarget(origSession *dds.Session, eventID, origin, target uuid.UUID, result []byte) {
	status, value := dds.EventRej, []byte(nil)
	if len(result) >= 1 {
		if result[0] == dds.StateOK {
			status = dds.EventOK
		}
		value = result[1:]
	}
	b.registry.resolveEventTarget(eventID, target)
	b.observeEventTarget(status)
	targetBytes, _ := target.MarshalBinary()
	originBytes, _ := origin.MarshalBinary()
	eventBytes, _ := eventID.MarshalBinary()
	_ = origSession.SendEventRet(targetBytes, originBytes, eventBytes, status, value)
}

func (b *Broker) finishEventTargetRejected(origSession *dds.Session, eventID, origin, target uuid.UUID) {
	b.registry.resolveEventTarget(eventID, target)
	b.observeEventTarget(dds.EventRej)
	targetBytes, _ := target.MarshalBinary()
	originBytes, _ := origin.MarshalBinary()
	eventBytes, _ := eventID.MarshalBinary()
	_ = origSession.SendEventRet(targetBytes, originBytes, eventBytes, dds.EventRej, nil)
}

func (b *Broker) observeEventTarget(status byte) {
	if b.metrics == nil {
		return
	}
	label := "rejected"
	if status == dds.EventOK {
		label = "ok"
	}
	b.metrics.EventTargetsTotal.WithLabelValues(label).Inc()
}
