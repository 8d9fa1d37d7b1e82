package dts

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRetransmitPeriod is the interval after which an unacknowledged
// ARQ segment is resent.
const DefaultRetransmitPeriod = 2 * time.Second

// Session holds one peer's complete DTS connection state: the ARQ
// transmit/receive windows, the Non-ARQ reassembly table, the retransmit
// scheduler, and the per-peer state machine. It is the per-peer
// collaborator the event loop drives; callers supply onDeliver (a
// complete C_PDU ready for a SIS UNIDATA_INDICATION) and onSend (an
// encoded D_PDU ready to queue on the peer's write engine).
type Session struct {
	mu sync.Mutex

	state PeerState
	tx    TxWindow
	rx    RxWindow
	reasm *Reassembler
	retx  *RetransmitScheduler

	LocalAddr []byte
	PeerAddr  []byte

	cpduCounter uint16

	log       *slog.Logger
	onDeliver func(payload []byte, expedited bool)
	onSend    func(frame []byte)
}

// NewSession constructs a Session. localAddr/peerAddr hold one address
// nibble per byte (the form internal/addr.Pack takes); either may be nil if addressing is
// not in use on this link.
func NewSession(localAddr, peerAddr []byte, log *slog.Logger) *Session {
	return &Session{
		state:     StateIdle,
		reasm:     NewReassembler(MaxCPDUID + 1),
		retx:      NewRetransmitScheduler(DefaultRetransmitPeriod),
		LocalAddr: localAddr,
		PeerAddr:  peerAddr,
		log:       log,
	}
}

// SetCallbacks installs the delivery and send callbacks. Must be called
// before HandleFrame.
func (s *Session) SetCallbacks(onDeliver func(payload []byte, expedited bool), onSend func(frame []byte)) {
	s.onDeliver = onDeliver
	s.onSend = onSend
}

// State reports the session's current peer state.
func (s *Session) State() PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleFrame dispatches one successfully decoded D_PDU by D_TYPE,
// advancing the ARQ/Non-ARQ state and invoking onDeliver for any C_PDU
// that becomes complete as a result.
func (s *Session) HandleFrame(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle && f.DType != Reset {
		s.state = StateConnected
		if f.DType == DataOnly || f.DType == EDataOnly || f.DType == DataAck {
			s.rx.LWE, s.rx.UWE = f.Seq, f.Seq
		}
	}

	switch f.DType {
	case Reset:
		s.state = StateResetPending
		s.tx = TxWindow{}
		s.rx = RxWindow{}
		s.state = StateConnected
		if s.onSend != nil {
			s.onSend(EncodeReset(s.LocalAddr, s.PeerAddr, s.tx.UWE, s.rx.UWE))
		}

	case NonARQ, ExpeditedNonARQ:
		complete, delivered, reason := s.reasm.Accept(f.CPDUID, f.TotalSize, f.SegOffset16, f.Payload)
		if reason != "" {
			s.warn("non-ARQ segment discarded", "reason", reason, "cpdu_id", f.CPDUID)
			return
		}
		if delivered && s.onDeliver != nil {
			s.onDeliver(complete, f.Expedited)
		}

	case DataOnly, EDataOnly, DataAck:
		complete, _, _, discarded := s.rx.Accept(f.Seq, f.First, f.Last, f.Payload)
		if discarded {
			s.warn("ARQ segment discarded as stale or duplicate", "seq", f.Seq)
		}
		for _, c := range complete {
			if s.onDeliver != nil {
				s.onDeliver(c, f.Expedited)
			}
		}
		if f.HasAck {
			s.applyAck(f.AckLowerEdge, f.AckBitmap)
		}

	case AckOnly, EAckOnly:
		if f.HasAck {
			s.applyAck(f.AckLowerEdge, f.AckBitmap)
		}

	case Management, Warning:
		s.warn("management/warning D_PDU not acted on", "dtype", f.DType)
	}
}

func (s *Session) applyAck(lowerEdge byte, bitmap []byte) {
	freed := s.tx.ApplyAck(lowerEdge, bitmap)
	for _, e := range freed {
		s.retx.Cancel(e.Seq)
	}
}

func (s *Session) warn(msg string, args ...any) {
	if s.log != nil {
		s.log.Warn(msg, args...)
	}
}

// TransmitNonARQ segments payload into <=800-byte chunks and emits one
// NON_ARQ (or EXPEDITED_NON_ARQ) D_PDU per chunk under a freshly-allocated
// C_PDU ID.
func (s *Session) TransmitNonARQ(payload []byte, expedited bool) error {
	if len(payload) == 0 || len(payload) > MaxCPDU {
		return ErrInvalidCPDUSize
	}
	s.mu.Lock()
	id := s.cpduCounter
	s.cpduCounter = (s.cpduCounter + 1) % (MaxCPDUID + 1)
	s.mu.Unlock()

	total := len(payload)
	for offset := 0; offset < total; offset += MaxSegment {
		end := offset + MaxSegment
		if end > total {
			end = total
		}
		frame := EncodeNonARQSegment(expedited, s.LocalAddr, s.PeerAddr, id, uint16(total), uint16(offset), 0, payload[offset:end])
		if s.onSend != nil {
			s.onSend(frame)
		}
	}
	return nil
}

// TransmitARQ segments payload into <=800-byte chunks, allocates a
// transmit-window sequence for each, and emits one DATA_ONLY D_PDU per
// segment, arming a retransmit timer for each. Fails with ErrWindowFull
// if the transmit window cannot accommodate every segment.
func (s *Session) TransmitARQ(payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxCPDU {
		return ErrInvalidCPDUSize
	}
	numSegments := (len(payload) + MaxSegment - 1) / MaxSegment

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := 0; i < numSegments; i++ {
		offset := i * MaxSegment
		end := offset + MaxSegment
		if end > len(payload) {
			end = len(payload)
		}
		seg := payload[offset:end]
		first := i == 0
		last := i == numSegments-1

		entry := &txEntry{Frame: nil}
		seq, ok := s.tx.Alloc(entry)
		if !ok {
			return ErrWindowFull
		}
		// Window-edge signalling (isUpper/isLower) is not wired yet; false,
		// false until the session tracks its own window edges.
		frame := EncodeDataOnly(false, 0, 0, s.LocalAddr, s.PeerAddr, seq, false, false, first, last, uint16(offset), seg)
		entry.Frame = frame
		if s.onSend != nil {
			s.onSend(frame)
		}
		s.retx.Arm(seq, now)
	}
	return nil
}

// NextDeadline reports the nearest pending ARQ retransmit deadline, if any
// segment is currently unacknowledged. Implements ioloop.TimerSource.
func (s *Session) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retx.NextDeadline()
}

// FireExpired implements ioloop.TimerSource by delegating to
// RetransmitExpired.
func (s *Session) FireExpired(now time.Time) {
	s.RetransmitExpired(now)
}

// RetransmitExpired resends every ARQ segment whose retransmit timer has
// elapsed as of now, re-arming each for another period.
func (s *Session) RetransmitExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range s.retx.Expired(now) {
		if e := s.tx.pdus[seq]; e != nil && !e.Acked {
			e.Attempts++
			if s.onSend != nil {
				s.onSend(e.Frame)
			}
			s.retx.Arm(seq, now)
		}
	}
}
