package core

import "github.com/hireloop/signaling/internal/domain"

// memberSession implements MemberSession by pairing participant meta + transport.
type memberSession struct {
	participant *domain.Participant
	conn        SignalConnection
}

func NewMemberSession(p *domain.Participant, conn SignalConnection) MemberSession {
	return &memberSession{participant: p, conn: conn}
}

func (m *memberSession) Participant() *domain.Participant { return m.participant }
func (m *memberSession) Signal() SignalConnection         { return m.conn }
