package collab

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patlas/internal/types"
)

// Session is one collaboration between workers. Participants share data by
// sending data_share messages, which the manager folds into SharedData.
type Session struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Participants []string               `json:"participants"`
	Context      map[string]interface{} `json:"context,omitempty"`
	SharedData   map[string]interface{} `json:"shared_data"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      time.Time              `json:"ended_at,omitempty"`
	Active       bool                   `json:"active"`
	Result       map[string]interface{} `json:"result,omitempty"`
}

// clone returns a snapshot safe to hand out.
func (s *Session) clone() *Session {
	cp := *s
	cp.Participants = append([]string(nil), s.Participants...)
	cp.SharedData = make(map[string]interface{}, len(s.SharedData))
	for k, v := range s.SharedData {
		cp.SharedData[k] = v
	}
	return &cp
}

// StartCollaboration opens a session between participants and fans out
// collaboration_start. Every participant must be a registered worker.
func (m *Manager) StartCollaboration(collabType string, participants []string, ctxData map[string]interface{}) (string, error) {
	if len(participants) < 2 {
		return "", types.NewError(types.ErrValidation, "collab: a session needs at least two participants")
	}

	m.mu.Lock()
	for _, p := range participants {
		if _, ok := m.workers[p]; !ok {
			m.mu.Unlock()
			return "", types.Errorf(types.ErrValidation, "collab: unknown participant %q", p)
		}
	}
	session := &Session{
		ID:           uuid.NewString(),
		Type:         collabType,
		Participants: append([]string(nil), participants...),
		Context:      ctxData,
		SharedData:   make(map[string]interface{}),
		StartedAt:    m.clk.Now(),
		Active:       true,
	}
	m.sessions[session.ID] = session
	m.mu.Unlock()

	for _, p := range participants {
		_ = m.bus.Send(&types.Message{
			SenderID:   ManagerID,
			ReceiverID: p,
			Type:       types.MsgCollaborationStart,
			Priority:   1,
			Content: map[string]interface{}{
				"collaboration_id": session.ID,
				"type":             collabType,
				"participants":     participants,
				"context":          ctxData,
			},
		})
	}

	m.logger.Info("collaboration started",
		zap.String("session", session.ID),
		zap.String("type", collabType),
		zap.Strings("participants", participants))
	return session.ID, nil
}

// ApplySharedData merges data a participant shared into the session and
// relays it to the other participants as data_share messages.
func (m *Manager) ApplySharedData(sessionID, from string, data map[string]interface{}) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: unknown session %q", sessionID)
	}
	if !session.Active {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: session %q already ended", sessionID)
	}
	member := false
	for _, p := range session.Participants {
		if p == from {
			member = true
			break
		}
	}
	if !member {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: %q is not part of session %q", from, sessionID)
	}
	for k, v := range data {
		session.SharedData[k] = v
	}
	participants := append([]string(nil), session.Participants...)
	m.mu.Unlock()

	for _, p := range participants {
		if p == from {
			continue
		}
		_ = m.bus.Send(&types.Message{
			SenderID:   from,
			ReceiverID: p,
			Type:       types.MsgDataShare,
			Priority:   1,
			Content: map[string]interface{}{
				"collaboration_id": sessionID,
				"data":             data,
			},
		})
	}
	return nil
}

// EndCollaboration closes a session and fans out collaboration_end with the
// result.
func (m *Manager) EndCollaboration(sessionID string, result map[string]interface{}) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: unknown session %q", sessionID)
	}
	if !session.Active {
		m.mu.Unlock()
		return types.Errorf(types.ErrValidation, "collab: session %q already ended", sessionID)
	}
	session.Active = false
	session.EndedAt = m.clk.Now()
	session.Result = result
	participants := append([]string(nil), session.Participants...)
	m.mu.Unlock()

	for _, p := range participants {
		_ = m.bus.Send(&types.Message{
			SenderID:   ManagerID,
			ReceiverID: p,
			Type:       types.MsgCollaborationEnd,
			Priority:   1,
			Content: map[string]interface{}{
				"collaboration_id": sessionID,
				"result":           result,
			},
		})
	}

	m.logger.Info("collaboration ended", zap.String("session", sessionID))
	return nil
}

// Session returns a snapshot of the given session.
func (m *Manager) Session(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return session.clone(), true
}
