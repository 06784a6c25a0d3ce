package service

import (
	"context"
	"fmt"

	"orbit-chat/internal/model"
)

// CreateThread branches a conversation off an assistant message. The
// backend allocates the thread and a dedicated session for it; the
// resulting identifiers are recorded on the parent message so later
// thread turns route to the right session.
func (c *Coordinator) CreateThread(ctx context.Context, conversationID, messageID string) (model.ThreadInfo, error) {
	conv, err := c.store.GetConversation(conversationID)
	if err != nil {
		return model.ThreadInfo{}, err
	}

	var parent *model.Message
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			parent = &conv.Messages[i]
			break
		}
	}
	if parent == nil {
		return model.ThreadInfo{}, fmt.Errorf("create thread: message %s not found", messageID)
	}
	if parent.Role != model.RoleAssistant {
		return model.ThreadInfo{}, fmt.Errorf("create thread: message %s is not an assistant message", messageID)
	}
	if parent.ThreadInfo != nil {
		// Already branched; reuse the existing thread.
		return *parent.ThreadInfo, nil
	}

	// The backend knows messages by its own identifiers when it
	// advertised threading support; fall back to the local one.
	serverID := parent.ServerMessageID
	if serverID == "" {
		serverID = parent.ID
	}

	info, err := c.backend.CreateThread(ctx, serverID, conv.SessionID)
	if err != nil {
		return model.ThreadInfo{}, fmt.Errorf("create thread: %w", err)
	}

	if err := c.store.SetThreadInfo(conversationID, messageID, info); err != nil {
		return model.ThreadInfo{}, err
	}
	return info, nil
}

// SendThreadMessage runs a turn inside an existing thread.
func (c *Coordinator) SendThreadMessage(ctx context.Context, conversationID, parentMessageID string, input TurnInput) (*TurnResult, error) {
	conv, err := c.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	var info *model.ThreadInfo
	for _, msg := range conv.Messages {
		if msg.ID == parentMessageID {
			info = msg.ThreadInfo
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("send thread message: message %s has no thread", parentMessageID)
	}

	input.ThreadID = info.ThreadID
	input.ParentMessageID = parentMessageID
	return c.Send(ctx, conversationID, input)
}
