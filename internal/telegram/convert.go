package telegram

import (
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
)

// threadFields reads forum topic ids, which the tgbotapi types predate.
type threadFields struct {
	Message *struct {
		ThreadID int `json:"message_thread_id"`
	} `json:"message"`
	CallbackQuery *struct {
		Message *struct {
			ThreadID int `json:"message_thread_id"`
		} `json:"message"`
	} `json:"callback_query"`
}

// convertUpdate decodes one raw update. The update id is returned even
// when the update carries nothing the bot handles, so the poll offset
// still advances.
func convertUpdate(raw json.RawMessage) (chat.Update, int, bool) {
	var u tgbotapi.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return chat.Update{}, 0, false
	}
	var extra threadFields
	_ = json.Unmarshal(raw, &extra)

	switch {
	case u.Message != nil:
		thread := 0
		if extra.Message != nil {
			thread = extra.Message.ThreadID
		}
		return chat.Update{ID: u.UpdateID, Message: convertMessage(u.Message, thread)}, u.UpdateID, true
	case u.CallbackQuery != nil:
		thread := 0
		if extra.CallbackQuery != nil && extra.CallbackQuery.Message != nil {
			thread = extra.CallbackQuery.Message.ThreadID
		}
		return chat.Update{ID: u.UpdateID, Callback: convertCallback(u.CallbackQuery, thread)}, u.UpdateID, true
	}
	return chat.Update{}, u.UpdateID, false
}

func convertMessage(m *tgbotapi.Message, threadID int) *chat.Message {
	if m == nil {
		return nil
	}
	out := &chat.Message{
		ID:           m.MessageID,
		ThreadID:     threadID,
		From:         convertUser(m.From),
		Text:         m.Text,
		Caption:      m.Caption,
		MediaGroupID: m.MediaGroupID,
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.ChatType = chat.ChatType(m.Chat.Type)
	}
	if n := len(m.Photo); n > 0 {
		// sizes are ordered smallest first
		p := m.Photo[n-1]
		out.Photo = &chat.Photo{
			FileID:   p.FileID,
			UniqueID: p.FileUniqueID,
			Width:    p.Width,
			Height:   p.Height,
			FileSize: p.FileSize,
		}
	}
	if d := m.Document; d != nil {
		out.Document = &chat.Photo{FileID: d.FileID, UniqueID: d.FileUniqueID, FileSize: d.FileSize}
		out.DocumentMIME = d.MimeType
	}
	if l := m.Location; l != nil {
		out.Location = &chat.Location{Latitude: l.Latitude, Longitude: l.Longitude}
	}
	if m.ReplyToMessage != nil {
		out.ReplyTo = convertMessage(m.ReplyToMessage, threadID)
	}
	return out
}

func convertCallback(cq *tgbotapi.CallbackQuery, threadID int) *chat.Callback {
	out := &chat.Callback{
		ID:   cq.ID,
		From: convertUser(cq.From),
		Data: cq.Data,
	}
	if cq.Message != nil {
		out.Message = convertMessage(cq.Message, threadID)
		out.ChatType = out.Message.ChatType
	}
	return out
}

func convertUser(u *tgbotapi.User) chat.User {
	if u == nil {
		return chat.User{}
	}
	return chat.User{ID: u.ID, Username: u.UserName, FirstName: u.FirstName}
}
