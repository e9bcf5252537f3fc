package dispatch

import "errors"

// Messenger is the minimal contract the ride orchestrator needs from
// the chat transport: post a countdown message into a chat and edit it
// in place as the remaining time changes. The bot itself (command
// parsing, keyboards, conversation flows) lives outside this process.
type Messenger interface {
	SendTimerMessage(chatID int64, text string) (int64, error)
	EditTimer(chatID, messageID int64, text string) error
}

// ErrNoSession is returned when no chat session is connected for the
// requested chat id.
var ErrNoSession = errors.New("no chat session")
