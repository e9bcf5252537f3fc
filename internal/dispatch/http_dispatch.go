package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPMessenger posts countdown messages to a bot gateway over HTTP.
// Used by the consumer binary, which has no chat sockets of its own.
type HTTPMessenger struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPMessenger(endpoint string) *HTTPMessenger {
	return &HTTPMessenger{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (h *HTTPMessenger) SendTimerMessage(chatID int64, text string) (int64, error) {
	body := map[string]interface{}{"chat_id": chatID, "text": text}
	b, _ := json.Marshal(body)
	resp, err := h.Client.Post(h.Endpoint+"/sendMessage", "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("gateway send: status %d", resp.StatusCode)
	}
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.MessageID, nil
}

func (h *HTTPMessenger) EditTimer(chatID, messageID int64, text string) error {
	body := map[string]interface{}{"chat_id": chatID, "message_id": messageID, "text": text}
	b, _ := json.Marshal(body)
	resp, err := h.Client.Post(h.Endpoint+"/editMessageText", "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("gateway edit: status %d", resp.StatusCode)
	}
	return nil
}
