package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Notifier posts lifecycle events to an external notification collaborator
// (push/WhatsApp fan-out lives behind it). Delivery is fire-and-forget: the
// core never blocks on it, never retries, and a dead endpoint only logs.
type Notifier struct {
	url    string
	client *http.Client
}

// New returns a Notifier for the given webhook URL. An empty URL disables
// delivery entirely.
func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Event is the payload shape the collaborator receives.
type Event struct {
	Kind      string `json:"kind"` // quote_ready | assigned | qc_result | settled
	ProjectID string `json:"project_id"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// Send dispatches the event in the background.
func (n *Notifier) Send(ev Event) {
	if n == nil || n.url == "" {
		return
	}
	go func() {
		body, _ := json.Marshal(ev)
		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		res, err := n.client.Do(req)
		if err != nil {
			log.Println("notify:", err)
			return
		}
		_ = res.Body.Close()
	}()
}
