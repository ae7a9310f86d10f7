// Package viz holds the visualization collaborators: a visdom-style
// HTTP reporter for live series and image updates, gonum/plot loss
// curves and PNG image grids for the final artifacts. Everything here
// is fire-and-forget from the training loop's point of view.
package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client posts named series points and image batches to a
// visdom-style HTTP endpoint. Send failures are logged and dropped so
// a dead dashboard can never abort training.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the endpoint at rawURL (scheme+host,
// e.g. "http://localhost") and port.
func NewClient(rawURL string, port int) *Client {
	base := strings.TrimRight(rawURL, "/")
	if port > 0 {
		base = fmt.Sprintf("%s:%d", base, port)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// CheckConnection reports whether the endpoint answers at all.
func (c *Client) CheckConnection() bool {
	resp, err := c.http.Get(c.base + "/")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// WaitForConnection polls the endpoint every 100ms until it answers or
// the budget runs out.
func (c *Client) WaitForConnection(budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		if c.CheckConnection() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// seriesEvent is one appended (x, y) point on a named window.
type seriesEvent struct {
	Win       string    `json:"win"`
	EventType string    `json:"eventtype"`
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
}

// imageEvent carries a raw image batch for display.
type imageEvent struct {
	Win    string      `json:"win"`
	Rows   int         `json:"rows"`
	Cols   int         `json:"cols"`
	Images [][]float32 `json:"images"`
}

// UpdatePlot appends one point to the named series window.
func (c *Client) UpdatePlot(win string, x, y float64) {
	c.post("/events", seriesEvent{
		Win:       win,
		EventType: "append",
		X:         []float64{x},
		Y:         []float64{y},
	})
}

// Images sends a batch of rows x cols images for display under the
// named window.
func (c *Client) Images(win string, images [][]float32, rows, cols int) {
	c.post("/images", imageEvent{Win: win, Rows: rows, Cols: cols, Images: images})
}

func (c *Client) post(path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("viz: failed to encode %s payload: %v", path, err)
		return
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("viz: post %s failed: %v", path, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		log.Printf("viz: post %s returned %s", path, resp.Status)
	}
}
