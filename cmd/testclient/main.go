package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Smoke client: drives a short synthetic session against a running service
// (best paired with STT_PROVIDER=mock) and prints every event.
func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket endpoint")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Println("Connected to server")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var event map[string]any
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			line, _ := json.Marshal(event)
			log.Printf("<- %s", line)
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"start","sample_rate":16000}`)); err != nil {
		log.Fatalf("failed to send start: %v", err)
	}

	// Non-silent synthetic frames; each one advances the mock recognizer.
	frame := make([]byte, 320)
	for i := range frame {
		frame[i] = byte(i % 7)
	}

	for i := 0; i < 10; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		log.Fatalf("failed to send stop: %v", err)
	}

	select {
	case <-done:
		log.Println("Session complete")
	case <-time.After(10 * time.Second):
		log.Fatal("timed out waiting for the final transcript")
	}
}
