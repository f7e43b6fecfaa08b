package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"voice-screening-service/internal/service/audio"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket endpoint")
	targetRate := flag.Int("rate", 16000, "Sample rate to stream at")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := int(binary.LittleEndian.Uint32(header[24:28]))
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if numChannels != 1 || bitsPerSample != 16 {
		log.Fatal("Only 16-bit mono supported")
	}

	pcm, err := io.ReadAll(f)
	if err != nil {
		log.Fatalf("Failed to read audio: %v", err)
	}

	if sampleRate != *targetRate {
		pcm, err = resample(pcm, sampleRate, *targetRate)
		if err != nil {
			log.Fatalf("Failed to resample %d -> %d: %v", sampleRate, *targetRate, err)
		}
		log.Printf("Resampled %d Hz -> %d Hz", sampleRate, *targetRate)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	// Print every server event until the connection closes.
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

	startMsg, _ := json.Marshal(map[string]any{"type": "start", "sample_rate": *targetRate})
	if err := conn.WriteMessage(websocket.TextMessage, startMsg); err != nil {
		log.Fatalf("Failed to send start: %v", err)
	}

	// 100ms of 16-bit mono audio
	chunkSize := *targetRate * 2 / 10
	var totalBytes int
	var chunkNum int
	startTime := time.Now()

	for offset := 0; offset < len(pcm); offset += chunkSize {
		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := pcm[offset:end]
		if len(chunk)%2 != 0 {
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) == 0 {
			break
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}

		chunkNum++
		totalBytes += len(chunk)
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Println("Sending stop, waiting for final transcript...")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}

	select {
	case <-done:
		log.Println("Session complete")
	case <-time.After(30 * time.Second):
		log.Fatal("Timed out waiting for the final transcript")
	}
}

// resample block-averages 16-bit PCM down to the target rate. Only integer
// ratios are supported, which covers the usual 48k/44.1k capture rates only
// partially; 48k -> 16k is the common case.
func resample(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	samples := audio.BytesToSamples(pcm)
	in := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			in[i] = float32(s) / 32768
		} else {
			in[i] = float32(s) / 32767
		}
	}

	out, err := audio.Downsample(in, srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	return audio.SamplesToBytes(audio.Float32ToPCM16(out)), nil
}
