// Standalone mock reservation site for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/permitwatch watch -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"
)

type sailing struct {
	Departs string `json:"departs"`
	Seats   int    `json:"seats"`
}

func main() {
	fmt.Println("Mock ferry API starting on :9999")
	fmt.Println("  GET /api/sailings")
	fmt.Println("A random sailing opens or sells out every 20-60s")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		mu       sync.Mutex
		nextFlip = time.Now().Add(randomDelay())
		sailings = []sailing{
			{"7:30 AM", 0}, {"9:15 AM", 0}, {"11:45 AM", 3},
			{"1:30 PM", 0}, {"3:30 PM", 0}, {"6:00 PM", 0},
		}
	)

	http.HandleFunc("/api/sailings", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		if time.Now().After(nextFlip) {
			nextFlip = time.Now().Add(randomDelay())
			i := rand.Intn(len(sailings))
			if sailings[i].Seats == 0 {
				sailings[i].Seats = 1 + rand.Intn(8)
			} else {
				sailings[i].Seats = 0
			}
			slog.Info("sailing changed", "departs", sailings[i].Departs, "seats", sailings[i].Seats)
		}
		body := map[string]any{"route": "ANA-FRH", "sailings": sailings}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
		mu.Unlock()
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func randomDelay() time.Duration {
	return time.Duration(20+rand.Intn(41)) * time.Second
}
