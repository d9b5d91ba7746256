package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// sailing is one departure on the mock ferry route.
type sailing struct {
	Departs string `json:"departs"`
	Seats   int    `json:"seats"`
}

// StartMockFerryServer runs a mock reservation site on addr.
//
// /api/sailings returns a JSON schedule and /campground an HTML table. Every
// 20-60 seconds a random slot opens or sells out, so the watcher has
// something to report. Call this in a goroutine before creating targets.
func StartMockFerryServer(addr string) {
	var (
		mu       sync.Mutex
		nextFlip = time.Now().Add(randomDelay())
		sailings = []sailing{
			{"7:30 AM", 0}, {"9:15 AM", 0}, {"11:45 AM", 3},
			{"1:30 PM", 0}, {"3:30 PM", 0}, {"6:00 PM", 0},
		}
		sites = map[string]int{"07/16": 0, "07/17": 2, "07/18": 0, "07/19": 0}
	)

	flip := func() {
		if time.Now().Before(nextFlip) {
			return
		}
		nextFlip = time.Now().Add(randomDelay())

		i := rand.Intn(len(sailings))
		if sailings[i].Seats == 0 {
			sailings[i].Seats = 1 + rand.Intn(8)
		} else {
			sailings[i].Seats = 0
		}
		slog.Info("sailing changed", "departs", sailings[i].Departs, "seats", sailings[i].Seats)

		for day := range sites {
			if rand.Intn(3) == 0 {
				sites[day] = rand.Intn(3)
			}
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/sailings", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		flip()
		body := map[string]any{"route": "ANA-FRH", "sailings": sailings}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(body)
		mu.Unlock()
		if err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	mux.HandleFunc("/campground", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		flip()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, `<html><body><table id="sites">`)
		for _, day := range []string{"07/16", "07/17", "07/18", "07/19"} {
			status := "Reserved"
			if sites[day] > 0 {
				status = fmt.Sprintf("%d Available", sites[day])
			}
			fmt.Fprintf(w, `<tr class="site"><td class="date">%s</td><td class="status">%s</td></tr>`+"\n", day, status)
		}
		fmt.Fprintln(w, `</table></body></html>`)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("mock server error", "error", err)
	}
}

func randomDelay() time.Duration {
	return time.Duration(20+rand.Intn(41)) * time.Second
}
