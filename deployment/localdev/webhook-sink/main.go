// webhook-sink is a local development receiver for remedy-engine
// notifications. It logs every event it receives and always answers 204.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

type event struct {
	Kind    string    `json:"kind"`
	AlertID string    `json:"alert_id"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

func main() {
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var ev event
		if err := json.Unmarshal(body, &ev); err != nil {
			log.Printf("unparseable notification: %s", body)
		} else {
			log.Printf("notification kind=%s alert=%s summary=%q detail=%q", ev.Kind, ev.AlertID, ev.Summary, ev.Detail)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	addr := ":9090"
	log.Printf("webhook sink listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
