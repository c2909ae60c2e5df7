// mock-llm is a local stand-in for the generative model endpoint. It answers
// every generateContent call with a canned fenced-JSON analysis so the full
// pipeline can run without credentials.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

const cannedAnalysis = "```json\n" + `{
  "summary": "The service saw a burst of 5xx responses concentrated on a single endpoint, consistent with a dependency failure rather than broad degradation.",
  "root_cause": "Downstream dependency timing out under load after the most recent deploy.",
  "mitigation_steps": [
    "Roll back the most recent deploy for the affected service",
    "Raise the client timeout toward the failing dependency",
    "Add a circuit breaker around the dependency call"
  ],
  "confidence": 0.85,
  "debugging_queries": [
    "SELECT message, COUNT(*) FROM logs WHERE severity = 'ERROR' GROUP BY message ORDER BY 2 DESC LIMIT 10"
  ]
}` + "\n```"

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1beta/models/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}

		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		log.Printf("mock-llm: served analysis for %d content blocks", len(req.Contents))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{
					"content": map[string]any{
						"parts": []map[string]string{{"text": cannedAnalysis}},
					},
					"finishReason": "STOP",
				},
			},
		})
	})

	addr := ":9090"
	log.Printf("mock-llm listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
