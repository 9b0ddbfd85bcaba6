package webapp

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"boostup-bot/internal/utils"
)

type authRequest struct {
	InitData string `json:"initData"`
}

// HandleAuth is mounted at POST /api/v1/webapp/auth. The client IP comes from
// the serving layer, never from the payload. Responses carry a verdict only,
// no balance or profile data.
func (a *Authenticator) HandleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitData == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	ip := utils.ClientIP(r)
	if ip == "" {
		http.Error(w, "Could not determine client IP", http.StatusBadRequest)
		return
	}

	if !a.Authenticate(r.Context(), req.InitData, ip) {
		http.Error(w, "Failed to process WebApp data", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "success"}); err != nil {
		log.Printf("Failed to write auth response: %v", err)
	}
}

// HandleHeartbeat reports liveness.
func HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
