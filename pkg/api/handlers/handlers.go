package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/gorilla/mux"
)

// Source is the read side of a running game.
type Source interface {
	Status() inference.Status
	Snapshot(scope attributes.Namespace) inference.WorldSnapshot
	Running() bool
}

// Saver writes the running game to a save slot.
type Saver interface {
	Save(ctx context.Context, path string) error
}

type statusResponse struct {
	inference.Status
	Running bool `json:"running"`
}

var slotRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func HandleStatus(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, statusResponse{Status: src.Status(), Running: src.Running()})
	}
}

// HandleSnapshot serves every store, or one store when the route carries a
// namespace variable.
func HandleSnapshot(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := inference.ScopeAll
		if name, ok := mux.Vars(r)["namespace"]; ok {
			ns, err := attributes.ParseNamespace(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			scope = ns
		}
		writeJSON(w, src.Snapshot(scope))
	}
}

func HandleListSaves(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		saves, err := repository.ListGames(r.Context())
		if err != nil {
			log.Error("failed to list saves: %v", err)
			http.Error(w, "Failed to list saves", http.StatusInternalServerError)
			return
		}
		writeJSON(w, saves)
	}
}

func HandleCreateSave(saver Saver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot := r.FormValue("slot")
		if slot != "" && (!slotRegex.MatchString(slot) || strings.Trim(slot, ".") == "") {
			http.Error(w, "Slot cannot contain special characters", http.StatusBadRequest)
			return
		}
		if err := saver.Save(r.Context(), slot); err != nil {
			log.Error("failed to save game: %v", err)
			http.Error(w, "Failed to save game", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
