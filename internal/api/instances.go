package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// instanceRecord is the public view of one exchange instance. Presence is
// inferred strictly from status-key existence: an expired key yields
// online=false with a null status, never a zero-valued one.
type instanceRecord struct {
	Exchange    string          `json:"exchange"`
	DisplayName string          `json:"display_name"`
	Online      bool            `json:"online"`
	Status      *instanceStatus `json:"status"`
}

type instanceStatus struct {
	State         string `json:"state"`
	SymbolCount   int    `json:"symbol_count"`
	LastHeartbeat string `json:"last_heartbeat"`
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	exchanges, err := s.db.ActiveExchanges(r.Context())
	if err != nil {
		log.Warn().Str("component", "api").Err(err).Msg("exchanges query failed")
		writeError(w, http.StatusInternalServerError, "internal", "exchanges query failed")
		return
	}

	records := make([]instanceRecord, 0, len(exchanges))
	for _, ex := range exchanges {
		rec := instanceRecord{
			Exchange:    ex.Name,
			DisplayName: ex.DisplayName,
		}
		st, err := s.cache.ReadInstanceStatus(r.Context(), ex.ID)
		if err != nil {
			log.Warn().Str("component", "api").Err(err).Msg("status read failed")
			writeError(w, http.StatusInternalServerError, "internal", "status read failed")
			return
		}
		if st != nil {
			rec.Online = true
			rec.Status = &instanceStatus{
				State:         string(st.ConnectionState),
				SymbolCount:   st.SymbolCount,
				LastHeartbeat: st.LastHeartbeat.UTC().Format(time.RFC3339),
			}
		}
		records = append(records, rec)
	}
	writeData(w, records, &meta{Count: len(records)})
}
