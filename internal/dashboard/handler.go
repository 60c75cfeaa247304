package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/ortler/ortler/internal/cache"
	"github.com/ortler/ortler/internal/daemon"
	"github.com/ortler/ortler/internal/syncer"
)

// statKinds are the record namespaces counted in dashboard statistics.
var statKinds = []cache.Kind{
	cache.KindProfile,
	cache.KindSubmission,
	cache.KindGroup,
	cache.KindAssignment,
	cache.KindAIReview,
	cache.KindTask,
}

// Handler bridges watcher events and sync reports to the WebSocket server,
// formatting them as dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	stats *StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats: &StatsData{
			ByKind: make(map[string]int),
		},
	}
}

// OnCacheEvents handles a debounced batch of cache record changes
func (h *Handler) OnCacheEvents(events []daemon.CacheEvent) {
	for _, e := range events {
		kind := string(e.Kind)
		if kind == "" {
			// Root-level aggregates like metadata.json.
			kind = "cache"
		}
		h.logger.Printf("Record %s: %s/%s", e.Op, kind, e.Key)

		data := RecordUpdateData{
			Kind:   kind,
			Key:    e.Key,
			Action: e.Op.String(),
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			h.logger.Printf("Failed to marshal record data: %v", err)
			continue
		}

		h.server.Broadcast(Message{
			Type:      MessageTypeRecordUpdate,
			Timestamp: time.Now(),
			Data:      dataJSON,
		})
	}
}

// OnSyncComplete handles sync run completion events
func (h *Handler) OnSyncComplete(report *syncer.Report) {
	duration := report.FinishedAt.Sub(report.StartedAt)
	h.logger.Printf("Sync complete: %d new, %d modified, %d profiles in %v",
		report.NewSubmissions, report.ModifiedSubmissions, report.ProfilesUpdated, duration)

	data := SyncCompleteData{
		Mode:                string(report.Mode),
		DryRun:              report.DryRun,
		NewSubmissions:      report.NewSubmissions,
		ModifiedSubmissions: report.ModifiedSubmissions,
		ProfilesUpdated:     report.ProfilesUpdated,
		ProfilesFailed:      report.ProfilesFailed,
		ReviewsCached:       report.ReviewsCached,
		Watermark:           report.Watermark,
		Duration:            duration,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	h.stats.Watermark = report.Watermark
	h.stats.SyncRuns++
	h.broadcastStats()
}

// OnExportComplete handles RDF export completion events
func (h *Handler) OnExportComplete(path string, bytes int, duration time.Duration) {
	h.logger.Printf("Export complete: %s (%d bytes in %v)", path, bytes, duration)

	data := ExportCompleteData{
		Path:     path,
		Bytes:    bytes,
		Duration: duration,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal export data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeExportComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// RefreshStats recounts the cache and broadcasts updated statistics.
// Useful for initialization and periodic refresh.
func (h *Handler) RefreshStats(store *cache.Store, syncRuns int) {
	byKind := make(map[string]int)
	total := 0
	for _, kind := range statKinds {
		keys, err := store.ListKeys(kind)
		if err != nil {
			h.logger.Printf("Failed to list %s records: %v", kind, err)
			continue
		}
		byKind[string(kind)] = len(keys)
		total += len(keys)
	}

	h.stats.ByKind = byKind
	h.stats.Total = total
	h.stats.SyncRuns = syncRuns
	if md, err := store.Metadata(); err == nil {
		h.stats.Watermark = md.LastUpdate
	}

	h.broadcastStats()
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	dataJSON, err := json.Marshal(h.stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	return *h.stats
}
