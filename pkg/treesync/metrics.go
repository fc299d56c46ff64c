package treesync

import (
	"sync/atomic"
	"time"

	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// Metrics defines the interface for collecting and reporting synchronization statistics.
type Metrics interface {
	AddFilesCopied(n int64)
	AddBytesTransferred(n int64)
	AddDirsCreated(n int64)
	AddDeletesPropagated(n int64)
	AddResurrections(n int64)
	AddTombstonesDropped(n int64)
	AddTypeConflicts(n int64)
	AddEntriesExcluded(n int64)
	AddEntriesProcessed(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// SyncMetrics holds the atomic counters for tracking the sync operation's progress.
// It is the concrete implementation of the Metrics interface.
type SyncMetrics struct {
	FilesCopied       atomic.Int64
	BytesTransferred  atomic.Int64
	DirsCreated       atomic.Int64
	DeletesPropagated atomic.Int64
	Resurrections     atomic.Int64
	TombstonesDropped atomic.Int64
	TypeConflicts     atomic.Int64
	EntriesExcluded   atomic.Int64
	EntriesProcessed  atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func (m *SyncMetrics) AddFilesCopied(n int64)       { m.FilesCopied.Add(n) }
func (m *SyncMetrics) AddBytesTransferred(n int64)  { m.BytesTransferred.Add(n) }
func (m *SyncMetrics) AddDirsCreated(n int64)       { m.DirsCreated.Add(n) }
func (m *SyncMetrics) AddDeletesPropagated(n int64) { m.DeletesPropagated.Add(n) }
func (m *SyncMetrics) AddResurrections(n int64)     { m.Resurrections.Add(n) }
func (m *SyncMetrics) AddTombstonesDropped(n int64) { m.TombstonesDropped.Add(n) }
func (m *SyncMetrics) AddTypeConflicts(n int64)     { m.TypeConflicts.Add(n) }
func (m *SyncMetrics) AddEntriesExcluded(n int64)   { m.EntriesExcluded.Add(n) }
func (m *SyncMetrics) AddEntriesProcessed(n int64)  { m.EntriesProcessed.Add(n) }

func (m *SyncMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *SyncMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
	}
}

// LogSummary prints a summary of the sync operation with a custom message.
// This can be called by a background ticker or at the end of the run.
func (m *SyncMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	rlog.Info(msg,
		"entries_processed", m.EntriesProcessed.Load(),
		"entries_excluded", m.EntriesExcluded.Load(),
		"bytes_transferred", util.ByteCountIEC(m.BytesTransferred.Load()),
		"files_copied", m.FilesCopied.Load(),
		"dirs_created", m.DirsCreated.Load(),
		"deletes_propagated", m.DeletesPropagated.Load(),
		"resurrections", m.Resurrections.Load(),
		"tombstones_dropped", m.TombstonesDropped.Load(),
		"type_conflicts", m.TypeConflicts.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
// It can be used to disable metrics collection without changing the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesCopied(n int64)                           {}
func (m *NoopMetrics) AddBytesTransferred(n int64)                      {}
func (m *NoopMetrics) AddDirsCreated(n int64)                           {}
func (m *NoopMetrics) AddDeletesPropagated(n int64)                     {}
func (m *NoopMetrics) AddResurrections(n int64)                         {}
func (m *NoopMetrics) AddTombstonesDropped(n int64)                     {}
func (m *NoopMetrics) AddTypeConflicts(n int64)                         {}
func (m *NoopMetrics) AddEntriesExcluded(n int64)                       {}
func (m *NoopMetrics) AddEntriesProcessed(n int64)                      {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var (
	_ Metrics = (*SyncMetrics)(nil)
	_ Metrics = (*NoopMetrics)(nil)
)
