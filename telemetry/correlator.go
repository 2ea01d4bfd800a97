// Package telemetry correlates editor accept/reject feedback with the
// suggestions that produced it and forwards the resulting events.
package telemetry

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/safemap"
)

// Record is the context retained for one suggestion until the editor reports
// what happened to it.
type Record struct {
	Suggestion ghostlet.Suggestion       `json:"completion"`
	Params     ghostlet.CompletionParams `json:"params"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// Correlator owns the correlation records, keyed by suggestion identity.
type Correlator struct {
	records *safemap.Map[uuid.UUID, Record]
	sink    Sink
	logger  *zap.SugaredLogger
}

// NewCorrelator creates a Correlator that reports consumed records to sink.
// Records not consumed within ttl are dropped; a zero ttl keeps them until
// they are accepted, rejected or their document is cleared.
func NewCorrelator(sink Sink, ttl time.Duration, logger *zap.SugaredLogger) *Correlator {
	if sink == nil {
		sink = Discard{}
	}
	opts := []safemap.Option[uuid.UUID, Record]{
		safemap.OnExpire(func(id uuid.UUID, rec Record) {
			logger.Debugw("Correlation record expired",
				"uuid", id,
				"uri", rec.Params.Doc.URI,
			)
		}),
	}
	if ttl > 0 {
		opts = append(opts, safemap.WithTTL[uuid.UUID, Record](ttl))
	}
	return &Correlator{
		records: safemap.New(opts...),
		sink:    sink,
		logger:  logger,
	}
}

// Close releases the record store.
func (c *Correlator) Close() {
	c.records.Close()
}

// Register stores one record per suggestion under the suggestion's identity.
func (c *Correlator) Register(suggestions []ghostlet.Suggestion, params ghostlet.CompletionParams) {
	now := time.Now()
	for _, s := range suggestions {
		c.records.Insert(s.UUID, Record{
			Suggestion: s,
			Params:     params,
			CreatedAt:  now,
		})
	}
}

// Accept consumes the record for id and emits an accepted event. An unknown
// or already consumed id is not an error: it returns false and emits nothing.
func (c *Correlator) Accept(id uuid.UUID) (Record, bool) {
	rec, ok := c.records.Remove(id)
	if !ok {
		c.logger.Debugw("Accept for unknown suggestion", "uuid", id)
		return Record{}, false
	}
	c.sink.Enqueue(newEvent(KindAccepted, id, rec))
	return rec, true
}

// Reject consumes the records for ids, skipping unknown ones, and emits one
// rejected event per record found.
func (c *Correlator) Reject(ids []uuid.UUID) []Record {
	var found []Record
	for _, id := range ids {
		rec, ok := c.records.Remove(id)
		if !ok {
			continue
		}
		found = append(found, rec)
		c.sink.Enqueue(newEvent(KindRejected, id, rec))
	}
	if len(found) < len(ids) {
		c.logger.Debugw("Reject skipped unknown suggestions",
			"requested", len(ids),
			"found", len(found),
		)
	}
	return found
}

// ClearDocument drops every record that originated from uri, without
// emitting events, and returns how many were dropped.
func (c *Correlator) ClearDocument(uri string) int {
	return len(c.records.RemoveFunc(func(_ uuid.UUID, rec Record) bool {
		return rec.Params.Doc.URI == uri
	}))
}

// Len reports the number of outstanding records.
func (c *Correlator) Len() int {
	return c.records.Len()
}
