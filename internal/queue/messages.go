// ABOUTME: Message types published on NATS after a feed run
// ABOUTME: Defines the feed.updated notification carrying artifact location and counts

package queue

import (
	"time"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/pipeline"
)

// FeedUpdatedMessage announces a freshly written artifact.
type FeedUpdatedMessage struct {
	// Run ID for correlation with logs and history.
	RunID string `json:"run_id"`

	// Feed name, e.g. "threatfox".
	Feed string `json:"feed"`

	// Output shape of the artifact ("raw" or "ip-port").
	Shape string `json:"shape"`

	// Artifact location and digest.
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`

	// Number of records written.
	Records int `json:"records"`

	// Rows dropped and duplicates removed during the run.
	RowsDropped int `json:"rows_dropped"`
	Duplicates  int `json:"duplicates"`

	// Collection date stamped on ip/port records.
	CollectedAt string `json:"collected_at,omitempty"`

	// Timestamp the run finished.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFeedUpdatedMessage builds the notification for a successful run.
func NewFeedUpdatedMessage(r *pipeline.Result) FeedUpdatedMessage {
	msg := FeedUpdatedMessage{
		RunID:       r.RunID,
		Feed:        r.Feed,
		Shape:       r.Shape.String(),
		Records:     r.Stats.Records,
		RowsDropped: r.Stats.RowsDropped,
		Duplicates:  r.Stats.Duplicates,
		CollectedAt: r.CollectedAt,
		UpdatedAt:   r.FinishedAt.UTC(),
	}

	if r.Artifact != nil {
		msg.Path = r.Artifact.Path
		msg.SHA256 = r.Artifact.SHA256
		msg.Bytes = r.Artifact.Bytes
		msg.Records = r.Artifact.Records
	}

	return msg
}
