// Package queue defines the work queue collaborator (§2.3) and its
// production (RabbitMQ) and dev (in-process channel) implementations.
package queue

import (
	"context"
	"encoding/json"

	"github.com/dcllabs/metamorph/internal/domain/converterrors"
	"github.com/dcllabs/metamorph/internal/domain/model"
)

// Job is the in-flight conversion job tuple (§3), serialized as JSON on
// the work queue.
type Job struct {
	Hash        string           `json:"Hash"`
	URL         string           `json:"URL"`
	ImageFormat model.ImageTarget `json:"ImageFormat"`
	VideoFormat model.VideoTarget `json:"VideoFormat"`
}

// Identity returns the conversion identity this job targets.
func (j Job) Identity() model.Identity {
	return model.Identity{Hash: j.Hash, ImageTarget: j.ImageFormat, VideoTarget: j.VideoFormat}
}

// Marshal serializes a job for the wire (§6 Work-queue message).
func (j Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob parses a wire message into a Job, returning
// converterrors.ErrMalformedJob on failure.
func UnmarshalJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, converterrors.ErrMalformedJob
	}
	return j, nil
}

// Queue is the interface usecases depend on. Dequeue blocks until a
// message is available or ctx is cancelled; implementations must delete
// the message from the backend before returning it (§4.2's accepted
// at-least-once tradeoff).
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}
