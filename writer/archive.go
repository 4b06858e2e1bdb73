package writer

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/relay"
	"github.com/c360/cloudrelay/store"
)

// stagingTTL bounds how long an incomplete assembly may sit idle before
// it is evicted, so an abandoned transfer cannot pin memory forever.
const stagingTTL = 15 * time.Minute

// Part is one piece of a multipart archive transfer. Objects small
// enough to fit a single relay call travel as PartCount == 1. Data is
// base64 on the wire via encoding/json.
type Part struct {
	ObjectKey string `json:"objectKey"`
	PartIndex int    `json:"partIndex"`
	PartCount int    `json:"partCount"`
	Data      []byte `json:"data"`
}

// Validate checks the part's framing fields.
func (p Part) Validate() error {
	if p.ObjectKey == "" {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "Part.Validate", "objectKey is required")
	}
	if p.PartCount < 1 {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "Part.Validate", "partCount must be positive")
	}
	if p.PartIndex < 0 || p.PartIndex >= p.PartCount {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "Part.Validate",
			fmt.Sprintf("partIndex %d out of range for %d parts", p.PartIndex, p.PartCount))
	}
	if len(p.Data) == 0 {
		return errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "Part.Validate", "empty part data")
	}
	return nil
}

// assembly holds staged parts for one object key.
type assembly struct {
	count   int
	parts   map[int][]byte
	touched time.Time
}

// Archive writes relayed objects into the archive store, reassembling
// multipart transfers. Staged parts live in memory; a restart drops
// them, an assembly idle past stagingTTL is evicted, and in both cases
// the sender's retry re-stages from scratch.
type Archive struct {
	objects store.ObjectStore
	logger  *slog.Logger
	clock   clock.Clock

	mu      sync.Mutex
	staging map[string]*assembly
}

// NewArchive creates the archive-tier writer.
func NewArchive(objects store.ObjectStore, logger *slog.Logger) (*Archive, error) {
	if objects == nil {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "writer", "NewArchive", "object store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		objects: objects,
		logger:  logger,
		clock:   clock.New(),
		staging: make(map[string]*assembly),
	}, nil
}

// HTTPHandler mounts the writer behind the shared relay endpoint.
func (a *Archive) HTTPHandler(token string) http.HandlerFunc {
	return relay.Endpoint("writer.archive", token, relay.DefaultMaxBodyBytes, a.logger, a.handle)
}

// handle stages one part. When the arriving part completes the set the
// object is assembled and written in a single put; the final part of an
// incomplete set is rejected so a partial object can never be written.
func (a *Archive) handle(r *http.Request, env *envelope.Envelope) (any, error) {
	var part Part
	if err := env.DecodePayload(&part); err != nil {
		return nil, err
	}
	if err := part.Validate(); err != nil {
		return nil, err
	}

	if part.PartCount == 1 {
		if err := a.objects.Put(r.Context(), part.ObjectKey, part.Data); err != nil {
			return nil, err
		}
		return map[string]string{"status": "stored", "key": part.ObjectKey}, nil
	}

	data, complete, err := a.stage(part)
	if err != nil {
		return nil, err
	}
	if !complete {
		return map[string]any{"status": "staged", "key": part.ObjectKey, "partIndex": part.PartIndex}, nil
	}

	// A failed put drops the staging entry with the assembly; the sender
	// re-sends all parts on retry.
	if err := a.objects.Put(r.Context(), part.ObjectKey, data); err != nil {
		return nil, err
	}

	a.logger.Debug("archive object assembled",
		"key", part.ObjectKey,
		"parts", part.PartCount,
		"bytes", len(data),
		"traceId", env.TraceID)
	return map[string]string{"status": "stored", "key": part.ObjectKey}, nil
}

// stage records one part idempotently. It returns the assembled object
// once every part is present, removing the staging entry.
func (a *Archive) stage(part Part) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.dropStale(now)

	entry, ok := a.staging[part.ObjectKey]
	if !ok {
		entry = &assembly{count: part.PartCount, parts: make(map[int][]byte)}
		a.staging[part.ObjectKey] = entry
	}
	if entry.count != part.PartCount {
		return nil, false, errors.WrapInvalid(errors.ErrMalformedPayload, "writer", "stage",
			fmt.Sprintf("part count changed from %d to %d for %s", entry.count, part.PartCount, part.ObjectKey))
	}
	entry.parts[part.PartIndex] = part.Data
	entry.touched = now

	if len(entry.parts) < entry.count {
		if part.PartIndex == part.PartCount-1 {
			// The sender believes the transfer is done but parts are
			// missing. Reject instead of writing a partial object.
			return nil, false, errors.WrapInvalid(errors.ErrIncompleteAssembly, "writer", "stage", part.ObjectKey)
		}
		return nil, false, nil
	}

	var buf bytes.Buffer
	for i := range entry.count {
		buf.Write(entry.parts[i])
	}
	delete(a.staging, part.ObjectKey)
	return buf.Bytes(), true, nil
}

// dropStale evicts assemblies idle longer than stagingTTL. Caller holds mu.
func (a *Archive) dropStale(now time.Time) {
	for key, entry := range a.staging {
		if now.Sub(entry.touched) > stagingTTL {
			delete(a.staging, key)
			a.logger.Warn("dropping stale multipart assembly",
				"key", key,
				"staged_parts", len(entry.parts),
				"part_count", entry.count)
		}
	}
}
