// Package boundary implements the dual-validation routing decision for
// every seam between two adjacent pipeline tiers: local when the tiers
// share a provider, remote when they do not.
package boundary

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
)

// Layer names one pipeline tier.
type Layer string

// Pipeline tiers.
const (
	LayerIngestion Layer = "l1"
	LayerCompute   Layer = "l2"
	LayerHot       Layer = "l3_hot"
	LayerCold      Layer = "l3_cold"
	LayerArchive   Layer = "l3_archive"
	LayerTwin      Layer = "l4"
)

// ID names a boundary between two tiers.
type ID string

// The boundaries of the pipeline. Write traffic flows the first five;
// the last is the read boundary toward twin management.
const (
	IngestToCompute ID = "l1_to_l2"
	ComputeToHot    ID = "l2_to_l3_hot"
	ComputeToTwin   ID = "l2_to_l4"
	HotToCold       ID = "l3_hot_to_l3_cold"
	ColdToArchive   ID = "l3_cold_to_l3_archive"
	HotToTwin       ID = "l3_hot_to_l4"
)

// sides maps each boundary to its source and target tiers.
var sides = map[ID][2]Layer{
	IngestToCompute: {LayerIngestion, LayerCompute},
	ComputeToHot:    {LayerCompute, LayerHot},
	ComputeToTwin:   {LayerCompute, LayerTwin},
	HotToCold:       {LayerHot, LayerCold},
	ColdToArchive:   {LayerCold, LayerArchive},
	HotToTwin:       {LayerHot, LayerTwin},
}

// Sides returns the source and target tiers of a boundary.
func Sides(id ID) (source, target Layer, err error) {
	s, ok := sides[id]
	if !ok {
		return "", "", errors.WrapConfig(errors.ErrInvalidConfig, "boundary", "Sides",
			fmt.Sprintf("unknown boundary %q", id))
	}
	return s[0], s[1], nil
}

// Endpoint is the sending side's view of a remote boundary: where to POST
// and which shared secret to present.
type Endpoint struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Connection is the provisioning-time record for one remote boundary,
// produced by the side that creates the receiving endpoint and consumed
// read-only by the sender.
type Connection struct {
	ConnectionID string `json:"connectionId"`
	URL          string `json:"url"`
	Token        string `json:"token"`
}

// ConnectionKey produces the registry key
// "{sourceProvider}_{sourceLayer}_to_{targetProvider}_{targetLayer}".
// Exactly one function produces this format so the hand-off with the
// provisioning layer cannot drift.
func ConnectionKey(sourceProvider envelope.Provider, sourceLayer Layer,
	targetProvider envelope.Provider, targetLayer Layer) string {
	return fmt.Sprintf("%s_%s_to_%s_%s", sourceProvider, sourceLayer, targetProvider, targetLayer)
}

// Detector decides, per boundary, whether the next hop is local or remote.
// It holds only deploy-time configuration and is safe for concurrent use;
// every decision is computed fresh so configuration changes between
// deployments take effect without code changes.
type Detector struct {
	providers map[Layer]envelope.Provider
	endpoints map[ID]Endpoint
	logger    *slog.Logger
}

// NewDetector builds a detector over the provider-assignment map and the
// per-boundary remote endpoints supplied by the deployment layer.
func NewDetector(providers map[Layer]envelope.Provider, endpoints map[ID]Endpoint, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if providers == nil {
		providers = map[Layer]envelope.Provider{}
	}
	if endpoints == nil {
		endpoints = map[ID]Endpoint{}
	}
	return &Detector{providers: providers, endpoints: endpoints, logger: logger}
}

// IsRemote performs the dual validation for one boundary:
//  1. no URL configured (after trimming) -> local;
//  2. a URL with a missing provider assignment on either side is a broken
//     deployment -> configuration error, never a silent "local";
//  3. URL configured but providers match -> warn, fail safe to local;
//  4. otherwise remote.
func (d *Detector) IsRemote(id ID) (bool, error) {
	source, target, err := Sides(id)
	if err != nil {
		return false, err
	}

	url := strings.TrimSpace(d.endpoints[id].URL)
	if url == "" {
		return false, nil
	}

	sourceProvider, err := d.ProviderOf(source)
	if err != nil {
		return false, errors.Wrap(err, "Detector", "IsRemote", string(id))
	}
	targetProvider, err := d.ProviderOf(target)
	if err != nil {
		return false, errors.Wrap(err, "Detector", "IsRemote", string(id))
	}

	if sourceProvider == targetProvider {
		d.logger.Warn("remote URL configured but boundary providers match, routing locally",
			"boundary", id,
			"provider", sourceProvider,
			"url", url)
		return false, nil
	}

	return true, nil
}

// ProviderOf resolves the provider assigned to a tier, failing when the
// assignment is missing rather than guessing.
func (d *Detector) ProviderOf(layer Layer) (envelope.Provider, error) {
	p, ok := d.providers[layer]
	if !ok || p == "" {
		return "", errors.WrapConfig(errors.ErrProviderUnassigned, "Detector", "ProviderOf", string(layer))
	}
	if !p.Valid() {
		return "", errors.WrapConfig(errors.ErrInvalidConfig, "Detector", "ProviderOf",
			fmt.Sprintf("layer %s has unsupported provider %q", layer, p))
	}
	return p, nil
}

// Endpoint returns the remote endpoint for a boundary. Callers that got
// IsRemote == true use this to address the relay call; a missing URL or
// token at that point is a configuration error raised before any network
// attempt.
func (d *Detector) Endpoint(id ID) (Endpoint, error) {
	ep := d.endpoints[id]
	ep.URL = strings.TrimSpace(ep.URL)
	if ep.URL == "" {
		return Endpoint{}, errors.WrapConfig(errors.ErrMissingURL, "Detector", "Endpoint", string(id))
	}
	if ep.Token == "" {
		return Endpoint{}, errors.WrapConfig(errors.ErrMissingToken, "Detector", "Endpoint", string(id))
	}
	return ep, nil
}
