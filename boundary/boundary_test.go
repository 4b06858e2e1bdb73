package boundary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/cloudrelay/envelope"
	"github.com/c360/cloudrelay/errors"
)

func allLayers(p envelope.Provider) map[Layer]envelope.Provider {
	return map[Layer]envelope.Provider{
		LayerIngestion: p,
		LayerCompute:   p,
		LayerHot:       p,
		LayerCold:      p,
		LayerArchive:   p,
		LayerTwin:      p,
	}
}

func TestIsRemote_EmptyURLIsLocal(t *testing.T) {
	// URL absent or blank means local regardless of the provider map,
	// even when the map itself is empty.
	for _, url := range []string{"", "   ", "\t\n"} {
		d := NewDetector(nil, map[ID]Endpoint{
			IngestToCompute: {URL: url, Token: "secret"},
		}, nil)

		remote, err := d.IsRemote(IngestToCompute)
		require.NoError(t, err)
		assert.False(t, remote)
	}
}

func TestIsRemote_DifferentProviders(t *testing.T) {
	providers := allLayers(envelope.ProviderAWS)
	providers[LayerCompute] = envelope.ProviderAzure

	d := NewDetector(providers, map[ID]Endpoint{
		IngestToCompute: {URL: "https://ingest.example.net/relay", Token: "secret"},
	}, nil)

	remote, err := d.IsRemote(IngestToCompute)
	require.NoError(t, err)
	assert.True(t, remote)
}

func TestIsRemote_MatchingProvidersFailSafeToLocal(t *testing.T) {
	d := NewDetector(allLayers(envelope.ProviderGCP), map[ID]Endpoint{
		HotToCold: {URL: "https://cold.example.net/relay", Token: "secret"},
	}, nil)

	remote, err := d.IsRemote(HotToCold)
	require.NoError(t, err)
	assert.False(t, remote)
}

func TestIsRemote_MissingAssignmentWithURLIsConfigError(t *testing.T) {
	// A URL with no provider assigned to one side indicates a broken
	// deployment, never a valid "local" state.
	providers := map[Layer]envelope.Provider{LayerHot: envelope.ProviderAWS}

	d := NewDetector(providers, map[ID]Endpoint{
		HotToCold: {URL: "https://cold.example.net/relay", Token: "secret"},
	}, nil)

	_, err := d.IsRemote(HotToCold)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.ErrorIs(t, err, errors.ErrProviderUnassigned)
}

func TestIsRemote_UnknownBoundary(t *testing.T) {
	d := NewDetector(allLayers(envelope.ProviderAWS), nil, nil)
	_, err := d.IsRemote(ID("l9_to_l10"))
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestIsRemote_FreshPerInvocation(t *testing.T) {
	providers := allLayers(envelope.ProviderAWS)
	providers[LayerCold] = envelope.ProviderAzure
	endpoints := map[ID]Endpoint{
		HotToCold: {URL: "https://cold.example.net/relay", Token: "secret"},
	}

	d := NewDetector(providers, endpoints, nil)

	remote, err := d.IsRemote(HotToCold)
	require.NoError(t, err)
	assert.True(t, remote)

	// A redeployment that clears the URL must flip the decision without
	// any code change; the detector may not cache prior answers.
	endpoints[HotToCold] = Endpoint{}
	remote, err = d.IsRemote(HotToCold)
	require.NoError(t, err)
	assert.False(t, remote)
}

func TestEndpoint_MissingURLOrToken(t *testing.T) {
	d := NewDetector(allLayers(envelope.ProviderAWS), map[ID]Endpoint{
		ComputeToHot:  {URL: "https://hot.example.net/relay"},
		ComputeToTwin: {Token: "secret"},
	}, nil)

	_, err := d.Endpoint(ComputeToHot)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingToken)

	_, err = d.Endpoint(ComputeToTwin)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingURL)

	_, err = d.Endpoint(HotToCold)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingURL)
}

func TestProviderOf_InvalidProvider(t *testing.T) {
	d := NewDetector(map[Layer]envelope.Provider{
		LayerHot: envelope.Provider("banana-cloud"),
	}, nil, nil)

	_, err := d.ProviderOf(LayerHot)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}

func TestConnectionKey_Format(t *testing.T) {
	key := ConnectionKey(envelope.ProviderAWS, LayerCompute, envelope.ProviderAzure, LayerHot)
	assert.Equal(t, "aws_l2_to_azure_l3_hot", key)
}

func TestSides(t *testing.T) {
	source, target, err := Sides(ColdToArchive)
	require.NoError(t, err)
	assert.Equal(t, LayerCold, source)
	assert.Equal(t, LayerArchive, target)
}
