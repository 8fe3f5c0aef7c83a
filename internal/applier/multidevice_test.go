package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDeviceMappingsSkipsUnresolvedReferences(t *testing.T) {
	known := map[string]string{"front": "sink-1"}
	mappings := []DeviceMapping{
		{ReceiverSinkName: "front", LeftChannel: 0, RightChannel: 1},
		{ReceiverSinkName: "rear", LeftChannel: 2, RightChannel: 3}, // unresolvable
	}

	out := ResolveDeviceMappings(mappings, known)

	require.Len(t, out, 1)
	assert.Equal(t, "front", out[0].ReceiverSinkName)
	assert.Equal(t, "sink-1", out[0].ReceiverSinkID)
}

func TestResolveDeviceMappingsEmptyInputReturnsEmpty(t *testing.T) {
	out := ResolveDeviceMappings(nil, map[string]string{"a": "b"})
	assert.Empty(t, out)
}

func TestResolveDeviceMappingsAllUnresolvedReturnsEmptyNotError(t *testing.T) {
	out := ResolveDeviceMappings([]DeviceMapping{{ReceiverSinkName: "ghost"}}, map[string]string{})
	assert.Empty(t, out)
}
