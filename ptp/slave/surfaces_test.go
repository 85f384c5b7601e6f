/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package slave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/fabricnet/time/ptp/protocol"
)

func TestTxPoolAllocFree(t *testing.T) {
	p := newTxPool(2, ptp.DelayReqFrameSize)

	a, err := p.Alloc()
	require.NoError(t, err)
	require.Len(t, a, ptp.DelayReqFrameSize)
	b, err := p.Alloc()
	require.NoError(t, err)

	// pool is fixed-capacity, the third alloc fails instead of growing
	_, err = p.Alloc()
	require.ErrorIs(t, err, ErrPoolExhausted)

	p.Free(a)
	c, err := p.Alloc()
	require.NoError(t, err)
	assert.Len(t, c, ptp.DelayReqFrameSize)

	p.Free(b)
	p.Free(c)
}

func TestTxPoolFreeRestoresCapacity(t *testing.T) {
	p := newTxPool(1, 16)
	b, err := p.Alloc()
	require.NoError(t, err)
	// a shortened slice comes back at full size
	p.Free(b[:4])
	b, err = p.Alloc()
	require.NoError(t, err)
	require.Len(t, b, 16)
}

func TestSystemClockMonotonic(t *testing.T) {
	c := newSystemClock()
	m1 := c.MonoNS()
	m2 := c.MonoNS()
	require.LessOrEqual(t, m1, m2)
	require.NotZero(t, c.WallNS())
}

func TestFlowPatternString(t *testing.T) {
	assert.Equal(t, "VLAN_ANY_OUTER", FlowPatternVLANAnyOuter.String())
	assert.Equal(t, "VLAN_EXPLICIT_OUTER", FlowPatternVLANExplicitOuter.String())
	assert.Equal(t, "UNTAGGED", FlowPatternUntagged.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "LISTENING", StateListening.String())
	assert.Equal(t, "SYNC_RECEIVED", StateSyncReceived.String())
	assert.Equal(t, "DELAY_REQ_SENT", StateDelayReqSent.String())
	assert.Equal(t, "SYNCED", StateSynced.String())
	assert.Equal(t, "ERROR", StateError.String())
}
