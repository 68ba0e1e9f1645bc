package participant

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostMetadata(t *testing.T) {
	cases := []struct {
		desc       string
		configured map[string]string
		key        string
		value      string
	}{
		{desc: "probed host", key: "os", value: runtime.GOOS},
		{desc: "configured value wins", configured: map[string]string{"os": "rtos"}, key: "os", value: "rtos"},
		{desc: "configured value kept", configured: map[string]string{"site": "porto"}, key: "site", value: "porto"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			md := hostMetadata(context.Background(), tc.configured)
			assert.Equal(t, tc.value, md[tc.key])
			assert.Equal(t, runtime.GOARCH, md["arch"])
		})
	}
}

func TestUsageProbe(t *testing.T) {
	var nilProbe *usageProbe
	_, ok := nilProbe.sample(context.Background())
	assert.False(t, ok)

	u, ok := newUsageProbe().sample(context.Background())
	if !ok {
		t.Skip("process statistics unavailable")
	}
	assert.GreaterOrEqual(t, u.cpuSeconds, 0.0)
}
