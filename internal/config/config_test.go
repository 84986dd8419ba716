package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_EmptyStringYieldsDefaults(t *testing.T) {
	c := Parse("")
	require.True(t, c.Enabled())
	require.Equal(t, 1.0, c.SamplingRate())
	require.True(t, c.ObservesDBType("mysql"))
	require.True(t, c.ObservesDBType("postgresql"))
	require.True(t, c.ObservesDBType("h2"))
	require.True(t, c.MaskSQLParams())
	require.EqualValues(t, 1000, c.SlowQueryThresholdMs())
	require.EqualValues(t, 5000, c.LongTxThresholdMs())
	require.Equal(t, CollectorComposite, c.CollectorKind())
	require.False(t, c.SafeMode())
	require.Equal(t, 10000, c.QueueCapacity())
}

func TestParse_OverridesRecognizedKeys(t *testing.T) {
	c := Parse("enabled=false,sampling-rate=0.5,db-types=mysql;oracle,mask-sql-params=false," +
		"slow-query-threshold-ms=250,long-tx-threshold-ms=2000,collector-kind=http," +
		"collector-endpoint=http://collector:9000/events,safe-mode=true,queue-capacity=500")

	require.False(t, c.Enabled())
	require.Equal(t, 0.5, c.SamplingRate())
	require.True(t, c.ObservesDBType("mysql"))
	require.True(t, c.ObservesDBType("oracle"))
	require.False(t, c.ObservesDBType("postgresql"))
	require.False(t, c.MaskSQLParams())
	require.EqualValues(t, 250, c.SlowQueryThresholdMs())
	require.EqualValues(t, 2000, c.LongTxThresholdMs())
	require.Equal(t, CollectorHTTP, c.CollectorKind())
	require.Equal(t, "http://collector:9000/events", c.CollectorEndpoint())
	require.True(t, c.SafeMode())
	require.Equal(t, 500, c.QueueCapacity())
}

func TestParse_InvalidValuesFallBackToDefault(t *testing.T) {
	c := Parse("sampling-rate=2.5,slow-query-threshold-ms=-1,collector-kind=carrier-pigeon,queue-capacity=0")

	require.Equal(t, 1.0, c.SamplingRate())
	require.EqualValues(t, 1000, c.SlowQueryThresholdMs())
	require.Equal(t, CollectorComposite, c.CollectorKind())
	require.Equal(t, 10000, c.QueueCapacity())
}

func TestParse_UnrecognizedKeyIsIgnoredNotFatal(t *testing.T) {
	require.NotPanics(t, func() {
		c := Parse("not-a-real-option=true,enabled=true")
		require.True(t, c.Enabled())
	})
}

func TestParse_NeverFails(t *testing.T) {
	require.NotPanics(t, func() {
		Parse(",,,===,,key=,=value,,")
	})
}

func TestParse_DBTypesLookupIsCaseInsensitive(t *testing.T) {
	c := Parse("db-types=MySQL")
	require.True(t, c.ObservesDBType("mysql"))
	require.True(t, c.ObservesDBType("MYSQL"))
}

func TestParse_CollectorEndpointClearedWhenEmpty(t *testing.T) {
	c := Parse("collector-endpoint=")
	require.Equal(t, "", c.CollectorEndpoint())
}
