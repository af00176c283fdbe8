package health

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportXML = `<?xml version="1.0" encoding="UTF-8"?>
<HealthData locale="en_US">
 <Record type="HKQuantityTypeIdentifierStepCount" sourceName="Phone" startDate="2024-01-10 08:00:00 -0800" endDate="2024-01-10 08:10:00 -0800" value="120"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" startDate="2024-01-10 02:22:00 -0800" endDate="2024-01-10 02:56:00 -0800" value="HKCategoryValueSleepAnalysisAwake"/>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" startDate="2024-01-10 02:56:00 -0800" endDate="2024-01-10 03:21:00 -0800" value="HKCategoryValueSleepAnalysisAsleepCore">
  <MetadataEntry key="HKTimeZone" value="America/Los_Angeles"/>
 </Record>
 <Record type="HKCategoryTypeIdentifierSleepAnalysis" sourceName="Watch" startDate="2024-01-10 03:21:00 -0800" endDate="2024-01-10 03:40:00 -0800" value="SomethingNew"/>
</HealthData>`

func TestReadAppleHealthXML(t *testing.T) {
	samples, err := ReadAppleHealthXML(strings.NewReader(exportXML))
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, "Awake", samples[0].String("value"))
	assert.Equal(t, "Core", samples[1].String("value"))
	assert.Equal(t, "SomethingNew", samples[2].String("value"))
	assert.Equal(t, "Watch", samples[1].String("sourceName"))
	assert.Equal(t, "2024-01-10 02:56:00 -0800", samples[1].String("startDate"))
}

func TestAppleHealthSamplesNormalize(t *testing.T) {
	la := mustLoad(t, "America/Los_Angeles")
	samples, err := ReadAppleHealthXML(strings.NewReader(exportXML))
	require.NoError(t, err)

	ivs, skipped := NormalizeAll(samples, la)
	assert.Zero(t, skipped)
	require.Len(t, ivs, 3)
	assert.Equal(t, 2, ivs[0].Start.Hour())
	assert.Equal(t, 22, ivs[0].Start.Minute())
}

func TestReadAppleHealthXMLTruncated(t *testing.T) {
	_, err := ReadAppleHealthXML(strings.NewReader(`<HealthData><Record type="x"`))
	assert.Error(t, err)
}
