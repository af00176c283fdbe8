package health

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"sleepcal/internal/model"
)

// sleepAnalysisType is the HealthKit record type carrying sleep stages.
const sleepAnalysisType = "HKCategoryTypeIdentifierSleepAnalysis"

// healthKitStages maps HealthKit category values onto the stage vocabulary
// used by Shortcuts payloads. Unlisted values pass through unchanged.
var healthKitStages = map[string]string{
	"HKCategoryValueSleepAnalysisAsleepCore":        "Core",
	"HKCategoryValueSleepAnalysisAsleepDeep":        "Deep",
	"HKCategoryValueSleepAnalysisAsleepREM":         "REM",
	"HKCategoryValueSleepAnalysisAwake":             "Awake",
	"HKCategoryValueSleepAnalysisInBed":             "InBed",
	"HKCategoryValueSleepAnalysisAsleepUnspecified": "Asleep",
	"HKCategoryValueSleepAnalysisAsleep":            "Asleep",
}

// ReadAppleHealthXML streams an Apple Health export.xml and returns the
// sleep-analysis records as raw samples. Other record types are ignored.
func ReadAppleHealthXML(r io.Reader) ([]model.RawSample, error) {
	dec := xml.NewDecoder(r)
	var out []model.RawSample

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read health export: %w", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Record" {
			continue
		}

		attrs := make(map[string]string, len(se.Attr))
		for _, a := range se.Attr {
			attrs[a.Name.Local] = a.Value
		}
		if attrs["type"] != sleepAnalysisType {
			continue
		}

		out = append(out, model.RawSample{
			"startDate":  attrs["startDate"],
			"endDate":    attrs["endDate"],
			"value":      healthKitStage(attrs["value"]),
			"sourceName": attrs["sourceName"],
			"device":     attrs["device"],
		})
	}

	return out, nil
}

func healthKitStage(v string) string {
	v = strings.TrimSpace(v)
	if s, ok := healthKitStages[v]; ok {
		return s
	}
	return v
}
