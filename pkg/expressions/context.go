package expressions

import (
	"encoding/json"

	"github.com/Ramsey-B/fern/pkg/models"
)

// EventDocument is the JSON view of an event that expressions run against:
//
//	{"provider": ..., "type": ..., "external_id": ..., "tenant_id": ..., "payload": {...}}
//
// Values are normalized through JSON so numbers are float64 and times are strings.
func EventDocument(event *models.IntegrationEvent) (map[string]any, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
