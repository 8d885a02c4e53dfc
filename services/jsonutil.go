package services

import (
	"encoding/json"

	"mention-engine/models"
)

func stateDataToJSONMap(d models.CircuitBreakerStateData) (models.JSONMap, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	m := models.JSONMap{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func jsonMapToStateData(m models.JSONMap) (models.CircuitBreakerStateData, error) {
	var d models.CircuitBreakerStateData
	b, err := json.Marshal(m)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return d, err
	}
	return d, nil
}
