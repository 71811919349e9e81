package form990

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mauv0809/rmef-warehouse/internal/artifact"
	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// EncodeRecords renders records as the indented JSON artifact format.
// Program names keep their literal "&".
func EncodeRecords(records []models.Form990Record) ([]byte, error) {
	if records == nil {
		records = []models.Form990Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode form 990 records: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveRecords writes records under key.
func SaveRecords(ctx context.Context, store artifact.Store, key string, records []models.Form990Record) error {
	data, err := EncodeRecords(records)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save form 990 records: %w", err)
	}
	return nil
}

// LoadRecords reads records saved by SaveRecords.
func LoadRecords(ctx context.Context, store artifact.Store, key string) ([]models.Form990Record, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load form 990 records: %w", err)
	}
	var records []models.Form990Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode form 990 records from %s: %w", key, err)
	}
	return records, nil
}
