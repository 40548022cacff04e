// Package repository persists diagnosis records. Both stores keep the full
// record as a JSON document next to the columns used for filtering.
package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

func encodeRecord(record *domain.CombinedDiagnosis) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding diagnosis document: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*domain.CombinedDiagnosis, error) {
	var record domain.CombinedDiagnosis
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding diagnosis document: %w", err)
	}
	return &record, nil
}

func statusStrings(statuses []domain.RecordStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a user filter into a contains-pattern with wildcards escaped.
func likePattern(filter string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(filter)) + "%"
}

func notFound(id string) error {
	return fmt.Errorf("diagnosis %s: %w", id, domain.ErrNotFound)
}
