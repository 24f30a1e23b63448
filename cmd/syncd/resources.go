package main

import "github.com/tillworks/possync/internal/mapper"

// newRegistry declares the syncable resources. Priorities encode remote
// foreign-key dependencies: day logs must land before the shifts that
// reference them.
func newRegistry() (*mapper.Registry, error) {
	registry := mapper.NewRegistry()

	descriptors := []mapper.Descriptor{
		{
			Resource:        "sites",
			LocalTable:      "sites",
			KeyColumn:       "id",
			ConflictColumns: []string{"id"},
			Priority:        10,
		},
		{
			Resource:        "products",
			LocalTable:      "products",
			KeyColumn:       "barcode",
			ConflictColumns: []string{"barcode"},
			Priority:        10,
			Mapper:          mapper.FieldMapper{Columns: map[string]string{"department": "department_code"}},
		},
		{
			Resource:        "day_logs",
			LocalTable:      "day_logs",
			KeyColumn:       "id",
			ConflictColumns: []string{"id"},
			Priority:        20,
		},
		{
			Resource:        "shifts",
			LocalTable:      "shifts",
			KeyColumn:       "id",
			ConflictColumns: []string{"id"},
			Priority:        30,
		},
	}

	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
