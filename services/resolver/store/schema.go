// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
)

// incidentReportClass is the schema for the report class. Vectors are
// supplied by the embedding service, never by a Weaviate vectorizer.
func incidentReportClass() *models.Class {
	text := []string{"text"}
	num := []string{"int"}
	geo := []string{"geoCoordinates"}

	return &models.Class{
		Class:       datatypes.IncidentReportClass,
		Description: "An ingested incident report with its resolved case identity",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "data_id", DataType: text, Description: "Unique report identifier"},
			{Name: "case_id", DataType: text, Description: "Assigned case identifier"},
			{Name: "case_name", DataType: text, Description: "Human-readable case name"},
			{Name: "category", DataType: text, Description: "Report category, e.g. BOM"},
			{Name: "content", DataType: text, Description: "Report text"},
			{Name: "created_at", DataType: text, Description: "Report time with zone offset"},
			{Name: "timestamp", DataType: num, Description: "Report time, unix seconds"},
			{Name: "location_code", DataType: text, Description: "Fixed-width location code used in the case ID"},
			{Name: "subdistrict_code", DataType: text},
			{Name: "district_code", DataType: text},
			{Name: "city_code", DataType: text},
			{Name: "province_code", DataType: text},
			{Name: "subdistrict_name", DataType: text},
			{Name: "district_name", DataType: text},
			{Name: "city_name", DataType: text},
			{Name: "province_name", DataType: text},
			{Name: "address", DataType: text},
			{Name: "coordinate", DataType: geo, Description: "Primary report coordinate"},
			{Name: "coordinate_subdistrict", DataType: geo},
			{Name: "coordinate_district", DataType: geo},
			{Name: "coordinate_city", DataType: geo},
			{Name: "coordinate_province", DataType: geo},
			{Name: "coordinate_country", DataType: geo},
			{Name: "payload", DataType: text, Description: "Opaque caller payload, JSON"},
			{Name: "processed_at", DataType: text},
		},
	}
}

// EnsureSchema creates the report class when it does not exist yet.
// Safe to call on every startup.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	existing, err := s.client.Schema().ClassGetter().
		WithClassName(datatypes.IncidentReportClass).
		Do(ctx)
	if err == nil && existing != nil {
		slog.Debug("weaviate class already exists",
			"class", datatypes.IncidentReportClass)
		return nil
	}

	if createErr := s.client.Schema().ClassCreator().
		WithClass(incidentReportClass()).
		Do(ctx); createErr != nil {
		return fmt.Errorf("failed to create class %s: %w",
			datatypes.IncidentReportClass, createErr)
	}

	slog.Info("created weaviate class", "class", datatypes.IncidentReportClass)
	return nil
}
