// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCases/services/resolver/handlers"
)

// Service bundles everything the route table needs.
type Service interface {
	handlers.CaseResolver
	handlers.SimilaritySearcher
	handlers.LatestReporter
	handlers.CaseReportLister
	handlers.TunablesSource
}

// SetupRoutes registers every endpoint of the case resolver.
func SetupRoutes(router *gin.Engine, svc Service) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		cases := v1.Group("/cases")
		{
			cases.POST("/resolve", handlers.ResolveCase(svc, svc))
			cases.POST("/resolve/async", handlers.ResolveCaseAsync(svc, svc))
			cases.GET("/similar", handlers.SimilarCases(svc))
			cases.GET("/:case_id/reports", handlers.CaseReports(svc))
		}
		v1.POST("/reports/latest", handlers.LatestReport(svc))
	}
}
