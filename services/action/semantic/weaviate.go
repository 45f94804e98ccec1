// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/matching"
)

// actionClass is the Weaviate class holding indexed actions.
const actionClass = "HarborAction"

// WeaviateIndex is the external vector backend. It delegates embedding to
// the Weaviate server's configured vectorizer and serves nearText queries.
// Implements matching.VectorSearch.
//
// Deployments choose this over EmbeddingIndex when the catalog is large
// enough that in-process warm-up at every boot is wasteful.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateIndex connects to a Weaviate instance.
func NewWeaviateIndex(host, scheme string, logger *slog.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("connecting to weaviate: %w", err)
	}
	return &WeaviateIndex{client: client, logger: logger}, nil
}

// EnsureSchema creates the action class if it does not exist yet.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(actionClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class %s: %w", actionClass, err)
	}
	if exists {
		return nil
	}
	class := &models.Class{
		Class: actionClass,
		Properties: []*models.Property{
			{Name: "actionId", DataType: []string{"text"}},
			{Name: "document", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating class %s: %w", actionClass, err)
	}
	w.logger.Info("Created weaviate class", "class", actionClass)
	return nil
}

// objectID derives a stable Weaviate object id from the action id, so
// re-indexing an action overwrites its previous object.
func objectID(actionID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(actionID)).String())
}

// IndexActions upserts one object per action in a single batch.
func (w *WeaviateIndex) IndexActions(ctx context.Context, actions []*datatypes.ActionDefinition) error {
	if len(actions) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(actions))
	for _, a := range actions {
		objects = append(objects, &models.Object{
			Class: actionClass,
			ID:    objectID(a.ID),
			Properties: map[string]any{
				"actionId": a.ID,
				"document": embeddingDoc(a),
			},
		})
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("indexing actions: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			w.logger.Warn("Failed to index action object",
				"object_id", obj.ID, "error", obj.Result.Errors.Error[0].Message)
		}
	}
	w.logger.Info("Indexed actions in weaviate", "count", len(objects))
	return nil
}

// RemoveAction deletes one action's object. Absent objects are a no-op.
func (w *WeaviateIndex) RemoveAction(ctx context.Context, actionID string) error {
	err := w.client.Data().Deleter().
		WithClassName(actionClass).
		WithID(string(objectID(actionID))).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("removing action %s: %w", actionID, err)
	}
	return nil
}

// SearchActions implements matching.VectorSearch via nearText certainty.
func (w *WeaviateIndex) SearchActions(ctx context.Context, text string, limit int) ([]matching.SemanticHit, error) {
	if limit <= 0 {
		limit = 10
	}
	nearText := w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{text})
	fields := []graphql.Field{
		{Name: "actionId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(actionClass).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query: %s", resp.Errors[0].Message)
	}

	return parseHits(resp.Data)
}

// parseHits unwraps the GraphQL response envelope into hits.
func parseHits(data map[string]models.JSONObject) ([]matching.SemanticHit, error) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("weaviate response missing Get block")
	}
	rows, ok := get[actionClass].([]any)
	if !ok {
		return nil, nil
	}

	hits := make([]matching.SemanticHit, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		actionID, _ := obj["actionId"].(string)
		if actionID == "" {
			continue
		}
		score := 0.0
		if add, ok := obj["_additional"].(map[string]any); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				score = certainty
			}
		}
		hits = append(hits, matching.SemanticHit{ActionID: actionID, Score: score})
	}
	return hits, nil
}
