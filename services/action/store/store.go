// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the action catalog.
package store

import (
	"context"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// ActionStore is the catalog persistence contract.
//
// Lookups return (nil, nil), or an empty slice, for absent entries; the
// error return is reserved for storage faults.
type ActionStore interface {
	FindByID(ctx context.Context, id string) (*datatypes.ActionDefinition, error)
	FindByName(ctx context.Context, name string) (*datatypes.ActionDefinition, error)
	FindAll(ctx context.Context) ([]*datatypes.ActionDefinition, error)
	FindByCategory(ctx context.Context, category string) ([]*datatypes.ActionDefinition, error)
	FindByTag(ctx context.Context, tag string) ([]*datatypes.ActionDefinition, error)
	ListEnabled(ctx context.Context) ([]*datatypes.ActionDefinition, error)

	Save(ctx context.Context, action *datatypes.ActionDefinition) error
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)
	Categories(ctx context.Context) ([]string, error)
	Tags(ctx context.Context) ([]string, error)
}
