// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Message is a single chat turn exchanged with a completion service.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string `json:"role"`

	Content string `json:"content"`
}
