// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache stores generated answers keyed on the question and the size
// of the record set it was asked against.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long an answer stays valid
	DefaultTTL = 10 * time.Minute
	// DefaultMaxEntries bounds the in-memory backend
	DefaultMaxEntries = 500
	keyPrefix         = "call-insights:response:"
)

// Entry is a cached answer
type Entry struct {
	Response         string    `json:"response"`
	Model            string    `json:"model"`
	TokensUsed       int       `json:"tokens_used"`
	QueryType        string    `json:"query_type"`
	ContextTruncated bool      `json:"context_truncated"`
	StoredAt         time.Time `json:"stored_at"`
}

// Cache is implemented by the memory and Redis backends
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry) error
}

// Key derives the cache key from the question, the intent it was answered
// as and the record count. Questions differing only in case or surrounding
// whitespace share a key.
func Key(question, queryType string, recordCount int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", normalized, queryType, recordCount)))
	return keyPrefix + hex.EncodeToString(sum[:])
}
