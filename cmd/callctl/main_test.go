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

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecords = `[
  {"id": "c-1", "agent": "alice", "disposition": "Resolved", "initiation_timestamp": "2024-03-01T09:00:00Z",
   "call_duration": 120, "transcript": "customer asked about 205/55R16 tyres"},
  {"id": "c-2", "agent": "bob", "disposition": "Escalated", "initiation_timestamp": "2024-03-02T10:00:00Z",
   "call_duration": 300, "transcript": "delivery was late"},
  {"id": "c-3", "agent": "alice", "disposition": "Resolved", "initiation_timestamp": "2024-03-03T11:00:00Z",
   "call_duration": 60}
]`

func setupEnv(t *testing.T) (dir string) {
	t.Helper()
	for _, name := range []string{
		"CONFIG_PATH", "OPENAI_API_KEY", "OPENAI_ENDPOINT", "OPENAI_MODEL", "OPENAI_FALLBACK",
		"DATABASE_DRIVER", "REDIS_URL", "CACHE_BACKEND", "LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
	} {
		t.Setenv(name, "")
	}
	dir = t.TempDir()
	t.Setenv("DATABASE_URL", filepath.Join(dir, "calls.db"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func writeRecords(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "calls.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleRecords), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})

	names := make([]string, 0)
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"import", "stats", "ask"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("dsn"))
}

func TestArgumentValidation(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"import needs a file", []string{"import"}},
		{"ask needs a question", []string{"ask"}},
		{"ask takes one question", []string{"ask", "one", "two"}},
		{"stats takes no args", []string{"stats", "extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestImportAndStats(t *testing.T) {
	dir := setupEnv(t)
	path := writeRecords(t, dir)

	out, err := run(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 records")
	assert.Contains(t, out, "holds 3 calls")

	// importing again upserts
	out, err = run(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "holds 3 calls")

	out, err = run(t, "stats")
	require.NoError(t, err)

	var stats struct {
		Capped  bool `json:"capped"`
		Metrics struct {
			TotalCalls           int `json:"total_calls"`
			CallsWithTranscripts int `json:"calls_with_transcripts"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.False(t, stats.Capped)
	assert.Equal(t, 3, stats.Metrics.TotalCalls)
	assert.Equal(t, 2, stats.Metrics.CallsWithTranscripts)

	out, err = run(t, "stats", "--agent", "alice")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Metrics.TotalCalls)
}

func TestImportErrors(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, "import", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	_, err = run(t, "import", filepath.Join(dir, "calls.csv"))
	assert.Error(t, err)
}

func TestStatsInvalidWindow(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "stats", "--window", "fortnight")
	assert.Error(t, err)
}

func TestAskRequiresAPIKey(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "ask", "How many calls were resolved?")
	assert.Error(t, err)
}

func TestAsk(t *testing.T) {
	dir := setupEnv(t)
	path := writeRecords(t, dir)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Two of three calls were resolved."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 10, "total_tokens": 110}
		}`))
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test") // pragma: allowlist secret
	t.Setenv("OPENAI_ENDPOINT", server.URL)

	out, err := run(t, "ask", "How many calls were resolved?", "--records", path, "--metadata")
	require.NoError(t, err)
	assert.Contains(t, out, "Two of three calls were resolved.")
	assert.Contains(t, out, `"dataPoints": 3`)
	assert.Contains(t, out, `"tokensUsed": 110`)
}
