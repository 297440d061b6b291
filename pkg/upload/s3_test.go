package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		runID  string
		rel    string
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "reports",
			runID:  "run-42",
			rel:    "abc-result.json",
			want:   "reports/run-42/abc-result.json",
		},
		{
			name:   "nested file",
			prefix: "reports",
			runID:  "run-42",
			rel:    "attachments/log.txt",
			want:   "reports/run-42/attachments/log.txt",
		},
		{
			name:   "slashes trimmed",
			prefix: "/ci/reports/",
			runID:  "run-42",
			rel:    "a.json",
			want:   "ci/reports/run-42/a.json",
		},
		{
			name:   "empty prefix",
			prefix: "",
			runID:  "run-42",
			rel:    "a.json",
			want:   "run-42/a.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runKey(tt.prefix, tt.runID, tt.rel))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "allure-results/abc-result.json",
			wantPrefix: "application/json",
		},
		{
			name:       "no extension",
			path:       "allure-results/executor",
			wantPrefix: "application/octet-stream",
		},
		{
			name:       "png attachment",
			path:       "allure-results/abc-attachment.png",
			wantPrefix: "image/png",
		},
		{
			name:       "txt file",
			path:       "allure-results/abc-attachment.txt",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detectContentType(tt.path)
			assert.Contains(t, got, tt.wantPrefix)
		})
	}
}
