package handler

import (
	"strings"
	"testing"
)

func TestRenderMarkdownSanitizesOutput(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		contains    string
		notContains string
	}{
		{
			name:     "renders emphasis",
			content:  "每天 **30 分钟**",
			contains: "<strong>30 分钟</strong>",
		},
		{
			name:     "renders gfm strikethrough",
			content:  "~~放弃~~ 坚持",
			contains: "<del>放弃</del>",
		},
		{
			name:        "strips script tags",
			content:     "阅读 <script>alert(1)</script>",
			notContains: "<script>",
		},
		{
			name:        "strips inline event handlers",
			content:     `<a href="https://example.com" onclick="steal()">链接</a>`,
			notContains: "onclick",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderMarkdown(tt.content)
			if err != nil {
				t.Fatalf("renderMarkdown returned error: %v", err)
			}
			if tt.contains != "" && !strings.Contains(got, tt.contains) {
				t.Fatalf("expected output to contain %q, got %q", tt.contains, got)
			}
			if tt.notContains != "" && strings.Contains(got, tt.notContains) {
				t.Fatalf("expected output to omit %q, got %q", tt.notContains, got)
			}
		})
	}
}
