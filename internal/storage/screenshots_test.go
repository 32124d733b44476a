package storage

import "testing"

func TestObjectKey(t *testing.T) {
	cases := []struct {
		projectID, filename string
		want                string
	}{
		{"proj-1", "header-issue.png", "proj-1/header-issue.png"},
		{"proj-1", "Header Issue", "proj-1/Header-Issue.png"},
		{"proj 2", "../../etc/passwd", "proj-2/etc-passwd.png"},
		{"proj-1", "", "proj-1/screenshot.png"},
		{"proj-1", "   ", "proj-1/screenshot.png"},
	}
	for _, tc := range cases {
		if got := ObjectKey(tc.projectID, tc.filename); got != tc.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tc.projectID, tc.filename, got, tc.want)
		}
	}
}
