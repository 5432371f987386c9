package pipeline

import "github.com/docrefinery/server/internal/db"

// artifactFile names the on-disk filename and Content-Type for each
// artifact kind the export stage can produce.
var artifactFile = map[string]struct {
	name        string
	contentType string
}{
	db.ArtifactKindMarkdown:    {"document.md", "text/markdown"},
	db.ArtifactKindText:       {"document.txt", "text/plain"},
	db.ArtifactKindDoctags:    {"document.doctags", "application/xml"},
	db.ArtifactKindChunksJSON: {"chunks.json", "application/json"},
}
