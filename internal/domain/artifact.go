package domain

// Artifact is a file produced inside a run workspace. BaseName is the stem
// shared by every file derived from it ("<source>_<engine>_<timestamp>").
type Artifact struct {
	Path     string
	BaseName string
	Size     int64
	PlainSQL bool
}
